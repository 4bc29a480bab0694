package pco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(baseURL, tokenEndpoint string) *Adapter {
	client := &adapter.Client{
		HTTP:              &http.Client{Timeout: 5 * time.Second},
		MaxAttempts:       1,
		RetryAfterDefault: time.Millisecond,
		ServerErrDelay:    time.Millisecond,
	}
	return New(Config{
		ClientID:      "cid",
		ClientSecret:  "csecret",
		BaseURL:       baseURL,
		TokenEndpoint: tokenEndpoint,
	}, client)
}

func TestManifest_Valid(t *testing.T) {
	a := testAdapter("", "")
	require.NoError(t, a.Manifest().Validate())

	var syncable int
	for _, e := range a.Manifest().Entities {
		if !e.SkipSync {
			syncable++
		}
	}
	assert.Equal(t, 4, syncable, "webhook_subscriptions queda fuera del bulk")
}

func TestListPage_FollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.RequestURI() {
		case "/people/v2/people":
			json.NewEncoder(w).Encode(map[string]any{
				"links": map[string]string{"next": srv.URL + "/people/v2/people?offset=25"},
				"data": []map[string]any{
					{"id": "1", "type": "Person", "attributes": map[string]any{"first_name": "Ana"}},
				},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "2", "type": "Person"}},
			})
		}
	}))
	defer srv.Close()

	a := testAdapter(srv.URL, "")
	spec := a.Manifest().Entities[0]

	page1, err := a.ListPage(context.Background(), "tok", spec, "")
	require.NoError(t, err)
	require.Len(t, page1.Entities, 1)
	assert.Equal(t, "1", page1.Entities[0].ID)
	require.NotEmpty(t, page1.NextURL)

	page2, err := a.ListPage(context.Background(), "tok", spec, page1.NextURL)
	require.NoError(t, err)
	require.Len(t, page2.Entities, 1)
	assert.Equal(t, "2", page2.Entities[0].ID)
	assert.Empty(t, page2.NextURL, "última página sin next")
}

func TestRefresh_FormEncodedGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "old-rt", r.PostForm.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-at",
			"refresh_token": "new-rt",
			"expires_in":    7200,
		})
	}))
	defer srv.Close()

	a := testAdapter("", srv.URL)
	grant, err := a.Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	assert.Equal(t, "new-at", grant.AccessToken)
	assert.Equal(t, "new-rt", grant.RefreshToken)
	assert.Equal(t, 7200, grant.ExpiresIn)
}

func TestRefresh_UpstreamErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := testAdapter("", srv.URL)
	_, err := a.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.True(t, adapter.IsAuthFailure(err))
}

func TestPush_VerbAndEnvelopePerOp(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]any
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.Path, body})
	}))
	defer srv.Close()

	a := testAdapter(srv.URL, "")
	ctx := context.Background()

	require.NoError(t, a.Push(ctx, "tok", mutation.CRUDOp{
		Op: "create", TableName: "people",
		PrimaryKey: map[string]string{"id": "p1"},
		Value:      map[string]any{"id": "p1", "first_name": "Ana"},
	}))
	require.NoError(t, a.Push(ctx, "tok", mutation.CRUDOp{
		Op: "update", TableName: "people",
		PrimaryKey: map[string]string{"id": "p1"},
		Value:      map[string]any{"id": "p1", "first_name": "Ana María"},
	}))
	require.NoError(t, a.Push(ctx, "tok", mutation.CRUDOp{
		Op: "delete", TableName: "people",
		PrimaryKey: map[string]string{"id": "p1"},
		Value:      map[string]any{"id": "p1"},
	}))

	require.Len(t, calls, 3)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/people/v2/people", calls[0].path)
	data := calls[0].body["data"].(map[string]any)
	assert.Equal(t, "people", data["type"])
	attrs := data["attributes"].(map[string]any)
	assert.Equal(t, "Ana", attrs["first_name"])
	assert.NotContains(t, attrs, "id", "el id no viaja en attributes")

	assert.Equal(t, http.MethodPatch, calls[1].method)
	assert.Equal(t, "/people/v2/people/p1", calls[1].path)

	assert.Equal(t, http.MethodDelete, calls[2].method)
	assert.Equal(t, "/people/v2/people/p1", calls[2].path)
}

func TestPush_UnknownEntity(t *testing.T) {
	a := testAdapter("http://unused", "")
	err := a.Push(context.Background(), "tok", mutation.CRUDOp{
		Op: "create", TableName: "ghosts",
		PrimaryKey: map[string]string{"id": "x"},
	})
	require.Error(t, err)
}

const deliveryPayload = `{
  "data": [{
    "attributes": {"name": "people.v2.events.person.updated", "payload": "{}"},
    "relationships": {"organization": {"data": {"type": "Organization", "id": "46838"}}}
  }]
}`

func TestOrgFromWebhook(t *testing.T) {
	a := testAdapter("", "")

	org, err := a.OrgFromWebhook(context.Background(), []byte(deliveryPayload))
	require.NoError(t, err)
	assert.Equal(t, "46838", org)

	// Fallback: organization_id en attributes.
	org, err = a.OrgFromWebhook(context.Background(), []byte(`{
	  "data": [{"attributes": {"name": "x.y", "organization_id": "99"}}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "99", org)

	_, err = a.OrgFromWebhook(context.Background(), []byte(`{"data": []}`))
	require.Error(t, err)
}

func TestEntityFromWebhook(t *testing.T) {
	a := testAdapter("", "")

	assert.Equal(t, "people", a.EntityFromWebhook([]byte(deliveryPayload)))
	assert.Equal(t, "", a.EntityFromWebhook([]byte(`{
	  "data": [{"attributes": {"name": "services.v2.events.plan.updated"}}]
	}`)), "sustantivo no mapeado")
	assert.Equal(t, "", a.EntityFromWebhook([]byte(`not json`)))
}
