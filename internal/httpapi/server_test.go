package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	cachemem "github.com/dropDatabas3/flocksync/internal/cache/memory"
	"github.com/dropDatabas3/flocksync/internal/mutation"
	"github.com/dropDatabas3/flocksync/internal/ratelimit"
	"github.com/dropDatabas3/flocksync/internal/store/memory"
	"github.com/dropDatabas3/flocksync/internal/webhook"
	"github.com/dropDatabas3/flocksync/internal/workflow"
	"github.com/golang-jwt/jwt/v5"
)

const adminSecret = "test-admin-secret"

type apiAdapter struct{}

func (apiAdapter) Name() string { return "stub" }

func (apiAdapter) Manifest() adapter.Manifest {
	return adapter.Manifest{
		RateWindowMillis:      1000,
		RateLimit:             1000,
		SignatureHeaderSHA256: "X-Webhook-Signature",
		SignatureHeaderSHA1:   "X-Webhooks-Authenticity",
		Entities:              []adapter.EntitySpec{{Name: "people", Path: "/v2/people"}},
	}
}

func (apiAdapter) Refresh(context.Context, string) (*adapter.TokenGrant, error) {
	return &adapter.TokenGrant{AccessToken: "at", ExpiresIn: 3600}, nil
}

func (apiAdapter) ListPage(context.Context, string, adapter.EntitySpec, string) (*adapter.Page, error) {
	return &adapter.Page{Entities: []adapter.Entity{{ID: "p1", Type: "Person"}}}, nil
}

func (apiAdapter) Push(context.Context, string, mutation.CRUDOp) error { return nil }

func (apiAdapter) OrgFromWebhook(context.Context, []byte) (string, error) { return "org1", nil }
func (apiAdapter) EntityFromWebhook([]byte) string                        { return "people" }

type apiTokens struct{}

func (apiTokens) AccessToken(context.Context, string, string) (string, error) { return "tok", nil }

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	reg := adapter.NewRegistry()
	if err := reg.Register(apiAdapter{}); err != nil {
		t.Fatal(err)
	}
	st := memory.New()
	engine := workflow.NewEngine(st, workflow.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, 5*time.Minute)
	orch := &workflow.Orchestrator{
		Engine:   engine,
		Registry: reg,
		Store:    st,
		Tokens:   apiTokens{},
		Limiter:  ratelimit.New(ratelimit.NewMemoryCounterStore(), 500*time.Millisecond),
		Buckets:  ratelimit.NewBuckets(cachemem.New(time.Minute)),
	}
	if err := orch.RegisterBuckets(); err != nil {
		t.Fatal(err)
	}
	disp := &webhook.Dispatcher{
		Verifier:     &webhook.Verifier{Store: st},
		Registry:     reg,
		Engine:       engine,
		Store:        st,
		Puller:       orch,
		BootstrapKey: "bootstrap",
	}
	return &Server{
		Addr:         ":0",
		Dispatcher:   disp,
		Orchestrator: orch,
		Store:        st,
		AdminSecret:  adminSecret,
	}, st
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doReq(t *testing.T, h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doReq(t, s.Router(), http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doReq(t, s.Router(), http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	if rec := doReq(t, h, http.MethodGet, "/v1/admin/links?org_id=o&adapter=stub", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	signed, _ := bad.SignedString([]byte("wrong-secret"))
	if rec := doReq(t, h, http.MethodGet, "/v1/admin/links?org_id=o&adapter=stub", signed, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", rec.Code)
	}
}

func TestAdmin_WebhookConfigThenSignedDelivery(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	tok := adminToken(t)

	rec := doReq(t, h, http.MethodPut, "/v1/admin/webhooks/stub", tok,
		`{"org_id":"org1","authenticity_secret":"s3cret","verification_method":"hmac-sha256","enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("config = %d: %s", rec.Code, rec.Body)
	}

	body := `{"data":{"id":"evt1"}}`
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stub", bytes.NewReader([]byte(body)))
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	wrec := httptest.NewRecorder()
	h.ServeHTTP(wrec, req)
	if wrec.Code != http.StatusOK {
		t.Fatalf("signed webhook = %d: %s", wrec.Code, wrec.Body)
	}

	// Sin firma: rechazado.
	if rec := doReq(t, h, http.MethodPost, "/webhooks/stub", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook = %d, want 401", rec.Code)
	}
}

func TestAdmin_PushValidatesBody(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doReq(t, s.Router(), http.MethodPost, "/v1/admin/push/stub", adminToken(t), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("push without org_id = %d, want 400", rec.Code)
	}
}

func TestAdmin_SyncUnknownAdapter(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doReq(t, s.Router(), http.MethodPost, "/v1/admin/sync/nope", adminToken(t), `{"org_id":"org1"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown adapter = %d, want 404", rec.Code)
	}
}
