// Package pco implementa el adapter de Planning Center Online sobre su
// superficie JSON:API.
package pco

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/mutation"
)

const Name = "pco"

// Presupuesto impuesto por PCO: 101 requests cada 20 segundos.
const (
	rateWindowMillis = 20_000
	rateLimit        = 101
)

type Config struct {
	ClientID      string
	ClientSecret  string
	BaseURL       string
	TokenEndpoint string
}

type Adapter struct {
	cfg    Config
	client *adapter.Client
}

func New(cfg Config, client *adapter.Client) *Adapter {
	if client == nil {
		client = adapter.NewClient(0)
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Manifest() adapter.Manifest {
	return adapter.Manifest{
		Entities: []adapter.EntitySpec{
			{
				Name: "people",
				Path: "/people/v2/people",
				Relationships: map[string]string{
					"primary_campus": "campus",
				},
			},
			{
				Name: "addresses",
				Path: "/people/v2/addresses",
				Relationships: map[string]string{
					"person": "person",
				},
			},
			{
				Name: "campuses",
				Path: "/people/v2/campuses",
			},
			{
				Name: "teams",
				Path: "/services/v2/teams",
				Relationships: map[string]string{
					"service_type": "service_type",
				},
			},
			{
				// Suscripciones webhook: las administra el flujo de alta,
				// no el bulk sync.
				Name:     "webhook_subscriptions",
				Path:     "/webhooks/v2/subscriptions",
				SkipSync: true,
			},
		},
		RateWindowMillis:      rateWindowMillis,
		RateLimit:             rateLimit,
		SignatureHeaderSHA256: "X-Webhook-Signature",
		SignatureHeaderSHA1:   "X-PCO-Webhooks-Authenticity",
	}
}

// Refresh canjea el refresh token. Form-encoded, como exige el endpoint.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*adapter.TokenGrant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pco: token endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &adapter.StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var grant adapter.TokenGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("pco: decode grant: %w", err)
	}
	return &grant, nil
}

// collectionDoc es el envelope JSON:API de una colección.
type collectionDoc struct {
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Data []adapter.Entity `json:"data"`
}

func (a *Adapter) ListPage(ctx context.Context, accessToken string, entity adapter.EntitySpec, pageURL string) (*adapter.Page, error) {
	u := pageURL
	if u == "" {
		u = strings.TrimRight(a.cfg.BaseURL, "/") + entity.Path
	}
	var doc collectionDoc
	if err := a.client.DoJSON(ctx, http.MethodGet, u, accessToken, nil, &doc); err != nil {
		return nil, err
	}
	return &adapter.Page{Entities: doc.Data, NextURL: doc.Links.Next}, nil
}

func (a *Adapter) Push(ctx context.Context, accessToken string, op mutation.CRUDOp) error {
	spec, ok := a.entityByName(op.TableName)
	if !ok {
		return fmt.Errorf("pco: entidad desconocida %q", op.TableName)
	}
	base := strings.TrimRight(a.cfg.BaseURL, "/") + spec.Path
	id := op.PrimaryKey["id"]

	// attributes = value sin el id (el id viaja en el path / data.id)
	attrs := make(map[string]any, len(op.Value))
	for k, v := range op.Value {
		if k != "id" {
			attrs[k] = v
		}
	}
	body := map[string]any{
		"data": map[string]any{
			"type":       spec.Name,
			"attributes": attrs,
		},
	}

	switch op.Op {
	case "create":
		return a.client.DoJSON(ctx, http.MethodPost, base, accessToken, body, nil)
	case "update":
		return a.client.DoJSON(ctx, http.MethodPatch, base+"/"+url.PathEscape(id), accessToken, body, nil)
	case "delete":
		return a.client.DoJSON(ctx, http.MethodDelete, base+"/"+url.PathEscape(id), accessToken, nil, nil)
	default:
		return fmt.Errorf("%w: %q", mutation.ErrUnsupportedOp, op.Op)
	}
}

func (a *Adapter) entityByName(name string) (adapter.EntitySpec, bool) {
	for _, e := range a.Manifest().Entities {
		if e.Name == name {
			return e, true
		}
	}
	return adapter.EntitySpec{}, false
}

// deliveryDoc es el envelope de un EventDelivery de webhooks de PCO.
type deliveryDoc struct {
	Data []struct {
		Attributes struct {
			Name           string `json:"name"`
			OrganizationID string `json:"organization_id"`
		} `json:"attributes"`
		Relationships struct {
			Organization struct {
				Data *adapter.RelData `json:"data"`
			} `json:"organization"`
		} `json:"relationships"`
	} `json:"data"`
}

func (a *Adapter) OrgFromWebhook(_ context.Context, payload []byte) (string, error) {
	var doc deliveryDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("pco: parse webhook payload: %w", err)
	}
	if len(doc.Data) == 0 {
		return "", fmt.Errorf("pco: webhook sin data")
	}
	d := doc.Data[0]
	if d.Relationships.Organization.Data != nil && d.Relationships.Organization.Data.ID != "" {
		return d.Relationships.Organization.Data.ID, nil
	}
	if d.Attributes.OrganizationID != "" {
		return d.Attributes.OrganizationID, nil
	}
	return "", fmt.Errorf("pco: webhook sin organization")
}

// eventEntity mapea el sustantivo del nombre de evento a la entidad canónica.
var eventEntity = map[string]string{
	"person":  "people",
	"address": "addresses",
	"campus":  "campuses",
	"team":    "teams",
}

// EntityFromWebhook: "people.v2.events.person.updated" → "people".
func (a *Adapter) EntityFromWebhook(payload []byte) string {
	var doc deliveryDoc
	if err := json.Unmarshal(payload, &doc); err != nil || len(doc.Data) == 0 {
		return ""
	}
	parts := strings.Split(doc.Data[0].Attributes.Name, ".")
	if len(parts) < 2 {
		return ""
	}
	noun := parts[len(parts)-2]
	return eventEntity[noun]
}
