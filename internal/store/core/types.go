package core

import (
	"encoding/json"
	"time"
)

// TokenState es el estado OAuth de un tenant frente a un adapter.
// CreatedAt + ExpiresIn segundos es la única fuente de verdad del expiry;
// sólo un refresh exitoso lo reemplaza. Este subsistema nunca lo borra.
type TokenState struct {
	TenantKey    string
	Adapter      string
	AccessToken  string
	RefreshToken string // cifrado en reposo (secretbox) por el adapter pg
	CreatedAt    time.Time
	ExpiresIn    int // segundos
}

// ExpiresAt calcula el instante de expiración.
func (t *TokenState) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ExternalLink mapea una entidad interna con su contraparte remota.
// Único por (org, adapter, external_id). Soft-delete, nunca hard-delete
// mientras esté referenciado.
type ExternalLink struct {
	OrgID           string
	EntityType      string
	EntityID        string
	Adapter         string
	ExternalID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastProcessedAt *time.Time
	DeletedAt       *time.Time
}

// WebhookConfig: una suscripción por tenant+adapter.
type WebhookConfig struct {
	OrgID              string
	Adapter            string
	AuthenticitySecret string
	// "hmac-sha256" | "hmac-sha1"
	VerificationMethod string
	Enabled            bool
	LastReceivedAt     *time.Time
	LastProcessedAt    *time.Time
}

// RunStatus es el estado de un workflow run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// WorkflowRun: ejecución durable identificada por idempotency key.
type WorkflowRun struct {
	RunKey    string
	Status    RunStatus
	Attempts  int
	LastError string
	StartedAt time.Time
	UpdatedAt time.Time
}

// MutationStatus es el estado de una mutación local pendiente de push.
type MutationStatus string

const (
	MutationPending  MutationStatus = "pending"
	MutationInFlight MutationStatus = "in_flight"
	MutationDone     MutationStatus = "done"
)

// PendingMutation es una fila del outbox: una mutación local esperando ser
// empujada al sistema externo.
type PendingMutation struct {
	ID      string
	OrgID   string
	Adapter string
	// Nombre estructurado "entity|operation".
	Name      string
	Args      json.RawMessage
	Status    MutationStatus
	CreatedAt time.Time
}
