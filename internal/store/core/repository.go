package core

import (
	"context"
	"time"
)

// TokenRepository: estado OAuth por tenant+adapter.
type TokenRepository interface {
	// GetToken retorna ErrNotFound si el tenant nunca autorizó el adapter.
	GetToken(ctx context.Context, tenantKey, adapter string) (*TokenState, error)
	// SaveToken reemplaza el estado atómicamente (upsert).
	SaveToken(ctx context.Context, ts *TokenState) error
}

// LinkRepository: mapeos entidad interna ↔ id externo.
type LinkRepository interface {
	GetLink(ctx context.Context, orgID, adapter, externalID string) (*ExternalLink, error)
	// ExistingExternalIDs es el índice que consulta el reconciler.
	ExistingExternalIDs(ctx context.Context, orgID, adapter string) (map[string]struct{}, error)
	// UpsertLink crea o toca (updated_at, last_processed_at) un link.
	UpsertLink(ctx context.Context, l *ExternalLink) error
	SoftDeleteLink(ctx context.Context, orgID, adapter, externalID string) error
	ListLinks(ctx context.Context, orgID, adapter string, limit int) ([]ExternalLink, error)
}

// WebhookRepository: suscripciones webhook por tenant+adapter.
type WebhookRepository interface {
	// ListEnabledWebhookConfigs lista sólo configs habilitadas del adapter.
	ListEnabledWebhookConfigs(ctx context.Context, adapter string) ([]WebhookConfig, error)
	UpsertWebhookConfig(ctx context.Context, wc *WebhookConfig) error
	TouchWebhookReceived(ctx context.Context, orgID, adapter string, at time.Time) error
	TouchWebhookProcessed(ctx context.Context, orgID, adapter string, at time.Time) error
}

// RunRepository: claims de idempotencia para workflow runs.
type RunRepository interface {
	// ClaimRun intenta insertar el run key. false ⇒ ya existe un run
	// (corriendo o efectivo) para esa key: el trigger duplicado es no-op.
	ClaimRun(ctx context.Context, runKey string) (bool, error)
	// FinishRun marca el run como done/failed. Un run failed libera la key
	// para un reintento posterior con otro time bucket.
	FinishRun(ctx context.Context, runKey string, status RunStatus, lastError string) error
}

// MutationRepository: outbox de mutaciones locales pendientes de push.
type MutationRepository interface {
	// EnqueueMutation agrega al outbox; ID vacío ⇒ se genera uno.
	EnqueueMutation(ctx context.Context, m *PendingMutation) error
	// ClaimPendingMutations pasa pending → in_flight y las devuelve.
	ClaimPendingMutations(ctx context.Context, orgID, adapter string) ([]PendingMutation, error)
	MarkMutationsDone(ctx context.Context, ids []string) error
	// ReleaseMutations devuelve in_flight → pending (compensación).
	ReleaseMutations(ctx context.Context, ids []string) error
}

// Store agrupa los repositorios que persiste el sync engine.
type Store interface {
	TokenRepository
	LinkRepository
	WebhookRepository
	RunRepository
	MutationRepository

	Ping(ctx context.Context) error
	Close()
}
