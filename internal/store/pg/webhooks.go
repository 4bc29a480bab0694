package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/flocksync/internal/store/core"
)

func (s *Store) ListEnabledWebhookConfigs(ctx context.Context, adapter string) ([]core.WebhookConfig, error) {
	const q = `
		SELECT org_id, adapter, authenticity_secret, verification_method,
		       enabled, last_received_at, last_processed_at
		  FROM webhook_configs
		 WHERE adapter = $1 AND enabled
		 ORDER BY org_id`
	rows, err := s.pool.Query(ctx, q, adapter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.WebhookConfig
	for rows.Next() {
		var wc core.WebhookConfig
		if err := rows.Scan(
			&wc.OrgID, &wc.Adapter, &wc.AuthenticitySecret, &wc.VerificationMethod,
			&wc.Enabled, &wc.LastReceivedAt, &wc.LastProcessedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertWebhookConfig(ctx context.Context, wc *core.WebhookConfig) error {
	if wc.OrgID == "" || wc.Adapter == "" {
		return core.ErrInvalid
	}
	const q = `
		INSERT INTO webhook_configs (org_id, adapter, authenticity_secret, verification_method, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, adapter) DO UPDATE SET
			authenticity_secret = EXCLUDED.authenticity_secret,
			verification_method = EXCLUDED.verification_method,
			enabled             = EXCLUDED.enabled`
	_, err := s.pool.Exec(ctx, q, wc.OrgID, wc.Adapter, wc.AuthenticitySecret, wc.VerificationMethod, wc.Enabled)
	return err
}

func (s *Store) TouchWebhookReceived(ctx context.Context, orgID, adapter string, at time.Time) error {
	return s.touchWebhook(ctx, "last_received_at", orgID, adapter, at)
}

func (s *Store) TouchWebhookProcessed(ctx context.Context, orgID, adapter string, at time.Time) error {
	return s.touchWebhook(ctx, "last_processed_at", orgID, adapter, at)
}

func (s *Store) touchWebhook(ctx context.Context, col, orgID, adapter string, at time.Time) error {
	// col viene de un set fijo interno, no de input externo
	q := `UPDATE webhook_configs SET ` + col + ` = $3 WHERE org_id = $1 AND adapter = $2`
	tag, err := s.pool.Exec(ctx, q, orgID, adapter, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
