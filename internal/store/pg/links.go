package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetLink(ctx context.Context, orgID, adapter, externalID string) (*core.ExternalLink, error) {
	const q = `
		SELECT org_id, entity_type, entity_id, adapter, external_id,
		       created_at, updated_at, last_processed_at, deleted_at
		  FROM external_links
		 WHERE org_id = $1 AND adapter = $2 AND external_id = $3 AND deleted_at IS NULL`
	var l core.ExternalLink
	err := s.pool.QueryRow(ctx, q, orgID, adapter, externalID).Scan(
		&l.OrgID, &l.EntityType, &l.EntityID, &l.Adapter, &l.ExternalID,
		&l.CreatedAt, &l.UpdatedAt, &l.LastProcessedAt, &l.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("link %s/%s/%s: %w", orgID, adapter, externalID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ExistingExternalIDs(ctx context.Context, orgID, adapter string) (map[string]struct{}, error) {
	const q = `
		SELECT external_id FROM external_links
		 WHERE org_id = $1 AND adapter = $2 AND deleted_at IS NULL`
	rows, err := s.pool.Query(ctx, q, orgID, adapter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *Store) UpsertLink(ctx context.Context, l *core.ExternalLink) error {
	if l.OrgID == "" || l.Adapter == "" || l.ExternalID == "" {
		return core.ErrInvalid
	}
	now := time.Now().UTC()
	const q = `
		INSERT INTO external_links (org_id, entity_type, entity_id, adapter, external_id,
		                            created_at, updated_at, last_processed_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6, NULL)
		ON CONFLICT (org_id, adapter, external_id) DO UPDATE SET
			entity_type       = EXCLUDED.entity_type,
			entity_id         = CASE WHEN EXCLUDED.entity_id <> '' THEN EXCLUDED.entity_id
			                         ELSE external_links.entity_id END,
			updated_at        = EXCLUDED.updated_at,
			last_processed_at = EXCLUDED.last_processed_at,
			deleted_at        = NULL`
	_, err := s.pool.Exec(ctx, q, l.OrgID, l.EntityType, l.EntityID, l.Adapter, l.ExternalID, now)
	return err
}

func (s *Store) SoftDeleteLink(ctx context.Context, orgID, adapter, externalID string) error {
	const q = `
		UPDATE external_links SET deleted_at = now()
		 WHERE org_id = $1 AND adapter = $2 AND external_id = $3 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, orgID, adapter, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context, orgID, adapter string, limit int) ([]core.ExternalLink, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
		SELECT org_id, entity_type, entity_id, adapter, external_id,
		       created_at, updated_at, last_processed_at, deleted_at
		  FROM external_links
		 WHERE org_id = $1 AND adapter = $2 AND deleted_at IS NULL
		 ORDER BY updated_at DESC
		 LIMIT $3`
	rows, err := s.pool.Query(ctx, q, orgID, adapter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.ExternalLink
	for rows.Next() {
		var l core.ExternalLink
		if err := rows.Scan(
			&l.OrgID, &l.EntityType, &l.EntityID, &l.Adapter, &l.ExternalID,
			&l.CreatedAt, &l.UpdatedAt, &l.LastProcessedAt, &l.DeletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
