package pg

import (
	"context"

	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/google/uuid"
)

func (s *Store) EnqueueMutation(ctx context.Context, m *core.PendingMutation) error {
	if m.Name == "" {
		return core.ErrInvalid
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO pending_mutations (id, org_id, adapter, name, args, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, m.ID, m.OrgID, m.Adapter, m.Name, m.Args)
	return err
}

// ClaimPendingMutations pasa pending → in_flight y devuelve el batch en
// orden de llegada. El UPDATE ... RETURNING hace el claim atómico.
func (s *Store) ClaimPendingMutations(ctx context.Context, orgID, adapter string) ([]core.PendingMutation, error) {
	const q = `
		UPDATE pending_mutations SET status = 'in_flight'
		 WHERE id IN (
			SELECT id FROM pending_mutations
			 WHERE org_id = $1 AND adapter = $2 AND status = 'pending'
			 ORDER BY created_at
			 FOR UPDATE SKIP LOCKED
		 )
		RETURNING id, org_id, adapter, name, args, status, created_at`
	rows, err := s.pool.Query(ctx, q, orgID, adapter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.PendingMutation
	for rows.Next() {
		var m core.PendingMutation
		if err := rows.Scan(&m.ID, &m.OrgID, &m.Adapter, &m.Name, &m.Args, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMutationsDone(ctx context.Context, ids []string) error {
	return s.setMutationStatus(ctx, ids, core.MutationDone)
}

func (s *Store) ReleaseMutations(ctx context.Context, ids []string) error {
	return s.setMutationStatus(ctx, ids, core.MutationPending)
}

func (s *Store) setMutationStatus(ctx context.Context, ids []string, st core.MutationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE pending_mutations SET status = $2 WHERE id = ANY($1)`
	_, err := s.pool.Exec(ctx, q, ids, string(st))
	return err
}
