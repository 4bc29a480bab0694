package pg

import (
	"context"

	"github.com/dropDatabas3/flocksync/internal/store/core"
)

// ClaimRun: el unique sobre run_key es la garantía de at-most-one. Un run
// failed previo se reabre (reintento); uno running/done deja el trigger
// duplicado como no-op.
func (s *Store) ClaimRun(ctx context.Context, runKey string) (bool, error) {
	const q = `
		INSERT INTO workflow_runs (run_key, status, started_at, updated_at)
		VALUES ($1, 'running', now(), now())
		ON CONFLICT (run_key) DO UPDATE SET
			status     = 'running',
			started_at = now(),
			updated_at = now()
		WHERE workflow_runs.status = 'failed'`
	tag, err := s.pool.Exec(ctx, q, runKey)
	if err != nil {
		return false, err
	}
	// Conflicto con run no-failed ⇒ el WHERE del upsert no matchea y no hay
	// filas afectadas.
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinishRun(ctx context.Context, runKey string, status core.RunStatus, lastError string) error {
	const q = `
		UPDATE workflow_runs
		   SET status = $2, last_error = $3, updated_at = now()
		 WHERE run_key = $1`
	tag, err := s.pool.Exec(ctx, q, runKey, string(status), lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
