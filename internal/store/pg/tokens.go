package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/flocksync/internal/security/secretbox"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/jackc/pgx/v5"
)

// El refresh token nunca toca el disco en claro: secretbox al guardar,
// open al leer.

func (s *Store) GetToken(ctx context.Context, tenantKey, adapter string) (*core.TokenState, error) {
	const q = `
		SELECT tenant_key, adapter, access_token, refresh_token_enc, created_at, expires_in
		  FROM adapter_tokens
		 WHERE tenant_key = $1 AND adapter = $2`
	var ts core.TokenState
	var refreshEnc string
	err := s.pool.QueryRow(ctx, q, tenantKey, adapter).Scan(
		&ts.TenantKey, &ts.Adapter, &ts.AccessToken, &refreshEnc, &ts.CreatedAt, &ts.ExpiresIn,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token %s/%s: %w", adapter, tenantKey, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rt, err := secretbox.Decrypt(refreshEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token %s/%s: %w", adapter, tenantKey, err)
	}
	ts.RefreshToken = rt
	return &ts, nil
}

func (s *Store) SaveToken(ctx context.Context, ts *core.TokenState) error {
	if ts.TenantKey == "" || ts.Adapter == "" {
		return core.ErrInvalid
	}
	enc, err := secretbox.Encrypt(ts.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	const q = `
		INSERT INTO adapter_tokens (tenant_key, adapter, access_token, refresh_token_enc, created_at, expires_in)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_key, adapter) DO UPDATE SET
			access_token      = EXCLUDED.access_token,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			created_at        = EXCLUDED.created_at,
			expires_in        = EXCLUDED.expires_in`
	_, err = s.pool.Exec(ctx, q, ts.TenantKey, ts.Adapter, ts.AccessToken, enc, ts.CreatedAt, ts.ExpiresIn)
	return err
}
