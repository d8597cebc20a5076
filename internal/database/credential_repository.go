package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matthewgrima/twitchcommands/internal/crypto"
	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// credentialColumns must match the Scan order in scanCredential.
const credentialColumns = `twitch_user_id, twitch_login, access_token, refresh_token, scopes, token_expiry, id_token, created_at, updated_at`

// CredentialRepo implements domain.CredentialRepository backed by
// PostgreSQL. Access and refresh tokens are encrypted at rest.
type CredentialRepo struct {
	pool   *pgxpool.Pool
	cipher crypto.Service
}

var _ domain.CredentialRepository = (*CredentialRepo)(nil)

func NewCredentialRepo(pool *pgxpool.Pool, cipher crypto.Service) *CredentialRepo {
	return &CredentialRepo{pool: pool, cipher: cipher}
}

func (r *CredentialRepo) Upsert(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	accessToken, err := r.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := r.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	query := `
		INSERT INTO credentials (twitch_user_id, twitch_login, access_token, refresh_token, scopes, token_expiry, id_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (twitch_user_id) DO UPDATE SET
			twitch_login  = EXCLUDED.twitch_login,
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scopes        = EXCLUDED.scopes,
			token_expiry  = EXCLUDED.token_expiry,
			id_token      = EXCLUDED.id_token,
			updated_at    = now()
		RETURNING ` + credentialColumns

	row := r.pool.QueryRow(ctx, query,
		cred.TwitchUserID, cred.TwitchLogin, accessToken, refreshToken,
		cred.Scopes, cred.TokenExpiry, cred.IDToken,
	)
	saved, err := r.scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return saved, nil
}

func (r *CredentialRepo) GetByTwitchUserID(ctx context.Context, twitchUserID string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE twitch_user_id = $1`

	row := r.pool.QueryRow(ctx, query, twitchUserID)
	cred, err := r.scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepo) UpdateTokens(ctx context.Context, twitchUserID, accessToken, refreshToken string, tokenExpiry time.Time) error {
	encAccess, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := r.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	query := `
		UPDATE credentials
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = now()
		WHERE twitch_user_id = $1`

	tag, err := r.pool.Exec(ctx, query, twitchUserID, encAccess, encRefresh, tokenExpiry)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context, twitchUserID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE twitch_user_id = $1`, twitchUserID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (r *CredentialRepo) scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.TwitchUserID, &cred.TwitchLogin, &cred.AccessToken, &cred.RefreshToken,
		&cred.Scopes, &cred.TokenExpiry, &cred.IDToken, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.AccessToken, err = r.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	cred.RefreshToken, err = r.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &cred, nil
}
