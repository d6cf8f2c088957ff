package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/leadflow/internal/model"
)

const selectOAuthTokenColumns = `SELECT id, user_id, provider, email, access_token, refresh_token, scope,
		expires_at, revoked, expired, created_at, updated_at
	 FROM oauth_tokens`

// PostgresOAuthTokenRepo はPostgreSQLを使用したOAuthトークンリポジトリ。
type PostgresOAuthTokenRepo struct {
	db *sql.DB
}

// NewPostgresOAuthTokenRepo はPostgresOAuthTokenRepoを生成する。
func NewPostgresOAuthTokenRepo(db *sql.DB) *PostgresOAuthTokenRepo {
	return &PostgresOAuthTokenRepo{db: db}
}

// Upsert は (user_id, provider, email) をキーにトークンを作成または上書きする。
// 再連携時は失効・期限切れフラグを解除する。
func (r *PostgresOAuthTokenRepo) Upsert(ctx context.Context, token *model.OAuthToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (id, user_id, provider, email, access_token, refresh_token, scope,
		                           expires_at, revoked, expired, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, $9, $9)
		 ON CONFLICT (user_id, provider, email) DO UPDATE SET
		     access_token  = EXCLUDED.access_token,
		     refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_tokens.refresh_token),
		     scope         = EXCLUDED.scope,
		     expires_at    = EXCLUDED.expires_at,
		     revoked       = false,
		     expired       = false,
		     updated_at    = EXCLUDED.updated_at`,
		token.ID, token.UserID, token.Provider, token.Email, token.AccessToken, token.RefreshToken,
		token.Scope, token.ExpiresAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert oauth token: %w", err)
	}
	return nil
}

// Find は (user_id, provider, email) でトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresOAuthTokenRepo) Find(ctx context.Context, userID, provider, email string) (*model.OAuthToken, error) {
	token := &model.OAuthToken{}
	err := scanOAuthToken(r.db.QueryRowContext(ctx,
		selectOAuthTokenColumns+` WHERE user_id = $1 AND provider = $2 AND email = $3`,
		userID, provider, email,
	), token)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth token: %w", err)
	}
	return token, nil
}

// UpdateTokens はリフレッシュ結果を更新する。
func (r *PostgresOAuthTokenRepo) UpdateTokens(ctx context.Context, token *model.OAuthToken) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE oauth_tokens
		 SET access_token = $2, refresh_token = $3, scope = $4, expires_at = $5,
		     expired = false, updated_at = $6
		 WHERE id = $1`,
		token.ID, token.AccessToken, token.RefreshToken, token.Scope, token.ExpiresAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update oauth token: %w", err)
	}
	return nil
}

// MarkExpired は指定IDのトークンに期限切れフラグを立てる。
func (r *PostgresOAuthTokenRepo) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE oauth_tokens SET expired = true, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark oauth token expired: %w", err)
	}
	return nil
}

// Revoke は (user_id, provider, email) のトークンを失効させる。
func (r *PostgresOAuthTokenRepo) Revoke(ctx context.Context, userID, provider, email string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE oauth_tokens SET revoked = true, updated_at = now()
		 WHERE user_id = $1 AND provider = $2 AND email = $3`,
		userID, provider, email,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke oauth token: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByUserID はユーザーの連携済みトークン一覧を返す。失効済みのものは含まない。
func (r *PostgresOAuthTokenRepo) ListByUserID(ctx context.Context, userID string) ([]*model.OAuthToken, error) {
	rows, err := r.db.QueryContext(ctx,
		selectOAuthTokenColumns+` WHERE user_id = $1 AND revoked = false ORDER BY provider, email`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list oauth tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.OAuthToken
	for rows.Next() {
		token := &model.OAuthToken{}
		if err := scanOAuthToken(rows, token); err != nil {
			return nil, fmt.Errorf("failed to scan oauth token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate oauth tokens: %w", err)
	}
	return tokens, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOAuthToken(row rowScanner, token *model.OAuthToken) error {
	return row.Scan(
		&token.ID, &token.UserID, &token.Provider, &token.Email,
		&token.AccessToken, &token.RefreshToken, &token.Scope,
		&token.ExpiresAt, &token.Revoked, &token.Expired, &token.CreatedAt, &token.UpdatedAt,
	)
}

// compile-time interface check
var _ OAuthTokenRepository = (*PostgresOAuthTokenRepo)(nil)
