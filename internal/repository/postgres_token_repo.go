package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/leadflow/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンレコードを作成する。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (id, user_id, kind, token_hash, issued_at, expires_at, revoked, expired)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, token.UserID, string(token.Kind), token.TokenHash,
		token.IssuedAt, token.ExpiresAt, token.Revoked, token.Expired,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// FindByHash はトークンハッシュでレコードを取得する。見つからない場合はnilを返す。
// 失効済み・期限切れのレコードも返す（判定は呼び出し側が行う）。
func (r *PostgresTokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.Token, error) {
	token := &model.Token{}
	var kind string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, token_hash, issued_at, expires_at, revoked, expired
		 FROM tokens
		 WHERE token_hash = $1`,
		tokenHash,
	).Scan(&token.ID, &token.UserID, &kind, &token.TokenHash,
		&token.IssuedAt, &token.ExpiresAt, &token.Revoked, &token.Expired)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	token.Kind = model.TokenKind(kind)
	return token, nil
}

// RevokeAllByUserID は指定ユーザーの有効なトークンをすべて失効させる。
func (r *PostgresTokenRepo) RevokeAllByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = true, revoked_at = now()
		 WHERE user_id = $1 AND revoked = false AND expired = false`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return rowsAffected(result)
}

// RevokeByHashes は指定ハッシュのトークンを失効させる。
func (r *PostgresTokenRepo) RevokeByHashes(ctx context.Context, tokenHashes []string) (int64, error) {
	if len(tokenHashes) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = true, revoked_at = now()
		 WHERE token_hash = ANY($1) AND revoked = false`,
		pq.Array(tokenHashes),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return rowsAffected(result)
}

// MarkExpired は有効期限がnow以前のレコードに期限切れフラグを立てる。
func (r *PostgresTokenRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET expired = true
		 WHERE expired = false AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark tokens expired: %w", err)
	}
	return rowsAffected(result)
}

// DeleteStale はbefore以前に失効または期限切れとなったレコードを削除する。
func (r *PostgresTokenRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens
		 WHERE (revoked = true AND revoked_at < $1)
		    OR (expired = true AND expires_at < $1)`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}
	return rowsAffected(result)
}

func rowsAffected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
