// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/leadflow/internal/model"
)

// UserRepository はユーザーデータの参照インターフェース。
// ユーザーの作成・更新はユーザー管理側の責務のため、認証コアは参照のみ行う。
type UserRepository interface {
	// FindByID は指定IDのユーザーをロール名付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// TokenRepository は発行済みトークンの永続化インターフェース。
// すべての更新は単一文のUPDATEで、ストレージ層でアトミックに実行される。
type TokenRepository interface {
	// Create はトークンレコードを作成する。
	Create(ctx context.Context, token *model.Token) error

	// FindByHash はトークンハッシュでレコードを取得する。見つからない場合はnilを返す。
	FindByHash(ctx context.Context, tokenHash string) (*model.Token, error)

	// RevokeAllByUserID は指定ユーザーの有効なトークンをすべて失効させ、更新件数を返す。
	RevokeAllByUserID(ctx context.Context, userID string) (int64, error)

	// RevokeByHashes は指定ハッシュのトークンを失効させ、更新件数を返す。
	RevokeByHashes(ctx context.Context, tokenHashes []string) (int64, error)

	// MarkExpired は有効期限がnow以前のレコードに期限切れフラグを立て、更新件数を返す。
	// 冪等: 既にフラグが立っているレコードは対象外。
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteStale はbefore以前に失効または期限切れとなったレコードを削除し、削除件数を返す。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// SubscriptionRepository は契約データの参照インターフェース。
// 契約の作成・延長・解約は契約管理側の責務。
type SubscriptionRepository interface {
	// FindActiveByUserID はユーザーのアクティブな契約をプラン情報付きで取得する。
	// 見つからない場合はnilを返す。
	FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// OAuthTokenRepository は外部プロバイダーのOAuthトークンの永続化インターフェース。
type OAuthTokenRepository interface {
	// Upsert は (user_id, provider, email) をキーにトークンを作成または上書きする。
	// 上書き時は失効・期限切れフラグを解除する。
	Upsert(ctx context.Context, token *model.OAuthToken) error

	// Find は (user_id, provider, email) でトークンを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, provider, email string) (*model.OAuthToken, error)

	// UpdateTokens はリフレッシュ結果（アクセストークン、リフレッシュトークン、スコープ、有効期限）を更新する。
	UpdateTokens(ctx context.Context, token *model.OAuthToken) error

	// MarkExpired は指定IDのトークンに期限切れフラグを立てる。
	MarkExpired(ctx context.Context, id string) error

	// Revoke は (user_id, provider, email) のトークンを失効させる。
	// 対象が存在しない場合はfalseを返す。
	Revoke(ctx context.Context, userID, provider, email string) (bool, error)

	// ListByUserID はユーザーの連携済みトークン一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.OAuthToken, error)
}

// RoleRepository はロールとパーミッションの参照インターフェース。
type RoleRepository interface {
	// ListPermissionKeys はロールに付与されたパーミッションキーの一覧を返す。
	ListPermissionKeys(ctx context.Context, roleID string) ([]string, error)
}
