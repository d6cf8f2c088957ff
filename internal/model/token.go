package model

import "time"

// TokenKind はトークンの種別を表す。
type TokenKind string

const (
	// TokenKindAccess は短命なアクセストークン。
	TokenKindAccess TokenKind = "ACCESS"
	// TokenKindRefresh はアクセストークン再発行用の長命なリフレッシュトークン。
	TokenKindRefresh TokenKind = "REFRESH"
)

// Valid は既知のトークン種別かどうかを返す。
func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// Token は発行済みトークンの永続化レコードを表す。
// 署名済みトークン文字列そのものは保存せず、SHA-256ハッシュで照合する。
// レコードはリクエスト処理中に削除されず、クリーンアップジョブが回収する。
type Token struct {
	ID        string
	UserID    string
	Kind      TokenKind
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	Expired   bool
}

// IsActive はトークンレコードが有効かどうかを返す。
// 失効フラグ・期限切れフラグがともに立っておらず、有効期限がnowより後であること。
func (t *Token) IsActive(now time.Time) bool {
	return !t.Revoked && !t.Expired && t.ExpiresAt.After(now)
}
