package model

import "time"

// OAuthToken は外部メールプロバイダーのOAuthトークンを表す。
// (UserID, Provider, Email) で一意。リフレッシュ時は同じ行を更新する。
type OAuthToken struct {
	ID           string
	UserID       string
	Provider     string
	Email        string
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
	Revoked      bool
	Expired      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiresWithin はnowからthreshold以内に有効期限を迎えるかどうかを返す。
// 既に期限切れの場合もtrueを返す。
func (t *OAuthToken) ExpiresWithin(now time.Time, threshold time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(threshold))
}

// OAuthGrant はプロバイダーのトークンエンドポイントから受け取ったトークン一式を表す。
// RefreshTokenはプロバイダーがローテーションしない場合は空になる。
type OAuthGrant struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}
