package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, subscription, oauth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeAccountDisabled      = "ACCOUNT_DISABLED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeOAuthTokenNotFound   = "OAUTH_TOKEN_NOT_FOUND"
	ErrCodeOAuthRefreshFailed   = "OAUTH_REFRESH_FAILED"
	ErrCodeOAuthConnectFailed   = "OAUTH_CONNECT_FAILED"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewAccountDisabledError は無効化されたアカウントのエラーを生成する。
func NewAccountDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountDisabled,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(keys []string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %v", keys),
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOAuthTokenNotFoundError はメール連携が存在しない場合のエラーを生成する。
func NewOAuthTokenNotFoundError(provider, email string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthTokenNotFound,
		Message:  fmt.Sprintf("メール連携が見つかりません: %s (%s)", email, provider),
		Category: "oauth",
		Action:   "メールアカウントを再度連携してください。",
	}
}

// NewOAuthRefreshFailedError はメール連携トークンの更新失敗エラーを生成する。
func NewOAuthRefreshFailedError(provider, email string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthRefreshFailed,
		Message:  fmt.Sprintf("メール連携トークンの更新に失敗しました: %s (%s)", email, provider),
		Category: "oauth",
		Action:   "メールアカウントを再度連携してください。",
	}
}

// NewOAuthConnectFailedError はメールアカウント連携（認可コード交換）の失敗エラーを生成する。
func NewOAuthConnectFailedError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthConnectFailed,
		Message:  fmt.Sprintf("メールアカウントの連携に失敗しました: %s", provider),
		Category: "oauth",
		Action:   "しばらく待ってから再度連携してください。",
	}
}
