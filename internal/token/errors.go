package token

import "errors"

var (
	// ErrTokenInvalid は署名不正・形式不正・未登録のトークンを表す。再試行しない。
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired は有効期限切れのトークンを表す。リフレッシュフローの対象になる。
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked は明示的に失効させたトークンを表す。
	// errors.Is(err, ErrTokenExpired) にも一致するため呼び出し側では期限切れと同じに扱える。
	ErrTokenRevoked error = revokedError{}
)

type revokedError struct{}

func (revokedError) Error() string { return "token revoked" }

func (revokedError) Is(target error) bool { return target == ErrTokenExpired }

// FailureReason は検証エラーを監査ログ・メトリクス用の理由文字列に変換する。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
