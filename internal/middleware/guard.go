package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/leadflow/internal/model"
)

// PermissionChecker はパーミッションキーの判定を行う。permission.Evaluatorが実装する。
type PermissionChecker interface {
	HasAll(ctx context.Context, userID string, keys ...string) (bool, error)
	HasAny(ctx context.Context, userID string, keys ...string) (bool, error)
}

// RequireAuth はPrincipalのないリクエストを401で拒否するミドルウェアを返す。
func RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission は指定キーをすべて持つユーザーのみ通すミドルウェアを返す。
// ルート登録時にハンドラーを包んで使う。キーを1つも指定しない場合はpanicする。
func RequirePermission(checker PermissionChecker, keys ...string) func(next http.Handler) http.Handler {
	return requirePermissions(checker.HasAll, keys)
}

// RequireAnyPermission は指定キーのいずれかを持つユーザーのみ通すミドルウェアを返す。
func RequireAnyPermission(checker PermissionChecker, keys ...string) func(next http.Handler) http.Handler {
	return requirePermissions(checker.HasAny, keys)
}

func requirePermissions(
	check func(ctx context.Context, userID string, keys ...string) (bool, error),
	keys []string,
) func(next http.Handler) http.Handler {
	// キー指定のないガードは全員を通してしまうため、ルート登録時に止める
	if len(keys) == 0 {
		panic("middleware: permission guard requires at least one key")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			allowed, err := check(r.Context(), principal.UserID, keys...)
			if err != nil {
				slog.Error("permission check failed",
					slog.String("user_id", principal.UserID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !allowed {
				slog.Warn("permission denied",
					slog.String("user_id", principal.UserID),
					slog.Any("required", keys),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(keys))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
