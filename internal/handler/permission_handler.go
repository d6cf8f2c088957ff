package handler

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/model"
)

// PermissionServiceInterface はパーミッション一覧の取得に必要なインターフェース。
type PermissionServiceInterface interface {
	Permissions(ctx context.Context, userID string) (map[string]struct{}, error)
}

// TokenRevoker は管理者によるトークン強制失効に必要なインターフェース。token.Serviceが実装する。
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// PermissionHandler はパーミッション照会と管理操作のHTTPハンドラー。
type PermissionHandler struct {
	permissions PermissionServiceInterface
	tokens      TokenRevoker
}

// NewPermissionHandler はPermissionHandlerを生成する。
func NewPermissionHandler(permissions PermissionServiceInterface, tokens TokenRevoker) *PermissionHandler {
	return &PermissionHandler{
		permissions: permissions,
		tokens:      tokens,
	}
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

type revokeTokensResponse struct {
	UserID  string `json:"user_id"`
	Revoked int64  `json:"revoked"`
}

// MyPermissions はログインユーザーが持つパーミッションキーをソートして返す。
// GET /api/permissions/me
func (h *PermissionHandler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	keys, err := h.permissions.Permissions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, permissionsResponse{
		Permissions: slices.Sorted(maps.Keys(keys)),
	})
}

// RevokeUserTokens は指定ユーザーの全トークンを失効させる。
// 権限チェックはルート側のRequirePermissionで行う。
// POST /api/admin/users/{userID}/revoke-tokens
func (h *PermissionHandler) RevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	if target == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ユーザーIDが指定されていません"))
		return
	}

	n, err := h.tokens.RevokeAll(r.Context(), target)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	actor, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("tokens revoked by admin",
		slog.String("actor_id", actor),
		slog.String("user_id", target),
		slog.Int64("revoked", n),
	)

	writeJSON(w, http.StatusOK, revokeTokensResponse{UserID: target, Revoked: n})
}
