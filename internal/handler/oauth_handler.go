package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/leadflow/internal/auth"
	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/oauthtoken"
)

const oauthStateCookie = "oauth_state"

// OAuthProviderInterface はメールプロバイダーとの認可フローに必要なインターフェース。
type OAuthProviderInterface interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*auth.ConnectedAccount, error)
}

// OAuthTokenServiceInterface は連携済みトークンの管理に必要なインターフェース。oauthtoken.Managerが実装する。
type OAuthTokenServiceInterface interface {
	GetValidToken(ctx context.Context, userID, provider, email string) (*model.OAuthToken, error)
	Connect(ctx context.Context, userID, provider, email string, grant *model.OAuthGrant) (*model.OAuthToken, error)
	Disconnect(ctx context.Context, userID, provider, email string) error
	ListConnections(ctx context.Context, userID string) ([]*model.OAuthToken, error)
}

// OAuthHandlerConfig はメール連携ハンドラーの設定。
type OAuthHandlerConfig struct {
	// Provider は連携先プロバイダーの識別子。空の場合はGoogle。
	Provider string
	// RedirectURL は連携完了後にブラウザを戻すURL。
	RedirectURL  string
	CookieSecure bool
}

// OAuthHandler はメールアカウント連携のHTTPハンドラー。
type OAuthHandler struct {
	provider OAuthProviderInterface
	tokens   OAuthTokenServiceInterface
	config   OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(provider OAuthProviderInterface, tokens OAuthTokenServiceInterface, config OAuthHandlerConfig) *OAuthHandler {
	if config.Provider == "" {
		config.Provider = auth.ProviderGoogle
	}
	return &OAuthHandler{
		provider: provider,
		tokens:   tokens,
		config:   config,
	}
}

// connectionResponse は連携済みアカウントのAPIレスポンス。トークン文字列は返さない。
type connectionResponse struct {
	Provider  string    `json:"provider"`
	Email     string    `json:"email"`
	Scope     string    `json:"scope,omitempty"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toConnectionResponse(t *model.OAuthToken) connectionResponse {
	status := "connected"
	switch {
	case t.Revoked:
		status = "revoked"
	case t.Expired:
		status = "expired"
	}
	return connectionResponse{
		Provider:  t.Provider,
		Email:     t.Email,
		Scope:     t.Scope,
		Status:    status,
		ExpiresAt: t.ExpiresAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// Connect はプロバイダーの認可画面へリダイレクトする。
// GET /api/oauth/{provider}/connect
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback は認可コードをトークンに交換し、ログインユーザーの連携として保存する。
// GET /api/oauth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("user_id", userID),
			slog.String("query_state", state),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateパラメータが一致しません"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. トークン交換
	account, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("oauth code exchange failed",
			slog.String("user_id", userID),
			slog.String("provider", h.config.Provider),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewOAuthConnectFailedError(h.config.Provider))
		return
	}

	// 4. 連携の保存
	if _, err := h.tokens.Connect(r.Context(), userID, h.config.Provider, account.Email, account.Grant); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.config.RedirectURL == "" {
		writeJSON(w, http.StatusOK, connectionResponse{
			Provider:  h.config.Provider,
			Email:     account.Email,
			Scope:     account.Grant.Scope,
			Status:    "connected",
			ExpiresAt: account.Grant.ExpiresAt,
		})
		return
	}
	http.Redirect(w, r, h.config.RedirectURL, http.StatusTemporaryRedirect)
}

// ListConnections はログインユーザーの連携済みアカウント一覧を返す。
// GET /api/oauth/connections
func (h *OAuthHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	tokens, err := h.tokens.ListConnections(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]connectionResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, toConnectionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckConnection は連携済みトークンが利用可能かを確認する。
// 期限が近い場合はその場でリフレッシュされる。
// GET /api/oauth/connections/{provider}/{email}
func (h *OAuthHandler) CheckConnection(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	provider, email := chi.URLParam(r, "provider"), chi.URLParam(r, "email")

	token, err := h.tokens.GetValidToken(r.Context(), userID, provider, email)
	if err != nil {
		h.handleOAuthError(w, err, provider, email)
		return
	}

	writeJSON(w, http.StatusOK, toConnectionResponse(token))
}

// Disconnect は連携を解除する。
// DELETE /api/oauth/connections/{provider}/{email}
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	provider, email := chi.URLParam(r, "provider"), chi.URLParam(r, "email")

	if err := h.tokens.Disconnect(r.Context(), userID, provider, email); err != nil {
		h.handleOAuthError(w, err, provider, email)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleOAuthError はoauthtokenパッケージのエラーをAPIエラーに変換する。
func (h *OAuthHandler) handleOAuthError(w http.ResponseWriter, err error, provider, email string) {
	switch {
	case errors.Is(err, oauthtoken.ErrTokenNotFound), errors.Is(err, oauthtoken.ErrTokenRevoked):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewOAuthTokenNotFoundError(provider, email))
	case errors.Is(err, oauthtoken.ErrRefreshFailed):
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewOAuthRefreshFailedError(provider, email))
	default:
		handleServiceError(w, err)
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
