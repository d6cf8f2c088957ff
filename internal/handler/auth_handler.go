// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/leadflow/internal/auth"
	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, userID, accessToken, refreshToken string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookies middleware.CookieConfig
}

// AuthHandler はログイン・トークン更新・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest はCookieを使わないクライアント向けのリフレッシュリクエストのボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse はトークン発行のAPIレスポンス。
// Cookieを扱えないクライアントはBearerヘッダーでaccess_tokenを送る。
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("メールアドレスとパスワードは必須です"))
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeTokenPair(w, pair)
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンの組を返す。
// リフレッシュトークンはCookie、なければボディから読み取る。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.cookieValue(r, h.config.Cookies.RefreshName)
	if refreshToken == "" && r.ContentLength != 0 {
		var req refreshRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		refreshToken = req.RefreshToken
	}
	if refreshToken == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
		return
	}

	pair, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		// 再ログインが必要なエラーではCookieも削除する
		if status := statusOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			middleware.ClearTokenCookies(w, h.config.Cookies)
		}
		handleServiceError(w, err)
		return
	}

	h.writeTokenPair(w, pair)
}

// Logout はトークンを失効させ、Cookieを削除する。
// 認証済みの場合はそのユーザーの全トークンを失効させる。
// 失効に失敗した場合はCookieを削除したうえでエラーを返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	accessToken := h.cookieValue(r, h.config.Cookies.AccessName)
	if accessToken == "" {
		accessToken = bearerToken(r)
	}
	refreshToken := h.cookieValue(r, h.config.Cookies.RefreshName)

	// 失効の成否にかかわらずブラウザのCookieは削除する
	middleware.ClearTokenCookies(w, h.config.Cookies)

	if userID != "" || accessToken != "" || refreshToken != "" {
		if err := h.service.Logout(r.Context(), userID, accessToken, refreshToken); err != nil {
			slog.Error("failed to logout",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			// トークンはストア上で有効なままのため、ログアウト成功として扱わない
			handleServiceError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		Role:      user.RoleName,
		CreatedAt: user.CreatedAt,
	})
}

// writeTokenPair はトークンをHttpOnly Cookieに設定し、同じ内容をボディでも返す。
func (h *AuthHandler) writeTokenPair(w http.ResponseWriter, pair *auth.TokenPair) {
	middleware.SetTokenCookie(w, h.config.Cookies, h.config.Cookies.AccessName, pair.AccessToken, pair.AccessTTL)
	middleware.SetTokenCookie(w, h.config.Cookies, h.config.Cookies.RefreshName, pair.RefreshToken, pair.RefreshTTL)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(pair.AccessTTL.Seconds()),
		RefreshExpiresIn: int(pair.RefreshTTL.Seconds()),
	})
}

func (h *AuthHandler) cookieValue(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
