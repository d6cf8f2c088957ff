package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/leadflow/internal/auth"
	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック。
type mockAuthService struct {
	loginFn       func(ctx context.Context, email, password string) (*auth.TokenPair, error)
	refreshFn     func(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	logoutFn      func(ctx context.Context, userID, accessToken, refreshToken string) error
	currentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, userID, accessToken, refreshToken string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, userID, accessToken, refreshToken)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

// --- テストヘルパー ---

var testCookieConfig = middleware.CookieConfig{
	AccessName:  "access_token",
	RefreshName: "refresh_token",
	Path:        "/",
	SameSite:    http.SameSiteLaxMode,
}

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, AuthHandlerConfig{Cookies: testCookieConfig})
}

func testTokenPair() *auth.TokenPair {
	return &auth.TokenPair{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		AccessTTL:    time.Hour,
		RefreshTTL:   14 * 24 * time.Hour,
	}
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertCookiesCleared(t *testing.T, resp *http.Response) {
	t.Helper()
	for _, name := range []string{"access_token", "refresh_token"} {
		c := findCookie(resp, name)
		if c == nil {
			t.Errorf("expected %s cookie to be cleared", name)
			continue
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("%s cookie MaxAge = %d, Value = %q, want cleared", name, c.MaxAge, c.Value)
		}
	}
}

// --- POST /auth/login ---

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.TokenPair, error) {
			if email != "alice@example.com" || password != "secret" {
				t.Errorf("Login(%q, %q), want (alice@example.com, secret)", email, password)
			}
			return testTokenPair(), nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":" alice@example.com ","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	access := findCookie(resp, "access_token")
	if access == nil || access.Value != "new-access" {
		t.Fatalf("access_token cookie = %+v, want value new-access", access)
	}
	if !access.HttpOnly {
		t.Error("access_token cookie should be HttpOnly")
	}
	if access.MaxAge != 3600 {
		t.Errorf("access_token MaxAge = %d, want 3600", access.MaxAge)
	}
	refresh := findCookie(resp, "refresh_token")
	if refresh == nil || refresh.Value != "new-refresh" {
		t.Fatalf("refresh_token cookie = %+v, want value new-refresh", refresh)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.AccessToken != "new-access" || body.TokenType != "Bearer" || body.ExpiresIn != 3600 {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Login_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"壊れたJSON", `{"email":`},
		{"未知のフィールド", `{"email":"a@example.com","password":"x","remember":true}`},
		{"メールアドレスなし", `{"password":"x"}`},
		{"パスワードなし", `{"email":"a@example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := newTestAuthHandler(&mockAuthService{
				loginFn: func(context.Context, string, string) (*auth.TokenPair, error) {
					called = true
					return testTokenPair(), nil
				},
			})

			w := httptest.NewRecorder()
			h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if called {
				t.Error("service should not be called for invalid input")
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", got, model.ErrCodeInvalidRequest)
			}
		})
	}
}

func TestAuthHandler_Login_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"認証情報不一致", model.NewInvalidCredentialsError(), http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
		{"無効化アカウント", model.NewAccountDisabledError(), http.StatusForbidden, model.ErrCodeAccountDisabled},
		{"トークン保存失敗", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler(&mockAuthService{
				loginFn: func(context.Context, string, string) (*auth.TokenPair, error) {
					return nil, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login",
				strings.NewReader(`{"email":"a@example.com","password":"x"}`)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if c := findCookie(w.Result(), "access_token"); c != nil {
				t.Errorf("no cookie expected on failure, got %+v", c)
			}
		})
	}
}

// --- POST /auth/refresh ---

func TestAuthHandler_Refresh_FromCookie(t *testing.T) {
	var got string
	h := newTestAuthHandler(&mockAuthService{
		refreshFn: func(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
			got = refreshToken
			return testTokenPair(), nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	w := httptest.NewRecorder()
	h.Refresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != "old-refresh" {
		t.Errorf("Refresh called with %q, want old-refresh", got)
	}
	if c := findCookie(w.Result(), "refresh_token"); c == nil || c.Value != "new-refresh" {
		t.Errorf("refresh_token cookie = %+v, want rotated value", c)
	}
}

func TestAuthHandler_Refresh_FromBody(t *testing.T) {
	var got string
	h := newTestAuthHandler(&mockAuthService{
		refreshFn: func(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
			got = refreshToken
			return testTokenPair(), nil
		},
	})

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/auth/refresh",
		strings.NewReader(`{"refresh_token":"body-refresh"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != "body-refresh" {
		t.Errorf("Refresh called with %q, want body-refresh", got)
	}
}

func TestAuthHandler_Refresh_NoToken_ReturnsUnauthorized(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeSessionExpired {
		t.Errorf("code = %q, want %q", got, model.ErrCodeSessionExpired)
	}
}

func TestAuthHandler_Refresh_SessionExpired_ClearsCookies(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		refreshFn: func(context.Context, string) (*auth.TokenPair, error) {
			return nil, model.NewSessionExpiredError()
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "revoked-refresh"})
	w := httptest.NewRecorder()
	h.Refresh(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	assertCookiesCleared(t, w.Result())
}

func TestAuthHandler_Refresh_InternalError_KeepsCookies(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		refreshFn: func(context.Context, string) (*auth.TokenPair, error) {
			return nil, errors.New("db down")
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	w := httptest.NewRecorder()
	h.Refresh(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("cookies should be untouched on storage errors, got %v", w.Result().Cookies())
	}
}

// --- POST /auth/logout ---

func TestAuthHandler_Logout_Authenticated_RevokesAllForUser(t *testing.T) {
	var gotUserID, gotAccess, gotRefresh string
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context, userID, accessToken, refreshToken string) error {
			gotUserID, gotAccess, gotRefresh = userID, accessToken, refreshToken
			return nil
		},
	})

	req := withUserID(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "user-1")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "a"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "r"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotUserID != "user-1" || gotAccess != "a" || gotRefresh != "r" {
		t.Errorf("Logout(%q, %q, %q), want (user-1, a, r)", gotUserID, gotAccess, gotRefresh)
	}
	assertCookiesCleared(t, w.Result())
}

func TestAuthHandler_Logout_BearerOnly(t *testing.T) {
	var gotAccess string
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context, userID, accessToken, refreshToken string) error {
			gotAccess = accessToken
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if gotAccess != "header-token" {
		t.Errorf("access token = %q, want header-token", gotAccess)
	}
}

func TestAuthHandler_Logout_NoCredentials_SkipsService(t *testing.T) {
	called := false
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(context.Context, string, string, string) error {
			called = true
			return nil
		},
	})

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("Logout should not be called without any credential")
	}
}

func TestAuthHandler_Logout_RevocationFailure_ReturnsErrorAndClearsCookies(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(context.Context, string, string, string) error {
			return errors.New("db down")
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "r"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	assertCookiesCleared(t, w.Result())
}

// --- GET /auth/me ---

func TestAuthHandler_Me_Success(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newTestAuthHandler(&mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{
				ID: userID, Email: "alice@example.com", Username: "alice",
				RoleName: "MEMBER", Active: true, CreatedAt: created,
				PasswordHash: "$2a$10$secret",
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/auth/me", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	raw := w.Body.String()
	if strings.Contains(raw, "secret") {
		t.Errorf("response must not expose the password hash: %s", raw)
	}

	var body userResponse
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.ID != "user-1" || body.Email != "alice@example.com" || body.Role != "MEMBER" {
		t.Errorf("body = %+v", body)
	}
	if !body.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", body.CreatedAt, created)
	}
}

func TestAuthHandler_Me_NoPrincipal_ReturnsUnauthorized(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_UserNotFound(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		currentUserFn: func(context.Context, string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	})

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/auth/me", nil), "ghost"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
