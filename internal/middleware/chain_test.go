package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/token"
)

// newChain は本番と同じ順序でミドルウェアを組み立てる。
// Recovery -> Logging -> CORS -> Authentication -> CSRF -> RequireAuth -> RateLimit -> Handler
func newChain(t *testing.T, logBuf *bytes.Buffer, rl *RateLimiter, next http.Handler) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(logBuf, nil))
	tokens := tokensAccepting(map[string]model.TokenKind{"chain-access": model.TokenKindAccess}, token.ErrTokenInvalid)
	auth := NewAuthenticator(tokens, activeUsers(), gateWith(model.SubscriptionStatusActive), nil, AuthenticationConfig{Cookies: testCookies})

	h := rl.GeneralMiddleware()(next)
	h = RequireAuth()(h)
	h = NewCSRFMiddleware(CSRFConfig{AccessCookieName: testCookies.AccessName})(h)
	h = auth.Middleware()(h)
	h = NewCORSMiddleware("http://localhost:3000")(h)
	h = NewLoggingMiddleware(logger, nil)(h)
	return NewRecoveryMiddleware(logger)(h)
}

func userIDHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	})
}

func TestMiddlewareChain_AuthenticatedGET(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var logBuf bytes.Buffer
	handler := newChain(t, &logBuf, rl, userIDHandler())

	req := requestWithCookies("/api/leads", map[string]string{"access_token": "chain-access"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["user_id"] != "user-1" {
		t.Errorf("user_id = %q, want %q", body["user_id"], "user-1")
	}

	// ロギングは認証より外側だが、ユーザーIDを記録できること
	var entry map[string]any
	if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("logged user_id = %v, want %q", entry["user_id"], "user-1")
	}
}

func TestMiddlewareChain_POSTRequiresCSRFToken(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var logBuf bytes.Buffer
	handler := newChain(t, &logBuf, rl, userIDHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "chain-access"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("without CSRF token: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/leads", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "chain-access"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "csrf-1"})
	req.Header.Set(csrfHeaderName, "csrf-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("with CSRF token: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMiddlewareChain_NoToken_Returns401(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var logBuf bytes.Buffer
	handler := newChain(t, &logBuf, rl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without authentication")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leads", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareChain_RateLimitAfterAuthentication(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	var logBuf bytes.Buffer
	handler := newChain(t, &logBuf, rl, userIDHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithCookies("/api/leads", map[string]string{"access_token": "chain-access"}))
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestMiddlewareChain_PanicIsRecovered(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var logBuf bytes.Buffer
	handler := newChain(t, &logBuf, rl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(context.Canceled)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithCookies("/api/leads", map[string]string{"access_token": "chain-access"}))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
