package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/leadflow/internal/metrics"
	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/token"
)

// refreshIssueTimeout はサイレントリフレッシュでのアクセストークン発行の上限時間。
const refreshIssueTimeout = 10 * time.Second

// TokenAuthenticator は認証ミドルウェアが必要とするトークン操作。token.Serviceが実装する。
type TokenAuthenticator interface {
	ValidateKind(ctx context.Context, raw string, kind model.TokenKind) (*token.Claims, error)
	Issue(ctx context.Context, user *model.User, kind model.TokenKind) (string, error)
	AccessTTL() time.Duration
}

// UserFinder はトークンのサブジェクトからユーザーを解決する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SubscriptionChecker はユーザーの契約状態を返す。subscription.Gateが実装する。
// 拒否時のレスポンスとメトリクスに状態名を使うため、HasValidAccessではなくStatusを参照する。
type SubscriptionChecker interface {
	Status(ctx context.Context, userID string) (model.SubscriptionStatus, error)
}

// CookieConfig は認証Cookieの属性。
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

// AuthenticationConfig は認証ミドルウェアの設定。
type AuthenticationConfig struct {
	Cookies CookieConfig
	// PublicPaths は契約ゲートの対象外とするパスのプレフィックス。
	PublicPaths []string
	// ExemptRoles は契約ゲートの対象外とするロール名。
	ExemptRoles []string
}

// Authenticator はリクエストごとにトークンを検証し、Principalをコンテキストに設定する。
// アクセストークンが無効な場合はリフレッシュトークンで新しいアクセストークンを発行する。
type Authenticator struct {
	tokens  TokenAuthenticator
	users   UserFinder
	gate    SubscriptionChecker
	metrics metrics.MetricsCollector
	config  AuthenticationConfig
	group   singleflight.Group
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(
	tokens TokenAuthenticator,
	users UserFinder,
	gate SubscriptionChecker,
	collector metrics.MetricsCollector,
	config AuthenticationConfig,
) *Authenticator {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.Cookies.Path == "" {
		config.Cookies.Path = "/"
	}
	if config.Cookies.SameSite == 0 {
		config.Cookies.SameSite = http.SameSiteLaxMode
	}
	return &Authenticator{
		tokens:  tokens,
		users:   users,
		gate:    gate,
		metrics: collector,
		config:  config,
	}
}

// Middleware は認証ミドルウェアを返す。
// 認証の失敗ではリクエストを止めず、Principalなしで後続に渡す（アクセス制御は後続が行う）。
// 保護対象パスで契約が無効な場合のみ402で打ち切る。
func (a *Authenticator) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessRaw := a.accessToken(r)
			refreshRaw := a.cookieValue(r, a.config.Cookies.RefreshName)
			if accessRaw == "" && refreshRaw == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := a.authenticate(w, r, accessRaw, refreshRaw)
			if err != nil {
				slog.Error("authentication failed unexpectedly",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			if a.IsProtected(r.URL.Path) && !a.isExempt(principal.Role) {
				status, err := a.gate.Status(r.Context(), principal.UserID)
				if err != nil {
					slog.Error("subscription check failed",
						slog.String("user_id", principal.UserID),
						slog.String("error", err.Error()),
					)
					next.ServeHTTP(w, r)
					return
				}
				if !status.AllowsAccess() {
					a.metrics.RecordGateDenied(string(status))
					slog.Info("subscription required",
						slog.String("user_id", principal.UserID),
						slog.String("status", string(status)),
						slog.String("path", r.URL.Path),
					)
					WriteSubscriptionRequired(w, status)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// authenticate はアクセストークン、だめならリフレッシュトークンでPrincipalを解決する。
// トークン起因の失敗は (nil, nil)、それ以外の失敗はerrorを返す。
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, accessRaw, refreshRaw string) (*model.Principal, error) {
	ctx := r.Context()

	if accessRaw != "" {
		claims, err := a.tokens.ValidateKind(ctx, accessRaw, model.TokenKindAccess)
		if err == nil {
			return a.resolvePrincipal(ctx, w, claims.UserID)
		}
		if !isTokenFailure(err) {
			return nil, err
		}
		slog.Debug("access token rejected", slog.String("reason", token.FailureReason(err)))
	}

	return a.silentRefresh(ctx, w, refreshRaw)
}

// silentRefresh はリフレッシュトークンを検証し、新しいアクセストークンをCookieに設定する。
// 同一プロセス内で同じリフレッシュトークンによる同時発行は1回にまとめる。
func (a *Authenticator) silentRefresh(ctx context.Context, w http.ResponseWriter, refreshRaw string) (*model.Principal, error) {
	if refreshRaw == "" {
		a.clearCookies(w)
		return nil, nil
	}

	claims, err := a.tokens.ValidateKind(ctx, refreshRaw, model.TokenKindRefresh)
	if err != nil {
		if !isTokenFailure(err) {
			return nil, err
		}
		slog.Info("silent refresh rejected", slog.String("reason", token.FailureReason(err)))
		a.metrics.RecordSilentRefresh(false)
		a.clearCookies(w)
		return nil, nil
	}

	user, err := a.activeUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		a.clearCookies(w)
		return nil, nil
	}

	v, err, _ := a.group.Do(token.HashToken(refreshRaw), func() (any, error) {
		// 最初のリクエストが切断されても、同じリフレッシュトークンを待つ他のリクエストには発行結果を返す
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshIssueTimeout)
		defer cancel()
		return a.tokens.Issue(shared, user, model.TokenKindAccess)
	})
	if err != nil {
		a.metrics.RecordSilentRefresh(false)
		return nil, err
	}

	a.setAccessCookie(w, v.(string))
	a.metrics.RecordSilentRefresh(true)
	slog.Info("access token refreshed", slog.String("user_id", user.ID))

	return principalOf(user), nil
}

// resolvePrincipal はユーザーを取得してPrincipalに変換する。
// 無効化・削除されたユーザーは未認証として扱い、Cookieを削除する。
func (a *Authenticator) resolvePrincipal(ctx context.Context, w http.ResponseWriter, userID string) (*model.Principal, error) {
	user, err := a.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		a.clearCookies(w)
		return nil, nil
	}
	return principalOf(user), nil
}

func (a *Authenticator) activeUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		slog.Info("token subject is not an active user", slog.String("user_id", userID))
		return nil, nil
	}
	return user, nil
}

// IsProtected はパスが契約ゲートの対象かどうかを返す。
func (a *Authenticator) IsProtected(path string) bool {
	for _, prefix := range a.config.PublicPaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (a *Authenticator) isExempt(role string) bool {
	for _, r := range a.config.ExemptRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// accessToken はCookie、なければAuthorization: Bearerヘッダーからアクセストークンを取り出す。
func (a *Authenticator) accessToken(r *http.Request) string {
	if v := a.cookieValue(r, a.config.Cookies.AccessName); v != "" {
		return v
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (a *Authenticator) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *Authenticator) setAccessCookie(w http.ResponseWriter, value string) {
	SetTokenCookie(w, a.config.Cookies, a.config.Cookies.AccessName, value, a.tokens.AccessTTL())
}

func (a *Authenticator) clearCookies(w http.ResponseWriter) {
	ClearTokenCookies(w, a.config.Cookies)
}

// SetTokenCookie はHttpOnlyのトークンCookieを設定する。
func SetTokenCookie(w http.ResponseWriter, cfg CookieConfig, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// ClearTokenCookies はアクセストークンとリフレッシュトークンのCookieを削除する。
func ClearTokenCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{cfg.AccessName, cfg.RefreshName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		})
	}
}

func principalOf(user *model.User) *model.Principal {
	return &model.Principal{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.RoleName,
	}
}

func isTokenFailure(err error) bool {
	return errors.Is(err, token.ErrTokenInvalid) || errors.Is(err, token.ErrTokenExpired)
}
