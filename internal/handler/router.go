package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/leadflow/internal/metrics"
	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/permission"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector
	CORSAllowedOrigins []string
	CookieSecure       bool
	// Authentication はトークン検証と契約ゲートを行うミドルウェア（Authenticator.Middleware）。
	Authentication    func(next http.Handler) http.Handler
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	PermissionChecker middleware.PermissionChecker

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 契約状態
	SubscriptionService SubscriptionServiceInterface

	// パーミッション・管理操作
	PermissionService PermissionServiceInterface
	TokenRevoker      TokenRevoker

	// メール連携。OAuthProviderがnilの場合は連携開始・コールバックを登録しない。
	OAuthProvider OAuthProviderInterface
	OAuthTokens   OAuthTokenServiceInterface
	OAuthConfig   OAuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Authentication → CSRF
//
// 認証が必要なルートではさらに RequireAuth → RateLimit(General) を適用する。
// 契約ゲートはAuthentication内で保護対象パスにのみ適用される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))
	if deps.Authentication != nil {
		r.Use(deps.Authentication)
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	permHandler := NewPermissionHandler(deps.PermissionService, deps.TokenRevoker)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		// ログインは未認証のためIP単位で制限する
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.With(middleware.RequireAuth()).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 契約が切れていても参照できる
		r.Get("/api/subscriptions/status", subHandler.GetStatus)
		r.Get("/api/permissions/me", permHandler.MyPermissions)

		// 管理操作
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequirePermission(deps.PermissionChecker, permission.KeyUserManage))
			r.Post("/users/{userID}/revoke-tokens", permHandler.RevokeUserTokens)
		})

		// メール連携
		if deps.OAuthTokens != nil {
			oauthHandler := NewOAuthHandler(deps.OAuthProvider, deps.OAuthTokens, deps.OAuthConfig)
			r.Route("/api/oauth", func(r chi.Router) {
				r.Use(middleware.RequirePermission(deps.PermissionChecker, permission.KeyEmailSend))

				if deps.OAuthProvider != nil {
					r.Get("/"+oauthHandler.config.Provider+"/connect", oauthHandler.Connect)
					r.Get("/"+oauthHandler.config.Provider+"/callback", oauthHandler.Callback)
				}
				r.Get("/connections", oauthHandler.ListConnections)
				r.Route("/connections/{provider}/{email}", func(r chi.Router) {
					r.Get("/", oauthHandler.CheckConnection)
					r.Delete("/", oauthHandler.Disconnect)
				})
			})
		}
	})

	return r
}
