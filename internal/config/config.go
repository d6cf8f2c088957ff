// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// JWT
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"leadflow"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"leadflow-web"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`

	// Cookie
	AccessCookieName  string `env:"ACCESS_COOKIE_NAME" envDefault:"access_token"`
	RefreshCookieName string `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`
	CookieDomain      string `env:"COOKIE_DOMAIN"`
	CookieSameSite    string `env:"COOKIE_SAMESITE" envDefault:"lax"`
	// CookieSecure はBASE_URLがhttpsの場合にtrueとなる。
	CookieSecure bool `env:"-"`

	// Subscription
	SubscriptionGracePeriod time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"72h"`
	SubscriptionExemptRoles []string      `env:"SUBSCRIPTION_EXEMPT_ROLES" envSeparator:"," envDefault:"ADMIN"`
	// PublicPaths は契約ゲートの対象外とするパスのプレフィックス。
	PublicPaths []string `env:"PUBLIC_PATHS" envSeparator:"," envDefault:"/health,/metrics,/auth/,/api/csrf-token,/api/subscriptions/,/api/permissions/me"`

	// OAuth (Google)
	GoogleClientID        string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL     string        `env:"GOOGLE_REDIRECT_URL"`
	OAuthRefreshThreshold time.Duration `env:"OAUTH_REFRESH_THRESHOLD" envDefault:"10m"`

	// Rate Limit (req/min)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Cleanup
	TokenCleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
	TokenRetention       time.Duration `env:"TOKEN_RETENTION" envDefault:"168h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// minJWTSecretLength はHS256の鍵として受け付ける最小バイト数。
const minJWTSecretLength = 32

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL (%s) must be shorter than REFRESH_TOKEN_TTL (%s)",
			cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if _, err := parseSameSite(cfg.CookieSameSite); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// SameSite はCookieのSameSite属性を返す。
func (c *Config) SameSite() http.SameSite {
	s, _ := parseSameSite(c.CookieSameSite)
	return s
}

// GoogleOAuthEnabled はGoogleのメール連携が設定されているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported COOKIE_SAMESITE: %q", v)
	}
}
