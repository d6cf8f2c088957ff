package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/leadflow/internal/auth"
	"github.com/hitoshi/leadflow/internal/config"
	"github.com/hitoshi/leadflow/internal/database"
	"github.com/hitoshi/leadflow/internal/handler"
	"github.com/hitoshi/leadflow/internal/logger"
	"github.com/hitoshi/leadflow/internal/metrics"
	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/oauthtoken"
	"github.com/hitoshi/leadflow/internal/permission"
	"github.com/hitoshi/leadflow/internal/repository"
	"github.com/hitoshi/leadflow/internal/subscription"
	"github.com/hitoshi/leadflow/internal/token"
	"github.com/hitoshi/leadflow/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandCleanup:
		return runCleanupOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// components はAPIサーバーの依存関係一式。
type components struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildComponents はリポジトリからルーターまでの依存関係をワイヤリングする。
func buildComponents(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *components {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	oauthRepo := repository.NewPostgresOAuthTokenRepo(db)

	// 2. ドメインサービスの初期化
	tokens := newTokenService(cfg, tokenRepo, collector)
	gate := subscription.NewGate(subRepo, subscription.Config{
		GracePeriod:      cfg.SubscriptionGracePeriod,
		AllowedEndpoints: cfg.PublicPaths,
	})
	evaluator := permission.NewEvaluator(userRepo, roleRepo)
	authService := auth.NewService(userRepo, tokens)

	refreshers := map[string]oauthtoken.TokenRefresher{}
	var oauthProvider handler.OAuthProviderInterface
	if cfg.GoogleOAuthEnabled() {
		google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		refreshers[auth.ProviderGoogle] = google
		oauthProvider = google
	}
	oauthManager := oauthtoken.NewManager(oauthRepo, refreshers, collector, oauthtoken.Config{
		RefreshThreshold: cfg.OAuthRefreshThreshold,
	})

	// 3. ミドルウェアの構築
	cookies := middleware.CookieConfig{
		AccessName:  cfg.AccessCookieName,
		RefreshName: cfg.RefreshCookieName,
		Path:        "/",
		Domain:      cfg.CookieDomain,
		Secure:      cfg.CookieSecure,
		SameSite:    cfg.SameSite(),
	}
	authenticator := middleware.NewAuthenticator(tokens, userRepo, gate, collector, middleware.AuthenticationConfig{
		Cookies:     cookies,
		PublicPaths: cfg.PublicPaths,
		ExemptRoles: cfg.SubscriptionExemptRoles,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	// 4. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		Metrics:            collector,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CookieSecure:       cfg.CookieSecure,
		Authentication:     authenticator.Middleware(),
		CSRF: middleware.CSRFConfig{
			CookieSecure:     cfg.CookieSecure,
			CookieDomain:     cfg.CookieDomain,
			AccessCookieName: cfg.AccessCookieName,
		},
		RateLimiter:       rateLimiter,
		PermissionChecker: evaluator,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{Cookies: cookies},

		SubscriptionService: gate,
		PermissionService:   evaluator,
		TokenRevoker:        tokens,

		OAuthProvider: oauthProvider,
		OAuthTokens:   oauthManager,
		OAuthConfig: handler.OAuthHandlerConfig{
			Provider:     auth.ProviderGoogle,
			RedirectURL:  cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},
	}

	return &components{
		router:      handler.NewRouter(deps),
		rateLimiter: rateLimiter,
	}
}

func newTokenService(cfg *config.Config, repo repository.TokenRepository, collector metrics.MetricsCollector) *token.Service {
	return token.NewService(repo, token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, collector)
}

// rateLimiterConfig はreq/min単位の設定値をreq/secに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rl.LoginBurst = cfg.RateLimitLogin
	}
	return rl
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	c := buildComponents(cfg, db, newRegistry())
	defer c.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("google_oauth", cfg.GoogleOAuthEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// トークンレコードのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := newCleanupJob(cfg, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.TokenCleanupInterval),
		slog.Duration("retention", cfg.TokenRetention),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.TokenCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runCleanupOnce はクリーンアップジョブを1回だけ実行して終了する。
func runCleanupOnce(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := newCleanupJob(cfg, db).Run(context.Background()); err != nil {
		return fmt.Errorf("token cleanup failed: %w", err)
	}
	return nil
}

func newCleanupJob(cfg *config.Config, db *sql.DB) *cleanup.CleanupJob {
	tokens := newTokenService(cfg, repository.NewPostgresTokenRepo(db), metrics.NopCollector{})
	job := cleanup.NewCleanupJob(tokens, slog.Default())
	job.Retention = cfg.TokenRetention
	return job
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしは全件適用、"down [n]" はロールバック、"version" は現在のバージョン表示。
func runMigrate(cfg *config.Config, args []string) error {
	action, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var version database.SchemaVersion
	switch action {
	case MigrateDown:
		version, err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	case MigrateVersion:
		version, err = database.CurrentVersion(cfg.DatabaseURL)
	default:
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.String("action", string(action)),
		slog.Uint64("version", uint64(version.Version)),
		slog.Bool("dirty", version.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
