package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/accounts/internal/auth"
	"github.com/hitoshi/accounts/internal/config"
	"github.com/hitoshi/accounts/internal/database"
	"github.com/hitoshi/accounts/internal/handler"
	"github.com/hitoshi/accounts/internal/logger"
	"github.com/hitoshi/accounts/internal/metrics"
	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/security"
	"github.com/hitoshi/accounts/internal/token"
	"github.com/hitoshi/accounts/internal/upload"
	"github.com/hitoshi/accounts/internal/worker/cleanup"
)

const (
	// avatarFolder はCloudinary上でアバター画像を保存するフォルダ。
	avatarFolder = "avatars"
	// tempCleanupInterval は残存したアバター一時ファイルの掃除間隔。
	tempCleanupInterval = 15 * time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("user_store", cfg.UserStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, migrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ユーザーストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. ユーザーストア
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := openUserStore(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.close(closeCtx); err != nil {
			slog.Error("failed to close user store", slog.String("error", err.Error()))
		}
	}()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router, err := buildRouter(cfg, store, recorder, metrics.Handler(registry), rateLimiter)
	if err != nil {
		return err
	}

	// 4. 一時ファイルの定期掃除
	sweeper := cleanup.NewTempFileJob(cfg.UploadTempDir, handler.AvatarTempPrefix, slog.Default())
	go sweeper.Start(ctx, tempCleanupInterval)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UploadTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はユーザーストアと設定から全ハンドラーを組み立てる。
func buildRouter(
	cfg *config.Config,
	store *userStore,
	recorder metrics.Recorder,
	metricsHandler http.Handler,
	rateLimiter *middleware.RateLimiter,
) (http.Handler, error) {
	issuer := token.NewIssuer(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		AccessExpiry:  cfg.AccessTokenExpiry,
		RefreshSecret: cfg.RefreshTokenSecret,
		RefreshExpiry: cfg.RefreshTokenExpiry,
	})

	uploader, err := upload.NewClient(slog.Default(), upload.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    avatarFolder,
	})
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(
		store.repo, uploader, issuer, security.NewTextSanitizer(), recorder,
		auth.ServiceConfig{UploadTimeout: cfg.UploadTimeout},
	)

	var csrf *middleware.CSRFConfig
	if cfg.CSRFEnabled {
		csrf = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TokenVerifier:     issuer,
		UserFinder:        store.repo,
		CSRF:              csrf,
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		UserService: authService,
		UserConfig: handler.UserHandlerConfig{
			Cookies: handler.CookieConfig{
				Secure:        cfg.CookieSecure,
				Domain:        cfg.CookieDomain,
				AccessMaxAge:  int(cfg.AccessTokenExpiry.Seconds()),
				RefreshMaxAge: int(cfg.RefreshTokenExpiry.Seconds()),
			},
			AvatarMaxSize: cfg.AvatarMaxSize,
			UploadTempDir: cfg.UploadTempDir,
		},

		HealthCheck:    store.healthCheck,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
	})
	return router, nil
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのリミッター設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rl.AuthBurst = cfg.RateLimitAuth
	}
	return rl
}

// runMigrate はデータベースマイグレーションを実行する。
// downの場合は直近の1件をロールバックする。Postgres以外のストアでは何もしない。
func runMigrate(cfg *config.Config, direction string) error {
	if cfg.UserStore != config.StorePostgres {
		slog.Info("migrations are only applied to postgres; mongo indexes are created on serve",
			slog.String("user_store", cfg.UserStore),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	if direction == "down" {
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migration rolled back")
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
