package app

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/config"
	"github.com/hitoshi/captionly/internal/database"
	"github.com/hitoshi/captionly/internal/gemini"
	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/handler"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/logger"
	"github.com/hitoshi/captionly/internal/metrics"
	"github.com/hitoshi/captionly/internal/middleware"
	"github.com/hitoshi/captionly/internal/repository"
	"github.com/hitoshi/captionly/internal/session"
	"github.com/hitoshi/captionly/internal/worker/cleanup"
)

// ErrWorkerRequiresDatabase はDATABASE_URLなしでworkerを起動した場合に返される。
var ErrWorkerRequiresDatabase = errors.New("worker requires DATABASE_URL")

// コンパイル時にインターフェース準拠を検証する。
var (
	_ session.IdentityProvider     = (*auth.Service)(nil)
	_ repository.ProfileRepository = (*repository.PostgresProfileRepo)(nil)
	_ repository.HistoryRepository = (*repository.PostgresHistoryRepo)(nil)
	_ middleware.StatusRecorder    = (*metrics.Collector)(nil)
	_ generator.CaptionService     = (*gemini.Client)(nil)
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

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		Usage(w)
		return err
	}

	if cmd == CommandHelp {
		Usage(w)
		return nil
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
		slog.Bool("offline", cfg.OfflineMode()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// Server はAPIサーバーの依存関係一式。
type Server struct {
	Handler  http.Handler
	Registry *session.Registry

	closers []func() error
	limiter *middleware.RateLimiter
}

// Close はセッションを破棄し、外部接続を閉じる。
func (s *Server) Close() {
	s.Registry.Close()
	s.limiter.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("リソースのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// NewServer は設定から全依存関係をワイヤリングする。
// DATABASE_URLが未設定の場合はIDプロバイダーとドキュメントストアなしで構成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{}
	fail := func(err error) (*Server, error) {
		for i := len(s.closers) - 1; i >= 0; i-- {
			_ = s.closers[i]()
		}
		return nil, err
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	deps := session.Deps{
		Metrics: collector,
		Logger:  slog.Default(),
	}
	var healthChecker handler.HealthChecker

	// 2. DB接続とIDプロバイダー
	if !cfg.OfflineMode() {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, db.Close)
		healthChecker = db

		var oauth auth.OAuthProvider
		if cfg.GoogleOAuthEnabled() {
			oauth = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
			})
		}
		deps.Identity = auth.NewService(
			oauth,
			repository.NewPostgresUserRepo(db),
			repository.NewPostgresIdentityRepo(db),
			repository.NewPostgresSessionRepo(db),
			auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		)
		deps.Profiles = repository.NewPostgresProfileRepo(db)
		deps.History = repository.NewPostgresHistoryRepo(db)
	} else {
		slog.Warn("DATABASE_URLが未設定のため、認証なしのローカル専用構成で起動します")
	}

	// 3. ローカルキャッシュ
	if cfg.RedisURL != "" {
		store, err := localcache.NewRedisStore(cfg.RedisURL, cfg.LocalCacheTTL)
		if err != nil {
			return fail(fmt.Errorf("failed to open redis: %w", err))
		}
		s.closers = append(s.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		deps.Cache = store
		slog.Info("redis connection established")
	} else {
		deps.Cache = localcache.NewMemoryStore()
	}

	// 4. 生成AI
	var captionService generator.CaptionService
	if cfg.GeminiEnabled() {
		client, err := gemini.NewClient(gemini.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.GeminiTimeout,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create gemini client: %w", err))
		}
		captionService = client
	} else {
		slog.Warn("GEMINI_API_KEYが未設定のため、キャプション生成は失敗します")
	}
	deps.Generator = generator.NewMediator(captionService, collector)

	// 5. セッションとルーター
	s.Registry = session.NewRegistry(deps, cfg.ControllerIdleTTL)
	s.limiter = middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitGenerate))

	s.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		ClientConfig: middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
		},
		RateLimiter: s.limiter,
		Controllers: s.Registry,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		HealthChecker:  healthChecker,
		MetricsHandler: metrics.Handler(registry),
	})

	return s, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	// 一定時間アクセスのないセッションコントローラーを破棄する
	go srv.Registry.StartCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 生成AIの応答待ちを含む
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.OfflineMode() {
		return ErrWorkerRequiresDatabase
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.OfflineMode() {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established")
	return db, nil
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
