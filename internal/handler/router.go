package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/captionly/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	ClientConfig      middleware.ClientConfig
	RateLimiter       *middleware.RateLimiter

	// セッション
	Controllers ControllerResolver
	AuthConfig  AuthHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Client → CSRF → RateLimit(General)
//
// ヘルスチェックとメトリクスはクライアントミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.ClientConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.Controllers)
	authHandler := NewAuthHandler(deps.Controllers, deps.AuthConfig)
	captionHandler := NewCaptionHandler(deps.Controllers)
	historyHandler := NewHistoryHandler(deps.Controllers)
	accountHandler := NewAccountHandler(deps.Controllers)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- クライアントIDが必要なルート ---
	// ミドルウェアスタック: Client → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.ClientConfig))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
		r.Get("/api/options", Options)

		// セッション状態
		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Post("/guest", sessionHandler.ContinueAsGuest)
			r.Post("/signup-redirect", sessionHandler.SignUpRedirect)
			r.Put("/screen", sessionHandler.Navigate)
			r.Delete("/notification", sessionHandler.DismissNotification)
		})

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/signup", authHandler.SignUp)
			r.Post("/logout", authHandler.Logout)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		})

		// キャプション生成
		r.Route("/api/captions", func(r chi.Router) {
			// POST /api/captions - 生成（生成専用レート制限を追加）
			r.With(deps.RateLimiter.GenerateMiddleware()).Post("/", captionHandler.Generate)
			r.Delete("/current", captionHandler.ClearCurrent)
			r.Get("/current/share", captionHandler.ShareCurrent)
		})

		// 履歴
		r.Route("/api/history", func(r chi.Router) {
			r.Get("/", historyHandler.List)
			r.Post("/", historyHandler.Save)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", historyHandler.Delete)
				r.Get("/share", historyHandler.Share)
			})
		})

		// 連携アカウント
		r.Post("/api/integrations/{platform}/toggle", accountHandler.ToggleIntegration)

		// 料金プラン
		r.Route("/api/pricing", func(r chi.Router) {
			r.Post("/upgrade", accountHandler.Upgrade)
			r.Post("/contact", accountHandler.ContactSales)
		})
	})

	return r
}
