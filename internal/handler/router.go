package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/metrics"
	"github.com/hitoshi/mealdash/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない

	// サービス
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → Metrics → SecurityHeaders → CORS
//
// 認証エンドポイントにはIPごとのレート制限、Bearerルートには認証とユーザーごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	bearer := middleware.NewBearerAuthMiddleware(deps.TokenVerifier)

	r.Get("/health", handleHealth)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth/v1", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.SignUp)
			r.Post("/token", authHandler.Token)
			r.Post("/verify", authHandler.Verify)
			r.Get("/verify", authHandler.Verify)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Post("/logout", authHandler.Logout)
			r.Get("/user", authHandler.User)
		})
	})

	r.Route("/rest/v1/profiles", func(r chi.Router) {
		r.Use(bearer)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/", profileHandler.EnsureProfile)
		r.Get("/{id}", profileHandler.GetProfile)
		r.Patch("/{id}", profileHandler.UpdateProfile)
	})

	return r
}

// handleHealth はプロセスの稼働確認に応答する。
// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}
