package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vinefeed/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// フィード
	FeedCache FeedCacheInterface
	Profiles  ProfileResolverInterface
	Composer  ComposerInterface

	// 視聴履歴
	SeenTracker SeenTrackerInterface

	// ヘルスチェック
	Source SourceStatusInterface

	// メトリクス公開ハンドラー（promhttp）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(GeneralMiddleware)
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	feedHandler := NewFeedHandler(deps.FeedCache, deps.Profiles, deps.Composer)
	videoHandler := NewVideoHandler(deps.FeedCache, deps.SeenTracker)
	eventsHandler := NewEventsHandler(deps.FeedCache)
	healthHandler := NewHealthHandler(deps.FeedCache, deps.Source)

	// --- レート制限外のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/feed", func(r chi.Router) {
			r.Get("/", feedHandler.GetFeed)
			r.Get("/events", eventsHandler.Stream)
			r.Post("/preload", feedHandler.Preload)
			r.Post("/discovery", feedHandler.TriggerDiscovery)
		})

		r.Route("/api/videos/{id}", func(r chi.Router) {
			r.Get("/state", videoHandler.GetState)
			r.Post("/seen", videoHandler.MarkSeen)
			r.Post("/dispose", videoHandler.Dispose)
		})

		r.Post("/api/system/memory-pressure", feedHandler.MemoryPressure)
	})

	return r
}
