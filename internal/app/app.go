// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hitoshi/vinefeed/internal/composer"
	"github.com/hitoshi/vinefeed/internal/config"
	"github.com/hitoshi/vinefeed/internal/database"
	"github.com/hitoshi/vinefeed/internal/feedcache"
	"github.com/hitoshi/vinefeed/internal/handler"
	"github.com/hitoshi/vinefeed/internal/logger"
	"github.com/hitoshi/vinefeed/internal/metrics"
	"github.com/hitoshi/vinefeed/internal/middleware"
	"github.com/hitoshi/vinefeed/internal/player"
	"github.com/hitoshi/vinefeed/internal/profile"
	"github.com/hitoshi/vinefeed/internal/relay"
	"github.com/hitoshi/vinefeed/internal/security"
	"github.com/hitoshi/vinefeed/internal/seen"
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
		slog.String("relay_url", cfg.RelayURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はフィードエンジンをAPIサーバーモードで起動する。
// リレー接続・フィードキャッシュ・コンポーザーをワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. マイグレーションとDB接続
	// ローカルSQLiteのため、起動時に未適用マイグレーションを自動適用する
	if err := database.RunMigrations(cfg.DatabasePath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("path", cfg.DatabasePath),
	)

	// 2. 視聴履歴ストアの初期化
	seenStore, err := seen.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to initialize seen store: %w", err)
	}

	slog.Info("seen history loaded", slog.Int("count", seenStore.Count()))

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// 4. セキュリティサービスの初期化
	guard := security.NewMediaGuard()
	sanitizer := security.NewContentSanitizer()

	// 5. 再生リソースプールとローダーの初期化
	pool := player.NewPool(cfg.PoolCapacity)
	loader := player.NewProbeLoader(guard, slog.Default(), cfg.PreloadTimeout)

	// 6. フィードキャッシュの初期化
	cache := feedcache.New(
		feedcache.Options{
			MaxVideos:              cfg.MaxVideos,
			PreloadAhead:           cfg.PreloadAhead,
			PreloadBehind:          cfg.PreloadBehind,
			MaxRetries:             cfg.MaxRetries,
			PreloadTimeout:         cfg.PreloadTimeout,
			EnableMemoryManagement: cfg.EnableMemoryManagement,
			MemoryTrimFraction:     cfg.MemoryTrimFraction,
		},
		seenStore, loader, pool, slog.Default(), collector,
	)
	defer cache.Close()

	// 7. リレー接続
	client, err := relay.Dial(ctx, cfg.RelayURL,
		cfg.RelayRateLimit, cfg.RelayRateBurst, slog.Default(), collector)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer client.Close()

	// 8. プロフィール解決サービスの初期化
	profileSvc, err := profile.NewService(
		client, cfg.ProfileCacheSize, cfg.ProfileBatchTimeout,
		slog.Default(), collector,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize profile service: %w", err)
	}

	// 9. コンポーザーの初期化と起動
	comp := composer.New(
		client, cache, profileSvc, guard, sanitizer,
		slog.Default(), collector,
		composer.Config{
			SocialThreshold: cfg.SocialThreshold,
			Following:       cfg.Following,
			FallbackAuthors: cfg.FallbackAuthors,
			SubscribeLimit:  cfg.SubscribeLimit,
		},
	)
	if err := comp.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize composer: %w", err)
	}
	go comp.Run(ctx)

	// 10. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		FeedCache:   cache,
		Profiles:    profileSvc,
		Composer:    comp,
		SeenTracker: seenStore,
		Source:      client,

		MetricsHandler: metricsHandler,
	}

	router := handler.NewRouter(deps)

	// 11. HTTPサーバーの起動
	// SSE配信（/api/feed/events）のためWriteTimeoutは設定しない
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	// バックグラウンド遷移時は再生中の動画を一時停止する
	cache.Registry().PauseAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_path", cfg.DatabasePath),
	)

	if err := database.RunMigrations(cfg.DatabasePath); err != nil {
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
