package app

import (
	"context"
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

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/config"
	"github.com/hitoshi/packmart/internal/dashboard"
	"github.com/hitoshi/packmart/internal/database"
	"github.com/hitoshi/packmart/internal/handler"
	"github.com/hitoshi/packmart/internal/logger"
	"github.com/hitoshi/packmart/internal/messaging"
	"github.com/hitoshi/packmart/internal/metrics"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/repository"
	"github.com/hitoshi/packmart/internal/security"
	"github.com/hitoshi/packmart/internal/session"
	"github.com/hitoshi/packmart/internal/worker/cleanup"
	"github.com/hitoshi/packmart/internal/worker/refresh"
)

// clientCookieMaxAge はクライアント識別Cookieの有効期間。
// リフレッシュトークンの保持期間と揃える。
const clientCookieMaxAge = 30 * 24 * time.Hour

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はserveモードで組み立てた依存関係一式。
type server struct {
	handler   http.Handler
	manager   *session.Manager
	purger    cleanup.Purger
	collector *metrics.Collector
	catalog   *catalog.Service
	messaging *messaging.Service
	limiter   *middleware.RateLimiter
	closers   []io.Closer
}

// newServer はプラットフォームクライアント・セッション管理・各サービスを生成し、
// ルーターまで配線する。regにはメトリクスを登録する。
func newServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. プラットフォームクライアント
	client, err := platform.New(platform.Config{
		URL:      cfg.PlatformURL,
		AnonKey:  cfg.PlatformAnonKey,
		Timeout:  cfg.PlatformTimeout,
		Observer: collector,
		Logger:   slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	// 2. トークン保管先（REDIS_URL未設定の場合はプロセス内メモリ）
	s := &server{collector: collector}
	var vault session.Vault
	if cfg.RedisURL != "" {
		rv, err := session.OpenRedisVault(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		vault = rv
		s.closers = append(s.closers, rv)
		slog.Info("token vault: redis")
	} else {
		mv := session.NewMemoryVault()
		vault = mv
		s.purger = mv
		slog.Info("token vault: memory")
	}

	// 3. リポジトリ
	profileRepo := repository.NewPlatformProfileRepo(client)
	productRepo := repository.NewPlatformProductRepo(client)
	orderRepo := repository.NewPlatformOrderRepo(client)
	quoteRepo := repository.NewPlatformQuoteRepo(client)
	savedRepo := repository.NewPlatformSavedProductRepo(client)
	messageRepo := repository.NewPlatformMessageRepo(client)

	// 4. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	s.catalog = catalog.NewService(
		productRepo,
		client,
		catalog.NewImageImporter(security.NewSSRFGuard(), cfg.ImageMaxSize),
		sanitizer,
		catalog.Options{Bucket: cfg.StorageBucket, MaxImageSize: cfg.ImageMaxSize},
	)
	dashboardService := dashboard.NewService(productRepo, orderRepo, quoteRepo, savedRepo)
	s.messaging = messaging.NewService(messageRepo, messaging.NewPlatformRealtime(client.Realtime()), sanitizer)

	// 5. クライアントごとのセッション
	s.manager = session.NewManager(session.Deps{
		Auth:     client,
		Profiles: profileRepo,
		Vault:    vault,
		Observer: collector,
		OnTokenRefreshed: func(clientID, accessToken string) {
			s.messaging.Views().UpdateToken(clientID, accessToken)
		},
	}, cfg.ClientIdleTimeout)
	s.manager.OnEvict(func(clientID string) {
		s.catalog.Views().Forget(clientID)
		s.messaging.Views().CloseClient(clientID)
	})

	collector.RegisterGauge("packmart_clients", "保持しているブラウザクライアント数", s.manager.Len)
	collector.RegisterGauge("packmart_browse_views", "保持している商品一覧ビュー数", s.catalog.Views().Len)
	collector.RegisterGauge("packmart_conversation_views", "開いている会話ビュー数", s.messaging.Views().Len)
	collector.RegisterGauge("packmart_realtime_subscriptions", "リアルタイム購読数", client.Realtime().ActiveSubscriptions)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 6. ルーター
	s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	s.handler = handler.NewRouter(&handler.RouterDeps{
		StoreProvider: s.manager,
		ClientConfig: middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       clientCookieMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
			TrustedOrigin: cfg.CORSAllowedOrigin,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       s.limiter,
		Logger:            slog.Default(),

		HTTPRecorder:   collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  client,

		AuthConfig: handler.AuthHandlerConfig{
			OnLogout: s.messaging.Views().CloseClient,
		},

		CatalogService: s.catalog,
		MaxImageSize:   cfg.ImageMaxSize,

		DashboardService: dashboardService,

		MessagingService: handler.NewMessagingServiceAdapter(s.messaging),
		MessageConfig:    handler.MessageHandlerConfig{AllowedOrigin: cfg.CORSAllowedOrigin},
	})

	return s, nil
}

// startWorkers はトークン更新とアイドルクライアント破棄をバックグラウンドで開始する。
// ctxがキャンセルされると停止する。
func (s *server) startWorkers(ctx context.Context, cfg *config.Config) {
	scheduler := refresh.NewScheduler(
		refresh.ManagerSource(s.manager), s.collector, slog.Default(),
		cfg.TokenRefreshWindow, cfg.RefreshMaxConcurrent,
	)
	go scheduler.Start(ctx, cfg.TokenRefreshInterval)

	cleanupJob := cleanup.NewCleanupJob(s.manager, s.purger, s.collector, slog.Default())
	go cleanupJob.Start(ctx, cfg.SweepInterval)
}

// close は開いている会話ビューと外部接続を閉じる。
func (s *server) close() {
	s.messaging.Views().CloseAll()
	s.limiter.Stop()
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、バックグラウンドワーカーとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := newServer(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer s.close()

	s.startWorkers(ctx, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     s.handler,
		ReadTimeout: 15 * time.Second,
		// WebSocketストリームは書き込みごとに期限を設定するため、ここでは制限しない。
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はプラットフォームスキーマのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return &config.ConfigurationError{Missing: []string{"DATABASE_URL"}}
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Ping(context.Background(), db, 10*time.Second); err != nil {
		return err
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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
