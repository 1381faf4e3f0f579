package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	StoreProvider     middleware.StoreProvider
	ClientConfig      middleware.ClientConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（nilの場合は/metricsを公開しない）
	HTTPRecorder   middleware.HTTPRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthConfig AuthHandlerConfig

	// 商品
	CatalogService CatalogService
	MaxImageSize   int64

	// ダッシュボード
	DashboardService DashboardService

	// メッセージ
	MessagingService MessagingService
	MessageConfig    MessageHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → CORS → Logging → Metrics
//	  → Client → RateLimit(General) → CSRF → RequireSession / RequireRole
//
// /health と /metrics はクライアント識別の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.ClientConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthConfig)
	productHandler := NewProductHandler(deps.CatalogService)
	supplierHandler := NewSupplierHandler(deps.CatalogService, deps.DashboardService, deps.MaxImageSize)
	buyerHandler := NewBuyerHandler(deps.DashboardService)
	messageHandler := NewMessageHandler(deps.MessagingService, deps.MessageConfig)

	// --- クライアント識別不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ブラウザクライアントのルート ---
	// ミドルウェアスタック: Client → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.StoreProvider, deps.ClientConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.Get("/api/navigate", Navigate)
		r.Get("/api/categories", Categories)

		// 認証（ログイン・サインアップは認証用レート制限を追加）
		r.Route("/api/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.Signup)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Post("/profile", authHandler.CompleteProfile)
		})

		// 商品の閲覧は未ログインでも可能
		r.Route("/api/products", func(r chi.Router) {
			r.Get("/", productHandler.Browse)
			r.Get("/{id}", productHandler.Detail)
		})

		// サプライヤー
		r.Route("/api/supplier", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleSupplier))
			r.Get("/products", supplierHandler.Products)
			r.Post("/products", supplierHandler.AddProduct)
			r.Get("/orders", supplierHandler.Orders)
			r.Get("/analytics", supplierHandler.Analytics)
			r.Put("/profile", supplierHandler.UpdateProfile)
		})

		// バイヤー
		r.Route("/api/buyer", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleBuyer))
			r.Get("/orders", buyerHandler.Orders)
			r.Get("/quotes", buyerHandler.Quotes)
			r.Route("/saved-products", func(r chi.Router) {
				r.Get("/", buyerHandler.SavedProducts)
				r.Post("/{productId}", buyerHandler.SaveProduct)
				r.Delete("/{productId}", buyerHandler.RemoveSavedProduct)
			})
		})

		// メッセージ（ロールを問わずログイン必須）
		r.Route("/api/messages", func(r chi.Router) {
			r.Use(middleware.RequireSession())
			r.Get("/", messageHandler.List)
			r.Route("/{participantId}", func(r chi.Router) {
				r.Get("/", messageHandler.History)
				r.Post("/", messageHandler.Send)
				r.Get("/stream", messageHandler.Stream)
			})
		})
	})

	return r
}
