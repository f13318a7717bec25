package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/networkmap/internal/metrics"
	"github.com/hitoshi/networkmap/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger // Webルーティング用ロガー
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter // nilの場合は公開エンドポイントを制限しない

	// ネットワークマップ
	NetworkMapService NetworkMapServiceInterface
	CacheWindow       CacheWindow

	// ドアマン
	DoormanService DoormanServiceInterface

	// ブートストラップ
	BaseURL string

	// 監視
	Pinger         Pinger
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders
//
// map-statsはブラウザから参照されるためCORSを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS: strings.HasPrefix(deps.BaseURL, "https://"),
	}))

	nmHandler := NewNetworkMapHandler(deps.NetworkMapService, deps.CacheWindow)
	doormanHandler := NewDoormanHandler(deps.DoormanService)
	bootstrapHandler := NewBootstrapHandler(deps.BaseURL)
	healthHandler := NewHealthHandler(deps.Pinger, logger)

	// 監視
	r.Get("/ping", healthHandler.Ping)
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// ネットワークマップ
	r.Route("/network-map", func(r chi.Router) {
		r.Get("/", nmHandler.NetworkMap)

		publish := r.With()
		if deps.RateLimiter != nil {
			publish = r.With(deps.RateLimiter.Middleware())
		}
		publish.Post("/publish", nmHandler.Publish)

		r.Get("/node-info/{hash}", nmHandler.NodeInfo)
		r.Get("/network-parameters/{hash}", nmHandler.NetworkParameters)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Get("/map-stats", nmHandler.MapStats)
			r.Options("/map-stats", nmHandler.MapStats)
		})
		r.Get("/reset-persisted-nodes", nmHandler.ResetPersistedNodes)
	})
	r.Get("/truststore", nmHandler.TrustStore)

	// ドアマン
	r.Post("/certificate", doormanHandler.SubmitRequest)
	r.Get("/certificate/{id}", doormanHandler.RetrieveCertificates)
	r.Post("/build-dev-certs", doormanHandler.BuildDevCerts)

	// ブートストラップ
	r.Get("/bootstrap/ubuntu", bootstrapHandler.Ubuntu)

	return r
}
