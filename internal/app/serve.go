package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/config"
	"github.com/hitoshi/networkmap/internal/database"
	"github.com/hitoshi/networkmap/internal/doorman"
	"github.com/hitoshi/networkmap/internal/handler"
	"github.com/hitoshi/networkmap/internal/logger"
	"github.com/hitoshi/networkmap/internal/metrics"
	"github.com/hitoshi/networkmap/internal/middleware"
	"github.com/hitoshi/networkmap/internal/networkmap"
	"github.com/hitoshi/networkmap/internal/notaries"
	"github.com/hitoshi/networkmap/internal/repository"
	"github.com/hitoshi/networkmap/internal/security"
)

// repositories はストレージ種別に応じて生成したリポジトリ一式。
type repositories struct {
	nodeInfos repository.NodeInfoRepository
	params    repository.NetworkParamsRepository
	requests  repository.CertificateRequestRepository
	pinger    handler.Pinger // インメモリの場合はnil
	close     func() error
}

// openRepositories はDATABASE_URLに応じてリポジトリを生成する。
// SQLの場合は接続を確認し、未適用のマイグレーションを適用する。
func openRepositories(ctx context.Context, databaseURL string) (*repositories, error) {
	driver, err := database.DriverFor(databaseURL)
	if err != nil {
		return nil, err
	}

	if driver == database.DriverMemory {
		slog.Warn("using in-memory storage; published node infos are lost on restart")
		return &repositories{
			nodeInfos: repository.NewMemoryNodeInfoRepo(),
			params:    repository.NewMemoryNetworkParamsRepo(),
			requests:  repository.NewMemoryCertificateRequestRepo(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established", slog.String("driver", string(db.Driver)))

	if err := database.RunMigrations(databaseURL); err != nil {
		db.Close()
		return nil, err
	}

	return &repositories{
		nodeInfos: repository.NewSQLNodeInfoRepo(db),
		params:    repository.NewSQLNetworkParamsRepo(db),
		requests:  repository.NewSQLCertificateRequestRepo(db),
		pinger:    db,
		close:     db.Close,
	}, nil
}

// newNotaryLoader は設定されたノータリーの読み込み元を連結したLoaderを返す。
func newNotaryLoader(cfg *config.Config, log *slog.Logger) notaries.Loader {
	loaders := notaries.MultiLoader{
		notaries.NewFilesystemLoader(cfg.NodesDirectory, log),
	}
	if cfg.NotaryDirectory != "" {
		loaders = append(loaders, notaries.NewFolderLoader(cfg.NotaryDirectory, log))
	}
	if len(cfg.NotaryNodeInfoURLs) > 0 {
		loaders = append(loaders, notaries.NewRemoteLoader(
			cfg.NotaryNodeInfoURLs, security.NewSSRFGuard(), log, cfg.FetchTimeout, cfg.FetchMaxSize,
		))
	}
	return loaders
}

// server は構成済みのHTTPハンドラーと、停止時に解放するリソースを保持する。
type server struct {
	handler    http.Handler
	networkMap *networkmap.Service
	closers    []func()
}

// Close は構成したリソースを生成と逆順に解放する。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer は設定からサービスとルーターを構成する。
func buildServer(ctx context.Context, cfg *config.Config, reg *logger.Registry, promReg *prometheus.Registry) (_ *server, err error) {
	s := &server{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// 1. ストレージ
	repos, err := openRepositories(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := repos.close(); err != nil {
			slog.Error("failed to close database", slog.String("error", err.Error()))
		}
	})

	// 2. 認証局
	if repos.pinger != nil && cfg.CertificatesDirectory == "" {
		return nil, errors.New("CERTIFICATES_DIRECTORY must be set when node infos are persisted")
	}
	authority, err := certificates.LoadOrCreateAuthority(cfg.CertificatesDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate authority: %w", err)
	}

	// 3. メトリクス
	collector := metrics.NewCollector(promReg)

	// 4. ネットワークマップ
	nmService, err := networkmap.NewService(ctx, networkmap.Deps{
		NodeInfos: repos.nodeInfos,
		Params:    repos.params,
		Authority: authority,
		Notaries:  newNotaryLoader(cfg, reg.Logger(logger.SubsystemNotaries)),
		Parameters: networkmap.ParametersConfig{
			MinimumPlatformVersion: cfg.MinimumPlatformVersion,
			MaxMessageSize:         cfg.MaxMessageSize,
			MaxTransactionSize:     cfg.MaxTransactionSize,
			Epoch:                  cfg.Epoch,
		},
		Sanitizer: security.NewNameSanitizer(),
		Metrics:   collector,
		Logger:    reg.Logger(logger.SubsystemNetworkMap),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start network map service: %w", err)
	}
	s.networkMap = nmService
	s.closers = append(s.closers, nmService.Close)

	// 5. ドアマン
	doormanService := doorman.NewService(repos.requests, authority, collector, reg.Logger(logger.SubsystemDoorman))

	// 6. ルーター
	webLogger := reg.Logger(logger.SubsystemWeb)
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitPublish), webLogger)
	s.closers = append(s.closers, rateLimiter.Stop)

	s.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            webLogger,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		NetworkMapService: nmService,
		CacheWindow: handler.CacheWindow{
			Min: cfg.CacheMaxAgeMin,
			Max: cfg.CacheMaxAgeMax,
		},
		DoormanService: doormanService,
		BaseURL:        cfg.BaseURL,
		Pinger:         repos.pinger,
		MetricsHandler: metrics.Handler(promReg),
	})

	return s, nil
}

// runServe はネットワークマップサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンする。
func runServe(cfg *config.Config, reg *logger.Registry) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := buildServer(ctx, cfg, reg, promReg)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("network map server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("parameters_hash", srv.networkMap.ParametersHash().String()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down network map server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("network map server stopped gracefully")
	return nil
}
