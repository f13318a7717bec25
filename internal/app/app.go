package app

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hitoshi/networkmap/internal/config"
	"github.com/hitoshi/networkmap/internal/database"
	"github.com/hitoshi/networkmap/internal/logger"
)

// Descriptor はブートストラップ処理に渡すアプリケーションのルート記述子。
type Descriptor struct {
	// LogLevels はサブシステムごとのログレベル。キー""はルートロガー。
	LogLevels logger.Levels
}

// BootstrapFunc はアプリケーションを構成して起動する処理。
// サーバーの稼働中はブロックし、終了または起動失敗時に戻る。
type BootstrapFunc func(w io.Writer, args []string, d Descriptor) error

// Main はプロセスのエントリーポイント。
// Webルーティング層のログレベルをDEBUGにした記述子を作り、bootを1回だけ呼び出す。
// argsはそのままbootに渡す。
func Main(w io.Writer, args []string, boot BootstrapFunc) error {
	d := Descriptor{
		LogLevels: logger.Levels{
			logger.SubsystemWeb: slog.LevelDebug,
		},
	}

	if err := boot(w, args, d); err != nil {
		return fmt.Errorf("network map failed: %w", err)
	}
	return nil
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、記述子のレベル設定でロガーのRegistryを構成する。
// ルートレベルが記述子にない場合はLOG_LEVELを使用する。
func Init(w io.Writer, d Descriptor) (*config.Config, *logger.Registry, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	levels := maps.Clone(d.LogLevels)
	if levels == nil {
		levels = logger.Levels{}
	}
	if _, ok := levels[""]; !ok {
		levels[""] = cfg.LogLevel
	}
	reg := logger.NewRegistry(w, levels)
	reg.SetDefault()

	return cfg, reg, nil
}

// Run は本番用のBootstrapFunc。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string, d Descriptor) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, reg, err := Init(w, d)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting network map",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg, reg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 認証情報を含まないURLはそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return raw
	}
	return u.Redacted()
}
