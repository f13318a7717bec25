package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort      string
	BaseURL         string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel slog.Level

	// Notaries
	NodesDirectory     string
	NotaryDirectory    string
	NotaryNodeInfoURLs []string
	FetchTimeout       time.Duration
	FetchMaxSize       int64

	// Certificates
	CertificatesDirectory string

	// Network parameters
	MinimumPlatformVersion int
	MaxMessageSize         int
	MaxTransactionSize     int
	Epoch                  int

	// Cache-Control max-age の範囲（秒）
	CacheMaxAgeMin int
	CacheMaxAgeMax int

	// Rate Limit（req/min/client）
	RateLimitPublish int

	// CORS
	CORSAllowedOrigin string
}

// supportedSchemes はDATABASE_URLで受け付けるスキーム。
var supportedSchemes = []string{"postgres://", "postgresql://", "sqlite://", "memory://"}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があり、不正な値はデフォルト値で置き換える。
// DATABASE_URLのスキームが未対応の場合とキャッシュ範囲が逆転している場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = getEnvString("DATABASE_URL", "sqlite://network_map.db")
	if !hasSupportedScheme(cfg.DatabaseURL) {
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme (supported: %v)", supportedSchemes)
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort), "/")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)

	cfg.NodesDirectory = getEnvString("NODES_DIRECTORY", "nodes")
	cfg.NotaryDirectory = getEnvString("NOTARY_DIRECTORY", "")
	cfg.NotaryNodeInfoURLs = getEnvList("NOTARY_NODE_INFO_URLS")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 1048576)

	cfg.CertificatesDirectory = getEnvString("CERTIFICATES_DIRECTORY", "certificates")

	cfg.MinimumPlatformVersion = getEnvInt("MIN_PLATFORM_VERSION", 1)
	cfg.MaxMessageSize = getEnvInt("MAX_MESSAGE_SIZE", 10485760)
	cfg.MaxTransactionSize = getEnvInt("MAX_TRANSACTION_SIZE", math.MaxInt32)
	cfg.Epoch = getEnvInt("EPOCH", 10)

	cfg.CacheMaxAgeMin = getEnvInt("CACHE_MAX_AGE_MIN", 10)
	cfg.CacheMaxAgeMax = getEnvInt("CACHE_MAX_AGE_MAX", 30)
	if cfg.CacheMaxAgeMin < 0 || cfg.CacheMaxAgeMin > cfg.CacheMaxAgeMax {
		return nil, fmt.Errorf("invalid cache max-age range: %d..%d", cfg.CacheMaxAgeMin, cfg.CacheMaxAgeMax)
	}

	cfg.RateLimitPublish = getEnvInt("RATE_LIMIT_PUBLISH", 60)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func hasSupportedScheme(databaseURL string) bool {
	for _, s := range supportedSchemes {
		if strings.HasPrefix(databaseURL, s) {
			return true
		}
	}
	return false
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
