package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent はフィード・音声・画像の取得時に送るUser-Agent。
const DefaultUserAgent = "podcatch/1.0 (+https://github.com/hitoshi/podcatch)"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort  string
	MetricsPort string
	// TrustProxy はX-Forwarded-For等からクライアントIPを決定する。リバースプロキシ配下でのみ有効にする。
	TrustProxy bool

	// Rate limit (req/min/IP)
	RateLimitPerMin      int
	WriteRateLimitPerMin int

	// Logging
	LogLevel string

	// Fetch
	FetchTimeout       time.Duration
	ProbeTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchInterval      time.Duration
	UserAgent          string

	// AllowPrivateNetworks はSSRF対策のプライベートIP拒否を無効にする。開発・テスト専用。
	AllowPrivateNetworks bool

	// Episode
	FeedMaxItems           int
	ShortDescriptionLength int
	EpisodeNoTitle         string

	// Image cache
	ImageDir          string
	ImageRatePerSec   float64
	ImageQueueSize    int
	ImageDrainTimeout time.Duration

	// Cleanup
	CleanupInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgresql://") &&
		!strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		return nil, fmt.Errorf("DATABASE_URL must start with postgres:// or sqlite://")
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.TrustProxy = getEnv("TRUST_PROXY", false, strconv.ParseBool)
	cfg.RateLimitPerMin = getEnv("RATE_LIMIT_PER_MIN", 120, positive(strconv.Atoi))
	cfg.WriteRateLimitPerMin = getEnv("WRITE_RATE_LIMIT_PER_MIN", 10, positive(strconv.Atoi))
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.FetchTimeout = getEnv("FETCH_TIMEOUT", 10*time.Second, positive(time.ParseDuration))
	cfg.ProbeTimeout = getEnv("PROBE_TIMEOUT", 5*time.Second, positive(time.ParseDuration))
	cfg.FetchMaxSize = getEnv("FETCH_MAX_SIZE", int64(5<<20), positive(parseInt64))
	cfg.FetchMaxConcurrent = getEnv("FETCH_MAX_CONCURRENT", 10, positive(strconv.Atoi))
	cfg.FetchInterval = getEnv("FETCH_INTERVAL", time.Hour, positive(time.ParseDuration))
	cfg.UserAgent = getEnvString("USER_AGENT", DefaultUserAgent)
	cfg.AllowPrivateNetworks = getEnv("ALLOW_PRIVATE_NETWORKS", false, strconv.ParseBool)
	cfg.FeedMaxItems = getEnv("FEED_MAX_ITEMS", 1000, positive(strconv.Atoi))
	cfg.ShortDescriptionLength = getEnv("SHORT_DESCRIPTION_LENGTH", 200, positive(strconv.Atoi))
	cfg.EpisodeNoTitle = getEnvString("EPISODE_NO_TITLE", "Untitled episode")
	cfg.ImageDir = getEnvString("IMAGE_DIR", "./data/images")
	cfg.ImageRatePerSec = getEnv("IMAGE_RATE_PER_SEC", 2.0, positive(parseFloat64))
	cfg.ImageQueueSize = getEnv("IMAGE_QUEUE_SIZE", 256, positive(strconv.Atoi))
	cfg.ImageDrainTimeout = getEnv("IMAGE_DRAIN_TIMEOUT", 30*time.Second, positive(time.ParseDuration))
	cfg.CleanupInterval = getEnv("CLEANUP_INTERVAL", 6*time.Hour, positive(time.ParseDuration))

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// getEnv は環境変数をparseで変換する。未設定または変換できない値はdefaultValになる。
func getEnv[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	parsed, err := parse(v)
	if err != nil {
		return defaultVal
	}
	return parsed
}

type number interface {
	~int | ~int64 | ~float64
}

// positive は0以下の値を変換エラーとして扱う。
func positive[T number](parse func(string) (T, error)) func(string) (T, error) {
	return func(s string) (T, error) {
		v, err := parse(s)
		if err != nil {
			return v, err
		}
		if v <= 0 {
			return v, fmt.Errorf("must be positive: %s", s)
		}
		return v, nil
	}
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
