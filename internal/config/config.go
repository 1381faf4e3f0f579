package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Platform
	PlatformURL     string
	PlatformAnonKey string
	PlatformTimeout time.Duration

	// Storage
	StorageBucket string
	ImageMaxSize  int64

	// Database（migrateコマンドのみで使用）
	DatabaseURL string

	// Redis（未設定の場合はインメモリで保持）
	RedisURL string

	// Client session
	ClientIdleTimeout    time.Duration
	SweepInterval        time.Duration
	TokenRefreshInterval time.Duration
	TokenRefreshWindow   time.Duration
	RefreshMaxConcurrent int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// ConfigurationError は必須の環境変数が未設定であることを表す。
// 起動時に致命的エラーとして扱い、実行時には発生しない。
type ConfigurationError struct {
	Missing []string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("required environment variables are not set: %v", e.Missing)
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は*ConfigurationErrorを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.PlatformURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.PlatformURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.PlatformAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.PlatformAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}

	// 任意項目は解析できない値なら既定値にする
	cfg.PlatformTimeout = env("PLATFORM_TIMEOUT", 10*time.Second, time.ParseDuration)
	cfg.StorageBucket = env("STORAGE_BUCKET", "product-images", asString)
	cfg.ImageMaxSize = env("IMAGE_MAX_SIZE", int64(5<<20), parseInt64)
	cfg.DatabaseURL = env("DATABASE_URL", "", asString)
	cfg.RedisURL = env("REDIS_URL", "", asString)
	cfg.ClientIdleTimeout = env("CLIENT_IDLE_TIMEOUT", 24*time.Hour, time.ParseDuration)
	cfg.SweepInterval = env("SWEEP_INTERVAL", 5*time.Minute, time.ParseDuration)
	cfg.TokenRefreshInterval = env("TOKEN_REFRESH_INTERVAL", time.Minute, time.ParseDuration)
	cfg.TokenRefreshWindow = env("TOKEN_REFRESH_WINDOW", 5*time.Minute, time.ParseDuration)
	cfg.RefreshMaxConcurrent = env("REFRESH_MAX_CONCURRENT", 10, strconv.Atoi)
	cfg.RateLimitGeneral = env("RATE_LIMIT_GENERAL", 120, strconv.Atoi)
	cfg.RateLimitAuth = env("RATE_LIMIT_AUTH", 10, strconv.Atoi)
	cfg.ServerPort = env("SERVER_PORT", "8080", asString)
	cfg.BaseURL = env("BASE_URL", "http://localhost:"+cfg.ServerPort, asString)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = env("COOKIE_DOMAIN", "", asString)
	cfg.CORSAllowedOrigin = env("CORS_ALLOWED_ORIGIN", "http://localhost:3000", asString)

	return cfg, nil
}

// env は環境変数をparseで読み取る。未設定または解析失敗ならdefを返す。
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func asString(s string) (string, error) { return s, nil }

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
