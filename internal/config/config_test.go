package config

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "test-anon-key")
	t.Setenv("BASE_URL", "")
	t.Setenv("SERVER_PORT", "")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 末尾のスラッシュは除去される
	if cfg.PlatformURL != "https://example.supabase.co" {
		t.Errorf("PlatformURL = %q, want %q", cfg.PlatformURL, "https://example.supabase.co")
	}
	if cfg.PlatformAnonKey != "test-anon-key" {
		t.Errorf("PlatformAnonKey = %q, want %q", cfg.PlatformAnonKey, "test-anon-key")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Platform defaults
	if cfg.PlatformTimeout != 10*time.Second {
		t.Errorf("PlatformTimeout = %v, want %v", cfg.PlatformTimeout, 10*time.Second)
	}
	if cfg.StorageBucket != "product-images" {
		t.Errorf("StorageBucket = %q, want %q", cfg.StorageBucket, "product-images")
	}
	if cfg.ImageMaxSize != 5242880 {
		t.Errorf("ImageMaxSize = %d, want %d", cfg.ImageMaxSize, 5242880)
	}

	// Client session defaults
	if cfg.ClientIdleTimeout != 24*time.Hour {
		t.Errorf("ClientIdleTimeout = %v, want %v", cfg.ClientIdleTimeout, 24*time.Hour)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want %v", cfg.SweepInterval, 5*time.Minute)
	}
	if cfg.TokenRefreshInterval != time.Minute {
		t.Errorf("TokenRefreshInterval = %v, want %v", cfg.TokenRefreshInterval, time.Minute)
	}
	if cfg.TokenRefreshWindow != 5*time.Minute {
		t.Errorf("TokenRefreshWindow = %v, want %v", cfg.TokenRefreshWindow, 5*time.Minute)
	}
	if cfg.RefreshMaxConcurrent != 10 {
		t.Errorf("RefreshMaxConcurrent = %d, want %d", cfg.RefreshMaxConcurrent, 10)
	}

	// Rate limit defaults
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 120)
	}
	if cfg.RateLimitAuth != 10 {
		t.Errorf("RateLimitAuth = %d, want %d", cfg.RateLimitAuth, 10)
	}

	// Server defaults
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8080")
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false for http BaseURL")
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("PLATFORM_TIMEOUT", "30s")
	t.Setenv("STORAGE_BUCKET", "images")
	t.Setenv("IMAGE_MAX_SIZE", "1048576")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CLIENT_IDLE_TIMEOUT", "2h")
	t.Setenv("TOKEN_REFRESH_WINDOW", "90s")
	t.Setenv("REFRESH_MAX_CONCURRENT", "3")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("RATE_LIMIT_AUTH", "5")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("BASE_URL", "https://packmart.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.PlatformTimeout != 30*time.Second {
		t.Errorf("PlatformTimeout = %v, want %v", cfg.PlatformTimeout, 30*time.Second)
	}
	if cfg.StorageBucket != "images" {
		t.Errorf("StorageBucket = %q, want %q", cfg.StorageBucket, "images")
	}
	if cfg.ImageMaxSize != 1048576 {
		t.Errorf("ImageMaxSize = %d, want %d", cfg.ImageMaxSize, 1048576)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.ClientIdleTimeout != 2*time.Hour {
		t.Errorf("ClientIdleTimeout = %v, want %v", cfg.ClientIdleTimeout, 2*time.Hour)
	}
	if cfg.TokenRefreshWindow != 90*time.Second {
		t.Errorf("TokenRefreshWindow = %v, want %v", cfg.TokenRefreshWindow, 90*time.Second)
	}
	if cfg.RefreshMaxConcurrent != 3 {
		t.Errorf("RefreshMaxConcurrent = %d, want %d", cfg.RefreshMaxConcurrent, 3)
	}
	if cfg.RateLimitGeneral != 60 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 60)
	}
	if cfg.RateLimitAuth != 5 {
		t.Errorf("RateLimitAuth = %d, want %d", cfg.RateLimitAuth, 5)
	}
	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true for https BaseURL")
	}
}

func TestLoad_InvalidOptionalValue_FallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("PLATFORM_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_AUTH", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.PlatformTimeout != 10*time.Second {
		t.Errorf("PlatformTimeout = %v, want default", cfg.PlatformTimeout)
	}
	if cfg.RateLimitAuth != 10 {
		t.Errorf("RateLimitAuth = %d, want default", cfg.RateLimitAuth)
	}
}

func TestLoad_MissingPlatformURL_ReturnsConfigurationError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SUPABASE_URL", "")

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if len(cfgErr.Missing) != 1 || cfgErr.Missing[0] != "SUPABASE_URL" {
		t.Errorf("Missing = %v, want [SUPABASE_URL]", cfgErr.Missing)
	}
}

func TestLoad_MissingBothRequired_ListsAll(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("Missing = %v, want 2 entries", cfgErr.Missing)
	}
}
