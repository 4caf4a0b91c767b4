package config

import (
	"os"
	"testing"
	"time"
)

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Auth.Secret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.Auth.Secret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BUSINESS_TIMEZONE", "ACCESS_TOKEN_TTL_MINUTES"} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Ledger.Timezone != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta default timezone, got %q", cfg.Ledger.Timezone)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address :8080, got %q", cfg.Address())
	}
	if cfg.TokenTTL() != 8*time.Hour {
		t.Fatalf("expected 8h token ttl, got %s", cfg.TokenTTL())
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_DELAY_MS", "20")
	t.Setenv("ROLLOVER_ENABLED", "false")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.Address())
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.RetryBaseDelay() != 20*time.Millisecond {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Ledger.RolloverEnabled {
		t.Fatalf("expected rollover to be disabled")
	}
	if cfg.Redis.DB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.Redis.DB)
	}
}

func TestLoadRejectsInvalidRolloverHour(t *testing.T) {
	t.Setenv("ROLLOVER_HOUR", "24")

	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid ROLLOVER_HOUR to be rejected")
	}
}
