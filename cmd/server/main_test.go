package main

import (
	"testing"

	"saldo/backend/internal/config"
)

func securityConfig(secret string, timezone string) config.Config {
	var cfg config.Config
	cfg.Auth.Secret = secret
	cfg.Ledger.Timezone = timezone
	return cfg
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(securityConfig("short", "Asia/Jakarta")); err == nil {
		t.Fatalf("expected short AUTH_SECRET to be rejected")
	}
	if err := validateSecurityConfig(securityConfig("0123456789abcdef0123456789abcdef", "Mars/Olympus")); err == nil {
		t.Fatalf("expected unknown timezone to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(securityConfig("0123456789abcdef0123456789abcdef", "Asia/Jakarta"))
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
