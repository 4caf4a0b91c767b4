package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTP struct {
		Port          string `envconfig:"PORT" default:"8080"`
		AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	}

	Database struct {
		URL         string `envconfig:"DATABASE_URL"`
		AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Auth struct {
		Secret          string `envconfig:"AUTH_SECRET"`
		TokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	}

	Ledger struct {
		Timezone              string `envconfig:"BUSINESS_TIMEZONE" default:"Asia/Jakarta"`
		RolloverEnabled       bool   `envconfig:"ROLLOVER_ENABLED" default:"true"`
		RolloverHour          int    `envconfig:"ROLLOVER_HOUR" default:"0"`
		RolloverLockTTLSecond int    `envconfig:"ROLLOVER_LOCK_TTL_SECONDS" default:"300"`
	}

	Retry struct {
		MaxAttempts int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
		BaseDelayMS int `envconfig:"RETRY_BASE_DELAY_MS" default:"50"`
	}

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)

	if cfg.Auth.TokenTTLMinutes < 1 {
		cfg.Auth.TokenTTLMinutes = 480
	}
	if cfg.Ledger.RolloverHour < 0 || cfg.Ledger.RolloverHour > 23 {
		return Config{}, fmt.Errorf("ROLLOVER_HOUR must be between 0 and 23, got %d", cfg.Ledger.RolloverHour)
	}
	if cfg.Ledger.RolloverLockTTLSecond < 1 {
		cfg.Ledger.RolloverLockTTLSecond = 300
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.HTTP.Port)
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c Config) RolloverLockTTL() time.Duration {
	return time.Duration(c.Ledger.RolloverLockTTLSecond) * time.Second
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}
