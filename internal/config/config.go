package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource  string
	RedisAddr string
	Port      string
	Env       string

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// LockWait bounds how long a transfer may wait on an account lock
	// before failing with a retryable error.
	LockWait time.Duration

	RateLimit         int
	TransferRateLimit int
	RateLimitWindow   time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		DBSource:          dbSource,
		JWTSecret:         secret,
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		Port:              getenv("SERVER_PORT", "8080"),
		Env:               getenv("ENVIRONMENT", "development"),
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		LockWait:          5 * time.Second,
		RateLimit:         20,
		TransferRateLimit: 10,
		RateLimitWindow:   time.Minute,
	}

	var err error
	if cfg.AccessTTL, err = getduration("ACCESS_TOKEN_TTL", cfg.AccessTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getduration("REFRESH_TOKEN_TTL", cfg.RefreshTTL); err != nil {
		return nil, err
	}
	if cfg.LockWait, err = getduration("LOCK_WAIT", cfg.LockWait); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
