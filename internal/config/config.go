// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// 状態ストアの種類。
const (
	StateStorePostgres = "postgres"
	StateStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	// Token
	// 有効期間は30日固定（token.DefaultTTL）
	JWTSecret string `env:"JWT_SECRET"`

	// OAuth
	CallbackURL        string        `env:"CALLBACK_URL"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	YandexClientID     string        `env:"YANDEX_CLIENT_ID"`
	VKClientID         string        `env:"VK_CLIENT_ID"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// State store
	StateStore string `env:"STATE_STORE" envDefault:"postgres"`
	RedisURL   string `env:"REDIS_URL"`

	// Captcha
	RecaptchaSecret   string  `env:"RECAPTCHA_SECRET_KEY"`
	RecaptchaMinScore float64 `env:"RECAPTCHA_MIN_SCORE" envDefault:"0.5"`
	CaptchaDisabled   bool    `env:"CAPTCHA_DISABLED" envDefault:"false"`

	// Worker
	StateCleanupInterval time.Duration `env:"STATE_CLEANUP_INTERVAL" envDefault:"24h"`

	// Rate Limit（req/min/client）
	RateLimitAuth       int  `env:"RATE_LIMIT_AUTH" envDefault:"30"`
	RateLimitTrustProxy bool `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin    string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	CallbackTargetOrigin string `env:"CALLBACK_TARGET_ORIGIN" envDefault:"*"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。署名鍵やcaptchaの秘密鍵にデフォルト値は使わない。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.CallbackURL == "" {
		missing = append(missing, "CALLBACK_URL")
	}
	if cfg.RecaptchaSecret == "" && !cfg.CaptchaDisabled {
		missing = append(missing, "RECAPTCHA_SECRET_KEY")
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if cfg.StateStore == StateStoreRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の整合性を検証する。
func (c *Config) validate() error {
	switch c.StateStore {
	case StateStorePostgres, StateStoreRedis:
	default:
		return fmt.Errorf("STATE_STORE must be %q or %q, got %q", StateStorePostgres, StateStoreRedis, c.StateStore)
	}

	u, err := url.Parse(c.CallbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CALLBACK_URL must be an absolute URL, got %q", c.CallbackURL)
	}

	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive, got %s", c.OAuthStateTTL)
	}
	if c.RateLimitAuth < 1 {
		return fmt.Errorf("RATE_LIMIT_AUTH must be at least 1, got %d", c.RateLimitAuth)
	}
	return nil
}
