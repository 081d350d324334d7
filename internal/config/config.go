package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/net/publicsuffix"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// ストアの実装種別
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// minSessionSecretBytes はSESSION_SECRETに要求する最小バイト数。
const minSessionSecretBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Identity provider
	OIDCIssuerURL string `env:"OIDC_ISSUER_URL,notEmpty"`
	OIDCClientID  string `env:"OIDC_CLIENT_ID,notEmpty"`

	// Session
	SessionSecret     string        `env:"SESSION_SECRET,notEmpty"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"120h"`
	BootstrapTokenTTL time.Duration `env:"BOOTSTRAP_TOKEN_TTL" envDefault:"5m"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:4200"`

	// 信頼できるリバースプロキシ配下でX-Forwarded-For等をクライアントIPとして扱う
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Rate Limit (req/min)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL_PER_MIN" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH_PER_MIN" envDefault:"20"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// APP_ENVから導出
	CookieSecure         bool `env:"-"`
	ExposeInternalErrors bool `env:"-"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieDomain = strings.TrimPrefix(cfg.CookieDomain, ".")
	cfg.CookieSecure = cfg.AppEnv != EnvDevelopment
	cfg.ExposeInternalErrors = cfg.AppEnv == EnvDevelopment

	return cfg, nil
}

// IsDevelopment は開発環境で動作しているかどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func (c *Config) validate() error {
	var errs []error

	switch c.AppEnv {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of development, production, test: %q", c.AppEnv))
	}

	switch c.StoreDriver {
	case StorePostgres, StoreSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", c.StoreDriver))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, memory: %q", c.StoreDriver))
	}

	if len(c.SessionSecret) < minSessionSecretBytes {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretBytes))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.BootstrapTokenTTL <= 0 {
		errs = append(errs, errors.New("BOOTSTRAP_TOKEN_TTL must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL_PER_MIN and RATE_LIMIT_AUTH_PER_MIN must be positive"))
	}

	if err := validateCookieDomain(c.CookieDomain); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateCookieDomain はCOOKIE_DOMAINがパブリックサフィックスでないことを検証する。
// 空の場合はホスト限定Cookieとなるため許可する。
func validateCookieDomain(domain string) error {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" {
		return nil
	}
	suffix, _ := publicsuffix.PublicSuffix(domain)
	if suffix == domain {
		return fmt.Errorf("COOKIE_DOMAIN must not be a public suffix: %q", domain)
	}
	return nil
}
