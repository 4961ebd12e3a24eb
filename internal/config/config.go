// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Discord OAuth2
	DiscordClientID     string        `env:"DISCORD_CLIENT_ID,required,notEmpty"`
	DiscordClientSecret string        `env:"DISCORD_CLIENT_SECRET,required,notEmpty"`
	DiscordAPIURL       string        `env:"DISCORD_API_URL" envDefault:"https://discord.com/api/v6"`
	DiscordRedirectURL  string        `env:"DISCORD_REDIRECT_URL"` // 未設定の場合はBASE_URLから導出
	DiscordHTTPTimeout  time.Duration `env:"DISCORD_HTTP_TIMEOUT" envDefault:"10s"`
	DiscordUserAgent    string        `env:"DISCORD_USER_AGENT"`

	// Session
	SessionSecret string `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`
	TokenRetention  time.Duration `env:"TOKEN_RETENTION" envDefault:"720h"`

	// Username history
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"5"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9091"`
	BaseURL           string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool   `env:"-"` // BASE_URLがhttps://で始まる場合にtrue
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DiscordRedirectURL == "" {
		cfg.DiscordRedirectURL = strings.TrimRight(cfg.BaseURL, "/") + "/auth/discord/callback"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DiscordHTTPTimeout <= 0 {
		return fmt.Errorf("DISCORD_HTTP_TIMEOUT must be positive: %s", c.DiscordHTTPTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive: %s", c.CleanupInterval)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %d", c.SessionMaxAge)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive: %d", c.HistoryLimit)
	}
	return nil
}
