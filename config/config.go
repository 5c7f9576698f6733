// Package config loads the gateway's configuration from file, environment
// and defaults. Secrets held here (the downstream API key, the OAuth
// client secret, the cookie encryption key) are read server-side only and
// must never appear in any value returned to a caller.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway server.
type Config struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// HostedDomain is the single organizational email suffix permitted for
	// OAuth-authenticated users.
	HostedDomain string `mapstructure:"HOSTED_DOMAIN"`

	// Redis backing store for token records. An empty address means no
	// store is configured: token operations fail, the OAuth path still
	// works.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// Server-side secrets. Never logged, never echoed.
	DataAPIKey          string `mapstructure:"DATA_API_KEY"`
	OAuthClientID       string `mapstructure:"OAUTH_CLIENT_ID"`
	OAuthClientSecret   string `mapstructure:"OAUTH_CLIENT_SECRET"`
	CookieEncryptionKey string `mapstructure:"COOKIE_ENCRYPTION_KEY"`
}

// Load reads configuration from an optional config file, environment
// variables and defaults, in that order of precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mcpgw/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("HOSTED_DOMAIN", "agile6.com")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "mcpgw")
	// Secrets default empty so their env bindings are known to viper.
	v.SetDefault("DATA_API_KEY", "")
	v.SetDefault("OAUTH_CLIENT_ID", "")
	v.SetDefault("OAUTH_CLIENT_SECRET", "")
	v.SetDefault("COOKIE_ENCRYPTION_KEY", "")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.HostedDomain == "" {
		return nil, fmt.Errorf("HOSTED_DOMAIN must be set")
	}
	return &cfg, nil
}

// HasTokenStore reports whether a backing store is configured for token
// operations.
func (c *Config) HasTokenStore() bool {
	return c.RedisAddr != ""
}
