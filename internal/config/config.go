// Package config loads process configuration from a .env file, an optional
// coursechat.yaml and COURSECHAT_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig is optional: an empty Addr disables the enrollment cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ChatConfig struct {
	// TestAccessEnabled lets connections request the enrollment bypass.
	// Must stay off in production.
	TestAccessEnabled  bool          `mapstructure:"test_access_enabled"`
	DevTokens          bool          `mapstructure:"dev_tokens"`
	EnrollmentCacheTTL time.Duration `mapstructure:"enrollment_cache_ttl"`
	OperationTimeout   time.Duration `mapstructure:"operation_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var ErrMissingJWTSecret = errors.New("auth.jwt_secret must be set")

// Load reads the configuration. A missing .env or config file is not an error.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", slog.Any("error", err))
	}

	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.dsn", "host=localhost user=user password=password dbname=coursechat port=5432 sslmode=disable")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "coursechat")
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)
	v.SetDefault("chat.test_access_enabled", false)
	v.SetDefault("chat.dev_tokens", false)
	v.SetDefault("chat.enrollment_cache_ttl", DefaultEnrollmentCacheTTL)
	v.SetDefault("chat.operation_timeout", DefaultOperationTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetConfigName("coursechat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COURSECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Debug("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Chat.TestAccessEnabled {
		logger.Warn("test access bypass is ENABLED; enrollment checks can be skipped by any connection that requests it")
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}
