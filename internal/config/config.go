// Package config loads the service configuration from a YAML file with a
// small set of environment overrides for the values that differ between
// deployments. The signing secret is never part of the file; it comes from
// DEALERDESK_AUTH_SECRET alone.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
	CORS     CORSConfig     `yaml:"cors"`
	Rate     RateConfig     `yaml:"rate"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type CacheConfig struct {
	Enabled        bool `yaml:"enabled"`
	TenantCatalogs int  `yaml:"tenant_catalogs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Defaults returns the configuration used when no file is supplied:
// in-memory store, JSON logging, snapshot caching off until enabled.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    20 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Driver: "memory"},
		Auth:     AuthConfig{TokenTTL: 12 * time.Hour},
		Events:   EventsConfig{SubjectPrefix: "authz"},
		Cache:    CacheConfig{Enabled: false, TenantCatalogs: 256},
		Log:      LogConfig{Level: "info", Format: "json"},
		Rate:     RateConfig{RequestsPerSecond: 50, Burst: 100},
	}
}

// Load reads the configuration file at path, if any, over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DEALERDESK_PG_DSN"); dsn != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("DEALERDESK_HTTP_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Events.NATSURL = natsURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Rate.RequestsPerSecond < 0 || c.Rate.Burst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Cache.Enabled && c.Cache.TenantCatalogs <= 0 {
		c.Cache.TenantCatalogs = 256
	}
	return nil
}
