// Package config loads, validates and hot-reloads modhost configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODHOST_"

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Logging LoggingConfig           `yaml:"logging"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Session SessionConfig           `yaml:"session"`
	Auth    AuthConfig              `yaml:"auth"`
	Release ReleaseConfig           `yaml:"release"`
	Render  RenderConfig            `yaml:"render"`
	Errors  map[string]int          `yaml:"errors"`
	Modules map[string]ModuleConfig `yaml:"modules"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	Driver     string        `yaml:"driver"` // "memory", "sqlite" or "redis"
	CookieName string        `yaml:"cookie_name"`
	Secure     bool          `yaml:"secure"`
	TTL        time.Duration `yaml:"ttl"`
	DSN        string        `yaml:"dsn"` // sqlite database path
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // host:port or redis:// URL
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures authentication and permissions.
type AuthConfig struct {
	JWTSecret   string              `yaml:"jwt_secret,omitempty"`
	TokenTTL    time.Duration       `yaml:"token_ttl"`
	Keys        []KeyConfig         `yaml:"keys"`
	Permissions map[string][]string `yaml:"permissions"` // role -> actions
}

// KeyConfig declares an API key by its bcrypt hash.
type KeyConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Hash string `yaml:"hash"`
}

// ReleaseConfig pins the asset release id.
type ReleaseConfig struct {
	ID string `yaml:"id"`
}

// RenderConfig configures template rendering.
type RenderConfig struct {
	Cache bool `yaml:"cache"`
}

// ModuleConfig overrides a module's definition. It is applied as the most
// specific layer of the module's chain.
type ModuleConfig struct {
	Alias        string         `yaml:"alias"`
	ActionPrefix string         `yaml:"action_prefix"`
	Options      map[string]any `yaml:"options"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	MODHOST_SERVER_HOST      - Server host (default: 0.0.0.0)
//	MODHOST_SERVER_PORT      - Server port (default: 8080)
//	MODHOST_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	MODHOST_LOG_FORMAT       - Log format: json or console (default: json)
//	MODHOST_METRICS_ENABLED  - Enable /metrics endpoint
//	MODHOST_SESSION_DRIVER   - memory, sqlite or redis (default: memory)
//	MODHOST_SESSION_DSN      - SQLite session database path
//	MODHOST_REDIS_ADDR       - Redis address for the redis session driver
//	MODHOST_JWT_SECRET       - Secret for bearer tokens
//	MODHOST_RELEASE_ID       - Asset release id
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads an optional .env file, then the config file if
// it exists, else configuration from the environment alone.
func LoadWithFallback(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// LoadDotEnv loads variables from a .env file. A missing file is not an
// error. Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies MODHOST_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := env("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := env("SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := env("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := env("METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	if v := env("SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := env("SESSION_DSN"); v != "" {
		cfg.Session.DSN = v
	}
	if v := env("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Session.Redis.Addr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		cfg.Session.Redis.Password = v
	}

	if v := env("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := env("RELEASE_ID"); v != "" {
		cfg.Release.ID = v
	}
	if v := env("RENDER_CACHE"); v != "" {
		cfg.Render.Cache = parseBool(v)
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Session.Driver == "" {
		cfg.Session.Driver = "memory"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 24 * time.Hour
	}
	if cfg.Session.Driver == "sqlite" && cfg.Session.DSN == "" {
		cfg.Session.DSN = "modhost.db"
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level %q: %w", cfg.Logging.Level, err)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	switch cfg.Session.Driver {
	case "memory", "sqlite":
	case "redis":
		if cfg.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required when session.driver is 'redis'")
		}
	default:
		return fmt.Errorf("session.driver must be one of: memory, sqlite, redis")
	}

	for i, k := range cfg.Auth.Keys {
		if k.Name == "" {
			return fmt.Errorf("auth.keys[%d].name is required", i)
		}
		if k.Hash == "" {
			return fmt.Errorf("auth.keys[%d].hash is required", i)
		}
	}

	for name, status := range cfg.Errors {
		if status < 400 || status > 599 {
			return fmt.Errorf("errors.%s must map to a 4xx or 5xx status, got %d", name, status)
		}
	}

	for name, m := range cfg.Modules {
		if m.ActionPrefix != "" && !strings.HasPrefix(m.ActionPrefix, "/") {
			return fmt.Errorf("modules.%s.action_prefix must start with '/'", name)
		}
	}

	return nil
}
