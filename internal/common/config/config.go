// Package config provides configuration management for aweb.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for aweb.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Custody  CustodyConfig  `mapstructure:"custody"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds

	// PublicURL is surfaced in GET /v1/agents/resolve/{slug}/{alias} responses
	// so callers can address this deployment without hardcoding a host.
	PublicURL string `mapstructure:"publicUrl"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration used by the optional
// mutation-hook publish adapter. Empty URL means use the in-memory
// event bus instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace is inserted into every published mutation-hook subject
	// (aweb.hooks.<namespace>.<event_type>) so deployments sharing a NATS
	// cluster stay apart. Empty keeps the bare aweb.hooks.<event_type>.
	Namespace string `mapstructure:"namespace"`
}

// RedisConfig holds the key-value store configuration backing the presence
// and chat-waiting indices. Empty URL degrades those indices to
// no-ops rather than failing requests.
type RedisConfig struct {
	URL                  string `mapstructure:"url"`
	PresenceTTLSeconds   int    `mapstructure:"presenceTtlSeconds"`
	WaitingWindowSeconds int    `mapstructure:"waitingWindowSeconds"`
}

// AuthConfig holds auth-resolver configuration.
type AuthConfig struct {
	// TrustProxyHeaders selects proxy mode (signed X-BH-Auth headers) over
	// direct bearer-token mode. When true, a missing/invalid signature is
	// never allowed to fall back to bearer-token resolution.
	TrustProxyHeaders bool   `mapstructure:"trustProxyHeaders"`
	ProxySecret       string `mapstructure:"proxySecret"`
}

// CustodyConfig holds the custodial signing master key. Hex-encoded,
// must decode to exactly 32 bytes for AES-256-GCM. An empty value disables
// custody: agents created without opt-in custody cannot be signed-on-behalf.
type CustodyConfig struct {
	MasterKeyHex string `mapstructure:"masterKeyHex"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// PresenceTTL returns the configured presence TTL as a time.Duration.
func (r *RedisConfig) PresenceTTL() time.Duration {
	return time.Duration(r.PresenceTTLSeconds) * time.Second
}

// WaitingWindow returns the configured chat-waiting window as a time.Duration.
func (r *RedisConfig) WaitingWindow() time.Duration {
	return time.Duration(r.WaitingWindowSeconds) * time.Second
}

// MasterKey decodes the hex-encoded custody master key. Returns (nil, nil)
// when custody is not configured — callers must treat this as "custody
// disabled", not an error.
func (c *CustodyConfig) MasterKey() ([]byte, error) {
	if strings.TrimSpace(c.MasterKeyHex) == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("custody.masterKeyHex is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("custody.masterKeyHex must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AWEB_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.publicUrl", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "aweb")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "aweb")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "aweb-cluster")
	v.SetDefault("nats.clientId", "aweb-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Events defaults
	v.SetDefault("events.namespace", "")

	// Redis defaults - empty URL degrades presence/waiting indices to no-ops
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.presenceTtlSeconds", 1800)
	v.SetDefault("redis.waitingWindowSeconds", 90)

	// Auth defaults
	v.SetDefault("auth.trustProxyHeaders", false)
	v.SetDefault("auth.proxySecret", "")

	// Custody defaults - empty key disables custodial signing
	v.SetDefault("custody.masterKeyHex", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AWEB_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/aweb/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose naming differs from the camelCase
	// config keys (AutomaticEnv alone won't catch these).
	_ = v.BindEnv("database.host", "AWEB_DB_HOST", "DATABASE_HOST")
	_ = v.BindEnv("database.port", "AWEB_DB_PORT", "DATABASE_PORT")
	_ = v.BindEnv("database.user", "AWEB_DB_USER", "DATABASE_USER")
	_ = v.BindEnv("database.password", "AWEB_DB_PASSWORD", "DATABASE_PASSWORD")
	_ = v.BindEnv("database.dbName", "AWEB_DB_NAME", "DATABASE_NAME")
	_ = v.BindEnv("redis.url", "AWEB_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("nats.url", "AWEB_NATS_URL", "NATS_URL")
	_ = v.BindEnv("custody.masterKeyHex", "AWEB_CUSTODY_MASTER_KEY")
	_ = v.BindEnv("auth.trustProxyHeaders", "AWEB_TRUST_PROXY_HEADERS")
	_ = v.BindEnv("auth.proxySecret", "AWEB_PROXY_AUTH_SECRET")
	_ = v.BindEnv("server.publicUrl", "AWEB_SERVER_URL")
	_ = v.BindEnv("logging.level", "AWEB_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AWEB_EVENTS_NAMESPACE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/aweb/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set, including
// the rule that the service must refuse to serve when proxy-header
// trust is enabled but no shared secret is configured.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "database.port must be between 1 and 65535")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if cfg.Database.DBName == "" {
		errs = append(errs, "database.dbName is required")
	}

	// NATS validation - optional (uses in-memory event bus if not set)

	// Auth validation
	if cfg.Auth.TrustProxyHeaders && strings.TrimSpace(cfg.Auth.ProxySecret) == "" {
		errs = append(errs, "auth.proxySecret is required when auth.trustProxyHeaders is enabled")
	}

	// Custody validation - MasterKey() itself checks hex + length
	if _, err := cfg.Custody.MasterKey(); err != nil {
		errs = append(errs, err.Error())
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RandomHexSecret generates a cryptographically random hex-encoded secret of
// nBytes length, used by `awebd init` when scaffolding a development config
// for custody.masterKeyHex or auth.proxySecret.
func RandomHexSecret(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
