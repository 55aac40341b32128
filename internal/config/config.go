// Package config loads and validates the Orbit configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ORBIT_ prefix (e.g., ORBIT_DATABASE_HOST
// overrides database.host in the YAML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Roblox      RobloxConfig      `mapstructure:"roblox"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Audit       AuditConfig       `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection used by the shared permission cache and
// the distributed external API pacer.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AuthConfig holds session and service-to-service authentication configuration
type AuthConfig struct {
	// SessionSecret signs session tokens. Falls back to ORBIT_SESSION_SECRET.
	SessionSecret string        `mapstructure:"session_secret"`
	SessionCookie string        `mapstructure:"session_cookie"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	// Service bypass is active only when both ServiceBaseURL and ServiceKey are set.
	ServiceBaseURL string `mapstructure:"service_base_url"`
	ServiceKey     string `mapstructure:"service_key"`
	ServiceHeader  string `mapstructure:"service_header"`
}

// ServiceBypassEnabled reports whether the shared-secret bypass header is honoured.
func (a *AuthConfig) ServiceBypassEnabled() bool {
	return a.ServiceBaseURL != "" && a.ServiceKey != ""
}

// PermissionsConfig controls the permission cache in front of role lookups
type PermissionsConfig struct {
	// CacheDriver is "memory" (bounded LRU per process) or "redis" (shared).
	CacheDriver string        `mapstructure:"cache_driver"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	CacheSize   int           `mapstructure:"cache_size"`
}

// RobloxConfig holds the external group service client configuration
type RobloxConfig struct {
	GroupsURL     string        `mapstructure:"groups_url"`
	UsersURL      string        `mapstructure:"users_url"`
	ThumbnailsURL string        `mapstructure:"thumbnails_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`

	// Pacing is the minimum spacing between outbound calls.
	Pacing       time.Duration `mapstructure:"pacing"`
	PacingDriver string        `mapstructure:"pacing_driver"`

	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`

	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl"`
}

// SyncConfig controls the group role synchronizer
type SyncConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	// UserLookupPacing separates the rank and role lookups of a single-user refresh.
	UserLookupPacing time.Duration `mapstructure:"user_lookup_pacing"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds inbound rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	// ServiceName is attached to every log record as "service".
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// File, when Path is set, also appends every entry as a JSON line.
	File AuditFileConfig `mapstructure:"file"`
}

// AuditFileConfig configures the JSON lines audit file.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.prefix",

		// Auth
		"auth.session_secret",
		"auth.session_cookie",
		"auth.session_ttl",
		"auth.service_base_url",
		"auth.service_key",
		"auth.service_header",

		// Permissions
		"permissions.cache_driver",
		"permissions.cache_ttl",
		"permissions.cache_size",

		// Roblox
		"roblox.groups_url",
		"roblox.users_url",
		"roblox.thumbnails_url",
		"roblox.api_key",
		"roblox.timeout",
		"roblox.pacing",
		"roblox.pacing_driver",
		"roblox.retry_attempts",
		"roblox.retry_initial_delay",
		"roblox.profile_cache_ttl",

		// Sync
		"sync.enabled",
		"sync.schedule",
		"sync.user_lookup_pacing",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_failed_requests",
		"audit.file.path",
		"audit.file.max_size_mb",
		"audit.file.max_backups",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, config file lookup and env bindings.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/orbit")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals, expands and validates the configuration held by v.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.SessionSecret = expandEnv(cfg.Auth.SessionSecret)
	cfg.Auth.ServiceKey = expandEnv(cfg.Auth.ServiceKey)
	cfg.Roblox.APIKey = expandEnv(cfg.Roblox.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "orbit")
	v.SetDefault("database.user", "orbit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "orbit:")

	// Auth defaults
	v.SetDefault("auth.session_cookie", "orbit_session")
	v.SetDefault("auth.session_ttl", "168h")
	v.SetDefault("auth.service_header", "X-Orbit-Service-Key")

	// Permissions defaults
	v.SetDefault("permissions.cache_driver", "memory")
	v.SetDefault("permissions.cache_ttl", "120s")
	v.SetDefault("permissions.cache_size", 10000)

	// Roblox defaults
	v.SetDefault("roblox.groups_url", "https://groups.roblox.com")
	v.SetDefault("roblox.users_url", "https://users.roblox.com")
	v.SetDefault("roblox.thumbnails_url", "https://thumbnails.roblox.com")
	v.SetDefault("roblox.timeout", "30s")
	v.SetDefault("roblox.pacing", "500ms")
	v.SetDefault("roblox.pacing_driver", "local")
	v.SetDefault("roblox.retry_attempts", 5)
	v.SetDefault("roblox.retry_initial_delay", "1s")
	v.SetDefault("roblox.profile_cache_ttl", "1h")

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", "0 */6 * * *")
	v.SetDefault("sync.user_lookup_pacing", "300ms")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "orbit")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", false)
	v.SetDefault("audit.file.max_size_mb", 100)
	v.SetDefault("audit.file.max_backups", 5)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Permissions.CacheDriver {
	case "memory":
		if c.Permissions.CacheSize < 1 {
			return fmt.Errorf("permissions.cache_size must be positive when using the memory cache")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when permissions.cache_driver is redis")
		}
	default:
		return fmt.Errorf("invalid permissions.cache_driver: %s (must be memory or redis)", c.Permissions.CacheDriver)
	}
	if c.Permissions.CacheTTL <= 0 {
		return fmt.Errorf("permissions.cache_ttl must be positive")
	}

	switch c.Roblox.PacingDriver {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when roblox.pacing_driver is redis")
		}
	default:
		return fmt.Errorf("invalid roblox.pacing_driver: %s (must be local or redis)", c.Roblox.PacingDriver)
	}
	if c.Roblox.RetryAttempts < 1 {
		return fmt.Errorf("roblox.retry_attempts must be at least 1")
	}
	if c.Roblox.GroupsURL == "" {
		return fmt.Errorf("roblox.groups_url is required")
	}

	if c.Sync.Enabled && c.Sync.Schedule == "" {
		return fmt.Errorf("sync.schedule is required when sync is enabled")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
