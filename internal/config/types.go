// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"maps"
	"time"

	"tidb-eagerload/internal/naming"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Loader        LoaderConfig        `mapstructure:"loader"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// LoaderConfig controls how eager loads are batched.
type LoaderConfig struct {
	// MaxOwnersPerQuery caps the owners bound into a single query; 0 means unlimited.
	MaxOwnersPerQuery int `mapstructure:"max_owners_per_query"`
	// Concurrency is the number of chunk queries allowed in flight at once.
	Concurrency       int  `mapstructure:"concurrency"`
	AlwaysReturnArray bool `mapstructure:"always_return_array"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for database connections.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full. Empty leaves the DSN untouched.
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// RoleConfig enables SET ROLE execution for every eager-load query.
type RoleConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Default      string   `mapstructure:"default"`
	AllowedRoles []string `mapstructure:"allowed_roles"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql DSN. When set it
	// replaces the discrete fields below.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile holds the DSN in a file; "@-" reads stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`
	Role RoleConfig        `mapstructure:"role"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP holds the defaults shared by traces and logs.
	OTLP OTLPConfig `mapstructure:"otlp"`

	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// TracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) TracesConfig() OTLPConfig {
	return c.OTLP.merge(c.Traces)
}

// LogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) LogsConfig() OTLPConfig {
	return c.OTLP.merge(c.Logs)
}

// merge overlays the non-zero fields of a signal override. Insecure is always
// taken from the override since false cannot be told apart from unset.
func (base OTLPConfig) merge(override *OTLPConfig) OTLPConfig {
	if override == nil {
		return base
	}
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		maps.Copy(result.Headers, base.Headers)
		maps.Copy(result.Headers, override.Headers)
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
