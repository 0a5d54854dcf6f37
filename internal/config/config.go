// Package config loads pg-tablerows configuration from flags, environment,
// a YAML file and defaults, and validates the result.
package config

import "time"

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Executor modes.
const (
	ExecutorModeDatabase = "database"
	ExecutorModeHTTP     = "http"
)

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds Postgres connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete lib/pq connection string, either a
	// postgres:// URL or key=value pairs. When set it overrides the discrete
	// fields below.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	PasswordFile    string `mapstructure:"password_file"`
	PasswordPrompt  bool   `mapstructure:"password_prompt"`
	Database        string `mapstructure:"dbname"`
	ApplicationName string `mapstructure:"application_name"`

	// SSLMode is passed to lib/pq: disable, require, verify-ca or verify-full.
	SSLMode     string `mapstructure:"sslmode"`
	SSLRootCert string `mapstructure:"sslrootcert"`
	SSLCert     string `mapstructure:"sslcert"`
	SSLKey      string `mapstructure:"sslkey"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// ExecutorConfig selects where generated SQL runs.
type ExecutorConfig struct {
	// Mode is "database" (run through the configured Postgres pool) or
	// "http" (post to a pg-meta style /query endpoint).
	Mode    string            `mapstructure:"mode"`
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`

	MaxRetries     int `mapstructure:"max_retries"`
	ExportPageSize int `mapstructure:"export_page_size"`
}

// RoleConfig controls per-request role impersonation.
type RoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Header carries the requested role name.
	Header string `mapstructure:"header"`
	// Allowed lists the roles a request may assume. When empty the roles
	// granted to the connecting user are discovered at startup.
	Allowed []string `mapstructure:"allowed"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	MaxPageSize        int           `mapstructure:"max_page_size"`
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	CORSEnabled        bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedHeaders []string      `mapstructure:"cors_allowed_headers"`
	CORSMaxAge         int           `mapstructure:"cors_max_age"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	Role               RoleConfig    `mapstructure:"role"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
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

	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"`
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"`
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// TracesOTLP returns the effective OTLP config for traces.
func (c *ObservabilityConfig) TracesOTLP() OTLPConfig {
	return c.OTLP.overlay(c.Traces)
}

// LogsOTLP returns the effective OTLP config for logs.
func (c *ObservabilityConfig) LogsOTLP() OTLPConfig {
	return c.OTLP.overlay(c.Logs)
}

// overlay applies the non-zero fields of a signal override. Insecure is
// always taken from the override when one exists.
func (o OTLPConfig) overlay(override *OTLPConfig) OTLPConfig {
	if override == nil {
		return o
	}
	result := o
	result.Insecure = override.Insecure
	for _, pair := range []struct {
		dst *string
		src string
	}{
		{&result.Endpoint, override.Endpoint},
		{&result.Protocol, override.Protocol},
		{&result.TLSCertFile, override.TLSCertFile},
		{&result.TLSClientCertFile, override.TLSClientCertFile},
		{&result.TLSClientKeyFile, override.TLSClientKeyFile},
		{&result.Compression, override.Compression},
	} {
		if pair.src != "" {
			*pair.dst = pair.src
		}
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(o.Headers)+len(override.Headers))
		for k, v := range o.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
