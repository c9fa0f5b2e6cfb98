// Package config provides configuration management for the trade confirmation service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Capability names the pipeline invokes. Every one of them must have an
// endpoint configured; there are no fallback defaults for agent addresses.
const (
	CapabilityPDFAdapter          = "pdf_adapter"
	CapabilityTradeExtraction     = "trade_extraction"
	CapabilityTradeMatching       = "trade_matching"
	CapabilityExceptionManagement = "exception_management"
)

// PipelineCapabilities returns the capability names the orchestrator calls.
func PipelineCapabilities() []string {
	return []string{
		CapabilityPDFAdapter,
		CapabilityTradeExtraction,
		CapabilityTradeMatching,
		CapabilityExceptionManagement,
	}
}

// Config holds all configuration for the trade confirmation service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Agents contains remote capability client settings, including the
	// required endpoint map.
	Agents AgentsConfig `mapstructure:"agents"`
	// Workflow contains pipeline execution settings.
	Workflow WorkflowConfig `mapstructure:"workflow"`
	// Idempotency contains duplicate suppression settings.
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	// Kafka contains publisher settings for workflow lifecycle events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Ingest contains consumer settings for document-uploaded events.
	Ingest IngestConfig `mapstructure:"ingest"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from TRADECONF_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// AgentsConfig holds remote capability client configuration.
type AgentsConfig struct {
	// Endpoints maps capability name to its invoke URL. Every pipeline
	// capability must be present; startup fails otherwise.
	Endpoints map[string]string `mapstructure:"endpoints"`
	// AuthToken is the bearer credential attached to outgoing calls
	// (loaded from TRADECONF_AGENTS_AUTH_TOKEN).
	AuthToken string `mapstructure:"-"`
	// InvokeTimeout is the per-call timeout for a single attempt.
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout"`
	// MaxRetries is the maximum number of retries after the initial attempt,
	// applied only to transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RetryMaxDelay caps the backoff delay for a single wait.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	// RetryJitter is the maximum random jitter added to each backoff delay.
	RetryJitter time.Duration `mapstructure:"retry_jitter"`
	// RateLimitRPS is the per-capability requests-per-second limit.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the per-capability burst size.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

// WorkflowConfig holds pipeline execution settings.
type WorkflowConfig struct {
	// PipelineTimeout bounds total elapsed time for one document's pipeline.
	// Zero disables the bound.
	PipelineTimeout time.Duration `mapstructure:"pipeline_timeout"`
	// SweepInterval is how often the worker removes expired sessions.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// IdempotencyConfig holds duplicate suppression settings.
type IdempotencyConfig struct {
	// Enabled controls whether duplicate submissions are suppressed.
	Enabled bool `mapstructure:"enabled"`
	// TTL is how long recorded outcomes remain matchable.
	TTL time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds publisher settings for workflow lifecycle events.
type KafkaConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish lifecycle events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// IngestConfig holds consumer settings for document-uploaded events.
type IngestConfig struct {
	// Enabled controls whether the upload-event consumer runs.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic carrying document-uploaded events.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group identity.
	GroupID string `mapstructure:"group_id"`
	// Workers is the number of concurrent consumer workers.
	Workers int `mapstructure:"workers"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// EndpointFor returns the configured invoke URL for a capability.
func (c *AgentsConfig) EndpointFor(capability string) (string, bool) {
	endpoint, ok := c.Endpoints[capability]
	return endpoint, ok
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("TRADECONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/trade-confirmation-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Agent endpoints must be configured explicitly. Viper's AutomaticEnv
	// cannot discover map keys, so each capability is bound by hand:
	// TRADECONF_AGENTS_ENDPOINTS_PDF_ADAPTER and so on.
	loadEndpointOverrides(&cfg)

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadEndpointOverrides overlays per-capability endpoint URLs from
// environment variables onto whatever the config file supplied.
func loadEndpointOverrides(cfg *Config) {
	if cfg.Agents.Endpoints == nil {
		cfg.Agents.Endpoints = make(map[string]string)
	}
	for _, capability := range PipelineCapabilities() {
		envKey := "TRADECONF_AGENTS_ENDPOINTS_" + strings.ToUpper(capability)
		if endpoint := os.Getenv(envKey); endpoint != "" {
			cfg.Agents.Endpoints[capability] = endpoint
		}
	}
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("TRADECONF_DATABASE_PASSWORD")
	cfg.Agents.AuthToken = os.Getenv("TRADECONF_AGENTS_AUTH_TOKEN")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tradeconf")
	v.SetDefault("database.name", "trade_confirmation_service")
	// Default to "require" for production security. Use TRADECONF_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Agent client defaults. Endpoints deliberately have no defaults:
	// a missing capability endpoint is a startup error, never a guess.
	v.SetDefault("agents.invoke_timeout", "120s")
	v.SetDefault("agents.max_retries", 3)
	v.SetDefault("agents.retry_base_delay", "500ms")
	v.SetDefault("agents.retry_max_delay", "15s")
	v.SetDefault("agents.retry_jitter", "250ms")
	v.SetDefault("agents.rate_limit_rps", 10.0)
	v.SetDefault("agents.rate_limit_burst", 20)

	// Workflow defaults
	v.SetDefault("workflow.pipeline_timeout", "10m")
	v.SetDefault("workflow.sweep_interval", "1h")

	// Idempotency defaults
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", "2160h") // 90 days, matching session retention

	// Kafka publisher defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "confirmation.workflow.events")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Ingest consumer defaults
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.brokers", []string{"localhost:9092"})
	v.SetDefault("ingest.topic", "confirmation.documents.uploaded")
	v.SetDefault("ingest.group_id", "trade-confirmation-service")
	v.SetDefault("ingest.workers", 4)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if err := c.validateAgents(); err != nil {
		return err
	}

	if c.Workflow.SweepInterval <= 0 {
		return fmt.Errorf("workflow sweep_interval must be positive")
	}
	if c.Idempotency.Enabled && c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive when idempotency is enabled")
	}

	// Validate Kafka config
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Ingest.Enabled {
		if len(c.Ingest.Brokers) == 0 {
			return fmt.Errorf("ingest brokers are required when ingest is enabled")
		}
		if c.Ingest.GroupID == "" {
			return fmt.Errorf("ingest group_id is required when ingest is enabled")
		}
		if c.Ingest.Workers <= 0 {
			return fmt.Errorf("ingest workers must be positive")
		}
	}

	return nil
}

// validateAgents checks the capability client settings. Every pipeline
// capability must have an explicit, well-formed endpoint URL.
func (c *Config) validateAgents() error {
	validate := validator.New()

	var missing []string
	for _, capability := range PipelineCapabilities() {
		endpoint, ok := c.Agents.Endpoints[capability]
		if !ok || endpoint == "" {
			missing = append(missing, capability)
			continue
		}
		if err := validate.Var(endpoint, "required,url"); err != nil {
			return fmt.Errorf("agent endpoint for %s is not a valid URL: %q", capability, endpoint)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing agent endpoints for capabilities: %s", strings.Join(missing, ", "))
	}

	if c.Agents.InvokeTimeout <= 0 {
		return fmt.Errorf("agents invoke_timeout must be positive")
	}
	if c.Agents.MaxRetries < 0 {
		return fmt.Errorf("agents max_retries must not be negative")
	}
	if c.Agents.RetryBaseDelay <= 0 {
		return fmt.Errorf("agents retry_base_delay must be positive")
	}
	if c.Agents.RetryMaxDelay < c.Agents.RetryBaseDelay {
		return fmt.Errorf("agents retry_max_delay (%s) must be >= retry_base_delay (%s)",
			c.Agents.RetryMaxDelay, c.Agents.RetryBaseDelay)
	}
	if c.Agents.RateLimitRPS <= 0 {
		return fmt.Errorf("agents rate_limit_rps must be positive")
	}
	if c.Agents.RateLimitBurst <= 0 {
		return fmt.Errorf("agents rate_limit_burst must be positive")
	}

	return nil
}
