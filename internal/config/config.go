package config

import (
	"errors"
	"time"
)

// Config represents the transaction engine configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Valuation      ValuationConfig      `mapstructure:"valuation"`
	Certificates   CertificatesConfig   `mapstructure:"certificates"`
	Events         EventsConfig         `mapstructure:"events"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// ServerConfig represents HTTP API server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	NodeID          string        `mapstructure:"node_id"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents PostgreSQL record store configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents Redis idempotency cache configuration
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// LedgerConfig represents chain gateway client configuration
type LedgerConfig struct {
	Endpoint            string        `mapstructure:"endpoint"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	SubmitAttempts      int           `mapstructure:"submit_attempts"`
	SubmitBackoffBase   time.Duration `mapstructure:"submit_backoff_base"`
}

// ReconciliationConfig represents background repair worker configuration
type ReconciliationConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Grace            time.Duration `mapstructure:"grace"`
	ExtendedDeadline time.Duration `mapstructure:"extended_deadline"`
}

// ValuationConfig represents price prediction service configuration
type ValuationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CertificatesConfig represents certificate storage configuration
type CertificatesConfig struct {
	Directory string `mapstructure:"directory"`
}

// EventsConfig represents event outbox dispatcher configuration
type EventsConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Ledger.Endpoint == "" {
		return errors.New("ledger.endpoint is required")
	}
	if c.Ledger.SubmitAttempts <= 0 {
		return errors.New("ledger.submit_attempts must be positive")
	}
	if c.Valuation.Enabled && c.Valuation.Endpoint == "" {
		return errors.New("valuation.endpoint is required when valuation is enabled")
	}
	if c.Certificates.Directory == "" {
		return errors.New("certificates.directory is required")
	}
	if c.Reconciliation.Grace >= c.Reconciliation.ExtendedDeadline {
		return errors.New("reconciliation.grace must be shorter than reconciliation.extended_deadline")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			NodeID:          "engine-1",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "propchain",
			User:            "engine",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     100,
			MinIdleConns: 10,
		},
		Ledger: LedgerConfig{
			Endpoint:            "http://localhost:8545",
			RequestTimeout:      10 * time.Second,
			ConfirmationTimeout: 2 * time.Minute,
			PollInterval:        3 * time.Second,
			SubmitAttempts:      5,
			SubmitBackoffBase:   2 * time.Second,
		},
		Reconciliation: ReconciliationConfig{
			Interval:         45 * time.Second,
			Grace:            2 * time.Minute,
			ExtendedDeadline: 30 * time.Minute,
		},
		Valuation: ValuationConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:8000",
			RequestTimeout: 5 * time.Second,
		},
		Certificates: CertificatesConfig{
			Directory: "/var/lib/propchain/certificates",
		},
		Events: EventsConfig{
			DispatchInterval: 10 * time.Second,
			BatchSize:        100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
