// Package container provides dependency injection and lifecycle management
// for the approval workflow service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Directory resolves roles and manager chains
	Directory DirectoryConfig

	Metrics MetricsConfig
	Tracing TracingConfig

	// Version is reported on /health and in trace resources
	Version string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:"
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout bounds how long a writer waits for the database lock
	BusyTimeout time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// SLA sweeper settings
	SLAEnabled      bool
	SLAPollInterval time.Duration
	SLABatchSize    int
}

// DirectoryConfig holds the static approver directory.
type DirectoryConfig struct {
	Roles        map[string][]string
	Managers     map[string]string
	ManagerDepth int
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	OutputPath  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			SLAEnabled:      true,
			SLAPollInterval: time.Minute,
			SLABatchSize:    100,
		},
		Directory: DirectoryConfig{
			ManagerDepth: 1,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "approval_core",
		},
		Tracing: TracingConfig{
			ServiceName: "approval-core",
		},
		Version: "dev",
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Worker.SLAEnabled {
		if c.Worker.SLAPollInterval <= 0 {
			return fmt.Errorf("worker.sla_poll_interval must be positive")
		}
		if c.Worker.SLABatchSize <= 0 {
			return fmt.Errorf("worker.sla_batch_size must be positive")
		}
	}

	return nil
}
