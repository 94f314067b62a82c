package config

import (
	"github.com/garyjia/approval-core/internal/container"
)

// ToContainerConfig converts the file-based Config loaded by viper into the
// container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			SLAEnabled:      c.Worker.SLAEnabled,
			SLAPollInterval: c.Worker.SLAPollInterval,
			SLABatchSize:    c.Worker.SLABatchSize,
		},
		Directory: container.DirectoryConfig{
			Roles:        c.Directory.Roles,
			Managers:     c.Directory.Managers,
			ManagerDepth: c.Directory.ManagerDepth,
		},
		Metrics: container.MetricsConfig{
			Enabled:   c.Metrics.Enabled,
			Namespace: c.Metrics.Namespace,
		},
		Tracing: container.TracingConfig{
			Enabled:     c.Tracing.Enabled,
			ServiceName: c.Tracing.ServiceName,
			OutputPath:  c.Tracing.OutputPath,
		},
		Version: version,
	}
}
