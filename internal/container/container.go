package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/application/workflow"
	"github.com/garyjia/approval-core/internal/infrastructure/metrics"
	"github.com/garyjia/approval-core/internal/infrastructure/tracing"
	"github.com/garyjia/approval-core/internal/infrastructure/worker"
	httpapi "github.com/garyjia/approval-core/internal/interfaces/http"
	"github.com/garyjia/approval-core/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	resolver     port.ApproverResolver

	// Infrastructure - Observability
	registry        *prometheus.Registry
	recorder        *metrics.Recorder
	tracingShutdown tracing.ShutdownFunc

	// Application
	dispatcher   dispatcher.Dispatcher
	services     *ServiceBundle
	orchestrator workflow.Orchestrator

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	WorkItem        port.WorkItemRepository
	WorkItemVersion port.WorkItemVersionRepository
	Definition      port.DefinitionRepository
	Instance        port.WorkflowInstanceRepository
	Step            port.StepInstanceRepository
	Task            port.TaskRepository
	Decision        port.DecisionRepository
	Comment         port.CommentRepository
	History         port.HistoryRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	TaskLifecycle     service.TaskLifecycle
	StepLifecycle     service.StepLifecycle
	WorkflowLifecycle service.WorkflowLifecycle
	WorkItemLifecycle service.WorkItemLifecycle
	Tasks             service.TaskService
	Definitions       service.DefinitionService
	WorkItems         service.WorkItemService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Observability (metrics, tracing) and the approver directory
// 3. Event dispatcher
// 4. Application services and orchestrator
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Observability and directory
	if err := c.initObservability(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	c.resolver = ProvideDirectory(&c.config.Directory, c.logger)
	c.logger.Info("Observability and directory initialized")

	// Step 3: Dispatcher
	disp, err := ProvideDispatcher(c.recorder, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = disp

	// Step 4: Services and orchestrator
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 5)
	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Close dispatcher (reverse of step 3)
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Flush spans (reverse of step 2)
	if c.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.tracingShutdown(ctx); err != nil {
			c.logger.Error("Failed to shut down tracing", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		cancel()
	}

	// Step 4: Close database (reverse of step 1)
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	// Check database
	if c.db != nil {
		if err := c.db.Ping(); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// Check workers; an empty manager is healthy when the sweeper is disabled
	if c.workers != nil {
		healthy := c.workers.IsRunning() || c.workers.GetWorkerCount() == 0
		status.Components["workers"] = ComponentHealth{
			Healthy: healthy,
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		}
		if !healthy {
			status.Overall = false
		}
	} else {
		status.Components["workers"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// Check dispatcher
	if c.dispatcher != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["dispatcher"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	return status
}

// Readiness reports the first unhealthy component as an error.
func (c *Container) Readiness() error {
	health := c.Health()
	if health.Overall {
		return nil
	}
	for name, component := range health.Components {
		if !component.Healthy {
			return fmt.Errorf("%s unhealthy: %s", name, component.Message)
		}
	}
	return fmt.Errorf("unhealthy")
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db.DB, c.logger)
	if err != nil {
		_ = c.db.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initObservability creates the metrics registry and the tracer provider.
func (c *Container) initObservability() error {
	bundle := ProvideMetrics(&c.config.Metrics)
	c.registry = bundle.Registry
	c.recorder = bundle.Recorder

	shutdown, err := ProvideTracing(&c.config.Tracing, c.config.Version)
	if err != nil {
		return err
	}
	c.tracingShutdown = shutdown
	return nil
}

// initServices initializes the application services and the orchestrator.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.txManager,
		Resolver:  c.resolver,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	orch, err := ProvideOrchestrator(&OrchestratorDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Services:   services,
		Dispatcher: c.dispatcher,
		Recorder:   c.recorder,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.orchestrator = orch
	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:         c.repositories,
		TaskLifecycle: c.services.TaskLifecycle,
		Recorder:      c.recorder,
		WorkerCfg:     &c.config.Worker,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if workers.GetWorkerCount() == 0 {
		c.logger.Info("No background workers enabled")
		return nil
	}

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// NewHTTPServer builds the HTTP adapter over the container's services.
func (c *Container) NewHTTPServer() *httpapi.Server {
	return httpapi.NewServer(
		httpapi.ServerConfig{
			Host:         c.config.Server.Host,
			Port:         c.config.Server.Port,
			ReadTimeout:  c.config.Server.ReadTimeout,
			WriteTimeout: c.config.Server.WriteTimeout,
			Version:      c.config.Version,
		},
		httpapi.Services{
			Orchestrator:      c.orchestrator,
			Definitions:       c.services.Definitions,
			WorkItems:         c.services.WorkItems,
			WorkItemLifecycle: c.services.WorkItemLifecycle,
			Tasks:             c.services.Tasks,
			TaskLifecycle:     c.services.TaskLifecycle,
		},
		&zapLoggerAdapter{logger: c.logger},
		httpapi.WithGatherer(c.registry),
		httpapi.WithReadiness(c.Readiness),
	)
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Orchestrator returns the workflow orchestrator.
func (c *Container) Orchestrator() workflow.Orchestrator {
	return c.orchestrator
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Registry returns the Prometheus registry served on /metrics.
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the two-method Logger interfaces of
// the service, workflow and http packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
