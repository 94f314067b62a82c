package container

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/application/workflow"
	"github.com/garyjia/approval-core/internal/infrastructure/directory"
	"github.com/garyjia/approval-core/internal/infrastructure/metrics"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-core/internal/infrastructure/tracing"
	"github.com/garyjia/approval-core/internal/infrastructure/worker"
	"github.com/garyjia/approval-core/migrations"
	"github.com/garyjia/approval-core/pkg/database"
)

const tracerName = "github.com/garyjia/approval-core/internal/application/workflow"

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// MetricsBundle holds the Prometheus registry and the recorder fed by the orchestrator.
// Recorder is nil when metrics are disabled.
type MetricsBundle struct {
	Registry *prometheus.Registry
	Recorder *metrics.Recorder
}

// ProvideDatabase opens the SQLite database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Path != database.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).RunMigrations(migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied", zap.Int("count", applied))

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		WorkItem:        repository.NewWorkItemRepository(sqlDB, logger),
		WorkItemVersion: repository.NewWorkItemVersionRepository(sqlDB, logger),
		Definition:      repository.NewDefinitionRepository(sqlDB, logger),
		Instance:        repository.NewWorkflowInstanceRepository(sqlDB, logger),
		Step:            repository.NewStepInstanceRepository(sqlDB, logger),
		Task:            repository.NewTaskRepository(sqlDB, logger),
		Decision:        repository.NewDecisionRepository(sqlDB, logger),
		Comment:         repository.NewCommentRepository(sqlDB, logger),
		History:         repository.NewHistoryRepository(sqlDB, logger),
	}, nil
}

// ProvideDirectory creates the approver resolver from static configuration.
func ProvideDirectory(cfg *DirectoryConfig, logger *zap.Logger) port.ApproverResolver {
	return directory.NewStatic(directory.Config{
		Roles:        cfg.Roles,
		Managers:     cfg.Managers,
		ManagerDepth: cfg.ManagerDepth,
	}, logger)
}

// ProvideMetrics creates a private registry with process and Go collectors.
func ProvideMetrics(cfg *MetricsConfig) *MetricsBundle {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bundle := &MetricsBundle{Registry: registry}
	if cfg.Enabled {
		bundle.Recorder = metrics.NewRecorder(metrics.Config{
			Namespace: cfg.Namespace,
			Registry:  registry,
		})
	}
	return bundle
}

// ProvideTracing installs the global tracer provider.
func ProvideTracing(cfg *TracingConfig, version string) (tracing.ShutdownFunc, error) {
	shutdown, err := tracing.Init(tracing.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		OutputPath:     cfg.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return shutdown, nil
}

// ProvideDispatcher creates the event dispatcher with catch-all logging and,
// when available, metrics subscriptions.
func ProvideDispatcher(recorder *metrics.Recorder, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dispatcherLogger := &dispatcherLoggerAdapter{logger: logger}
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(dispatcherLogger))

	d.SubscribeAll("event_logger", dispatcher.LoggingHandler(dispatcherLogger))
	if recorder != nil {
		d.SubscribeAll("event_metrics", recorder.EventHandler())
	}

	return d, nil
}

// ServiceDeps holds dependencies for application services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Resolver  port.ApproverResolver
	Logger    *zap.Logger
}

// ProvideServices creates the lifecycle controllers and query services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("approver resolver is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	r := deps.Repos

	return &ServiceBundle{
		TaskLifecycle:     service.NewTaskLifecycle(r.Task, r.Decision, r.Comment, r.History, deps.TxManager, serviceLogger),
		StepLifecycle:     service.NewStepLifecycle(r.Step, r.History, deps.TxManager, serviceLogger),
		WorkflowLifecycle: service.NewWorkflowLifecycle(r.Instance, r.History, deps.TxManager, serviceLogger),
		WorkItemLifecycle: service.NewWorkItemLifecycle(r.WorkItem, r.WorkItemVersion, r.History, deps.TxManager, serviceLogger),
		Tasks:             service.NewTaskService(r.Step, r.Definition, deps.Resolver, r.Task, r.Decision, r.Comment, deps.TxManager, serviceLogger),
		Definitions:       service.NewDefinitionService(r.Definition, deps.TxManager, serviceLogger),
		WorkItems:         service.NewWorkItemService(r.WorkItem, r.WorkItemVersion, r.Instance, r.Step, r.Task, r.Definition, serviceLogger),
	}, nil
}

// OrchestratorDeps holds dependencies for the orchestrator.
type OrchestratorDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Services   *ServiceBundle
	Dispatcher dispatcher.Dispatcher
	Recorder   *metrics.Recorder
	Logger     *zap.Logger
}

// ProvideOrchestrator wires the cascade over the lifecycle controllers.
func ProvideOrchestrator(deps *OrchestratorDeps) (workflow.Orchestrator, error) {
	if deps == nil {
		return nil, fmt.Errorf("orchestrator dependencies are required")
	}
	if deps.Repos == nil || deps.Services == nil {
		return nil, fmt.Errorf("repositories and services are required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	r := deps.Repos
	s := deps.Services

	opts := []workflow.Option{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithTracer(otel.Tracer(tracerName)),
	}
	if deps.Recorder != nil {
		opts = append(opts, workflow.WithMetrics(deps.Recorder))
	}

	return workflow.NewOrchestrator(workflow.Dependencies{
		TxManager:         deps.TxManager,
		WorkItems:         r.WorkItem,
		Definitions:       r.Definition,
		Instances:         r.Instance,
		Steps:             r.Step,
		Tasks:             r.Task,
		TaskLifecycle:     s.TaskLifecycle,
		StepLifecycle:     s.StepLifecycle,
		WorkflowLifecycle: s.WorkflowLifecycle,
		WorkItemLifecycle: s.WorkItemLifecycle,
		TaskCreator:       s.Tasks,
		Evaluator:         workflow.NewRuleEvaluator(r.Step, r.Task, r.Decision, r.Definition),
		Logger:            &zapLoggerAdapter{logger: deps.Logger},
	}, opts...), nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Repos         *RepositoryBundle
	TaskLifecycle service.TaskLifecycle
	Recorder      *metrics.Recorder
	WorkerCfg     *WorkerConfig
	Logger        *zap.Logger
}

// ProvideWorkers creates the worker manager and registers enabled workers.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.WorkerCfg.SLAEnabled {
		var observer worker.ExpiryObserver
		if deps.Recorder != nil {
			observer = deps.Recorder
		}
		manager.Register(worker.NewSLAWorker(
			worker.SLAWorkerConfig{
				PollInterval: deps.WorkerCfg.SLAPollInterval,
				BatchSize:    deps.WorkerCfg.SLABatchSize,
			},
			deps.Repos.Task,
			deps.TaskLifecycle,
			observer,
			deps.Logger,
		))
	}

	return manager, nil
}
