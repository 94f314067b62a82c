package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/domain/entity"
)

const tracerName = "github.com/garyjia/approval-core/internal/application/workflow"

// Fixed reasons recorded when a rejection propagates upward
const (
	ReasonStepRejected     = "Step rejected by approver"
	ReasonWorkflowRejected = "Workflow rejected due to step rejection"
)

// Orchestrator coordinates the lifecycle controllers. It is the only component
// that moves work across step, workflow and work item boundaries.
type Orchestrator interface {
	// StartWorkflow instantiates a definition for a submitted work item and opens its first step
	StartWorkflow(ctx context.Context, workItemID, definitionID, actor string) (*entity.WorkflowInstance, error)

	// HandleApprovalDecision records an approve or reject and advances the workflow
	HandleApprovalDecision(ctx context.Context, taskID, actor string, decision entity.DecisionKind, comment string) (*DecisionOutcome, error)

	// CancelWorkflow withdraws a running workflow and its open tasks
	CancelWorkflow(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error)
}

// DecisionOutcome describes what a decision changed
type DecisionOutcome struct {
	Task      *entity.ApprovalTask     `json:"task"`
	Result    RuleResult               `json:"result"`
	Step      *entity.StepInstance     `json:"step"`
	NextStep  *entity.StepInstance     `json:"next_step,omitempty"`
	NextTasks []*entity.ApprovalTask   `json:"next_tasks,omitempty"`
	Workflow  *entity.WorkflowInstance `json:"workflow,omitempty"`
	WorkItem  *entity.WorkItem         `json:"work_item,omitempty"`
}

// Metrics receives orchestration measurements
type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	RecordRuleResult(result string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) RecordRuleResult(string)                        {}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Dependencies groups the collaborators of the orchestrator
type Dependencies struct {
	TxManager   port.TransactionManager
	WorkItems   port.WorkItemRepository
	Definitions port.DefinitionReader
	Instances   port.WorkflowInstanceRepository
	Steps       port.StepInstanceRepository
	Tasks       port.TaskRepository

	TaskLifecycle     service.TaskLifecycle
	StepLifecycle     service.StepLifecycle
	WorkflowLifecycle service.WorkflowLifecycle
	WorkItemLifecycle service.WorkItemLifecycle
	TaskCreator       port.TaskCreator
	Evaluator         RuleEvaluator

	Logger Logger
}

// Option configures the orchestrator
type Option func(*orchestratorImpl)

// WithDispatcher publishes lifecycle events after each committed operation
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *orchestratorImpl) {
		o.dispatcher = d
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *orchestratorImpl) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(o *orchestratorImpl) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(deps Dependencies, opts ...Option) Orchestrator {
	o := &orchestratorImpl{
		txManager:   deps.TxManager,
		workItems:   deps.WorkItems,
		definitions: deps.Definitions,
		instances:   deps.Instances,
		steps:       deps.Steps,
		tasks:       deps.Tasks,
		taskLC:      deps.TaskLifecycle,
		stepLC:      deps.StepLifecycle,
		workflowLC:  deps.WorkflowLifecycle,
		workItemLC:  deps.WorkItemLifecycle,
		taskCreator: deps.TaskCreator,
		evaluator:   deps.Evaluator,
		logger:      deps.Logger,
		locks:       newKeyedMutex(),
		metrics:     nopMetrics{},
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}
