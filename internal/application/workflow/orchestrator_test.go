package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/internal/domain/event"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-core/migrations"
	"github.com/garyjia/approval-core/pkg/database"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type stubResolver struct {
	roles map[string][]string
	err   error
}

func (r *stubResolver) ResolveRole(ctx context.Context, role string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.roles[role], nil
}

func (r *stubResolver) ResolveManagerChain(ctx context.Context, userID string) ([]string, error) {
	return nil, r.err
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	rules      map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{operations: make(map[string]int), rules: make(map[string]int)}
}

func (m *recordingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation+"/"+outcome]++
}

func (m *recordingMetrics) RecordRuleResult(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[result]++
}

type eventLog struct {
	mu     sync.Mutex
	events []*event.Event
}

func (l *eventLog) handle(ctx context.Context, evt *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) count(t event.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	orch        Orchestrator
	definitions service.DefinitionService
	workItems   service.WorkItemService
	itemLC      service.WorkItemLifecycle
	resolver    *stubResolver

	items     port.WorkItemRepository
	instances port.WorkflowInstanceRepository
	steps     port.StepInstanceRepository
	tasks     port.TaskRepository
	decisions port.DecisionRepository
	history   port.HistoryRepository

	dispatcher dispatcher.Dispatcher
	events     *eventLog
	metrics    *recordingMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	zl := zap.NewNop()

	db, err := database.New(database.Config{Path: database.MemoryPath}, zl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.NewMigrator(db, zl).RunMigrations(migrations.FS)
	require.NoError(t, err)

	txManager := sqlite.NewDB(db.DB, zl)
	items := repository.NewWorkItemRepository(db.DB, zl)
	versions := repository.NewWorkItemVersionRepository(db.DB, zl)
	defs := repository.NewDefinitionRepository(db.DB, zl)
	instances := repository.NewWorkflowInstanceRepository(db.DB, zl)
	steps := repository.NewStepInstanceRepository(db.DB, zl)
	tasks := repository.NewTaskRepository(db.DB, zl)
	decisions := repository.NewDecisionRepository(db.DB, zl)
	comments := repository.NewCommentRepository(db.DB, zl)
	history := repository.NewHistoryRepository(db.DB, zl)

	logger := nopLogger{}
	resolver := &stubResolver{roles: map[string][]string{"finance": {"fay", "frank"}}}
	itemLC := service.NewWorkItemLifecycle(items, versions, history, txManager, logger)

	events := &eventLog{}
	d := dispatcher.NewDispatcher()
	d.SubscribeAll("recorder", events.handle)
	t.Cleanup(func() { _ = d.Close() })
	metrics := newRecordingMetrics()

	orch := NewOrchestrator(Dependencies{
		TxManager:         txManager,
		WorkItems:         items,
		Definitions:       defs,
		Instances:         instances,
		Steps:             steps,
		Tasks:             tasks,
		TaskLifecycle:     service.NewTaskLifecycle(tasks, decisions, comments, history, txManager, logger),
		StepLifecycle:     service.NewStepLifecycle(steps, history, txManager, logger),
		WorkflowLifecycle: service.NewWorkflowLifecycle(instances, history, txManager, logger),
		WorkItemLifecycle: itemLC,
		TaskCreator:       service.NewTaskService(steps, defs, resolver, tasks, decisions, comments, txManager, logger),
		Evaluator:         NewRuleEvaluator(steps, tasks, decisions, defs),
		Logger:            logger,
	}, WithDispatcher(d), WithMetrics(metrics))

	return &harness{
		orch:        orch,
		definitions: service.NewDefinitionService(defs, txManager, logger),
		workItems:   service.NewWorkItemService(items, versions, instances, steps, tasks, defs, logger),
		itemLC:      itemLC,
		resolver:    resolver,
		items:       items,
		instances:   instances,
		steps:       steps,
		tasks:       tasks,
		decisions:   decisions,
		history:     history,
		dispatcher:  d,
		events:      events,
		metrics:     metrics,
	}
}

// twoStepDefinition is a manager review needing alice and bob, then one finance sign-off
func twoStepDefinition() service.CreateDefinitionRequest {
	return service.CreateDefinitionRequest{
		Name: "expense",
		Steps: []service.StepInput{
			{
				Name:         "Manager review",
				ApprovalType: entity.ApprovalTypeAll,
				Approvers: []service.ApproverInput{
					{Type: entity.ApproverTypeUser, Value: "alice"},
					{Type: entity.ApproverTypeUser, Value: "bob"},
				},
			},
			{
				Name:         "Finance",
				ApprovalType: entity.ApprovalTypeAny,
				SLAHours:     24,
				Approvers:    []service.ApproverInput{{Type: entity.ApproverTypeRole, Value: "finance"}},
			},
		},
	}
}

// submitted creates a definition and a submitted work item
func (h *harness) submitted(t *testing.T, req service.CreateDefinitionRequest) (defID, itemID string) {
	t.Helper()
	ctx := context.Background()

	def, err := h.definitions.Create(ctx, req, "admin")
	require.NoError(t, err)

	item, err := h.workItems.Create(ctx, service.CreateWorkItemRequest{Type: "expense", Title: "Conference trip"}, "carol")
	require.NoError(t, err)
	_, _, err = h.itemLC.Submit(ctx, item.ID, "doc-1", "carol")
	require.NoError(t, err)

	return def.Workflow.ID, item.ID
}

func (h *harness) start(t *testing.T, req service.CreateDefinitionRequest) *entity.WorkflowInstance {
	t.Helper()
	defID, itemID := h.submitted(t, req)
	instance, err := h.orch.StartWorkflow(context.Background(), itemID, defID, "carol")
	require.NoError(t, err)
	return instance
}

func (h *harness) stepsOf(t *testing.T, instanceID string) []*entity.StepInstance {
	t.Helper()
	steps, err := h.steps.ListByWorkflowInstanceID(context.Background(), instanceID)
	require.NoError(t, err)
	return steps
}

func (h *harness) tasksOf(t *testing.T, stepID string) map[string]*entity.ApprovalTask {
	t.Helper()
	tasks, err := h.tasks.ListByStepInstanceID(context.Background(), stepID)
	require.NoError(t, err)
	byApprover := make(map[string]*entity.ApprovalTask, len(tasks))
	for _, task := range tasks {
		byApprover[task.ApproverID] = task
	}
	return byApprover
}

func (h *harness) workItem(t *testing.T, id string) *entity.WorkItem {
	t.Helper()
	item, err := h.items.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func (h *harness) instance(t *testing.T, id string) *entity.WorkflowInstance {
	t.Helper()
	instance, err := h.instances.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, instance)
	return instance
}

func TestStartWorkflow(t *testing.T) {
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())

	assert.Equal(t, entity.WorkflowStatusInProgress, instance.Status)
	assert.Equal(t, 1, instance.WorkflowVersion)
	assert.NotNil(t, instance.StartedAt)
	assert.Equal(t, entity.WorkItemStatusInReview, h.workItem(t, instance.WorkItemID).Status)

	steps := h.stepsOf(t, instance.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, entity.StepStatusInProgress, steps[0].Status)
	assert.Equal(t, entity.StepStatusNotStarted, steps[1].Status)

	tasks := h.tasksOf(t, steps[0].ID)
	require.Len(t, tasks, 2)
	assert.Equal(t, entity.TaskStatusPending, tasks["alice"].Status)
	assert.Nil(t, tasks["alice"].DueAt)
	assert.Empty(t, h.tasksOf(t, steps[1].ID), "later steps get tasks only when they start")

	require.NoError(t, h.dispatcher.Close())
	assert.Equal(t, 1, h.events.count(event.TypeWorkflowStarted))
	assert.Equal(t, 1, h.events.count(event.TypeStepStarted))
	assert.Equal(t, 1, h.metrics.operations["start_workflow/success"])
}

func TestStartWorkflow_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown work item", func(t *testing.T) {
		h := newHarness(t)
		defID, _ := h.submitted(t, twoStepDefinition())
		_, err := h.orch.StartWorkflow(ctx, "missing", defID, "carol")
		assert.ErrorIs(t, err, domainwf.ErrNotFound)
	})

	t.Run("unknown definition", func(t *testing.T) {
		h := newHarness(t)
		_, itemID := h.submitted(t, twoStepDefinition())
		_, err := h.orch.StartWorkflow(ctx, itemID, "missing", "carol")
		assert.ErrorIs(t, err, domainwf.ErrNotFound)
		assert.Equal(t, 1, h.metrics.operations["start_workflow/not_found"])
	})

	t.Run("work item not submitted", func(t *testing.T) {
		h := newHarness(t)
		defID, _ := h.submitted(t, twoStepDefinition())
		draft, err := h.workItems.Create(ctx, service.CreateWorkItemRequest{Type: "expense", Title: "Draft"}, "carol")
		require.NoError(t, err)

		_, err = h.orch.StartWorkflow(ctx, draft.ID, defID, "carol")
		assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

		instances, err := h.instances.ListByWorkItemID(ctx, draft.ID)
		require.NoError(t, err)
		assert.Empty(t, instances, "a failed start leaves nothing behind")
	})

	t.Run("step without approvers rolls back", func(t *testing.T) {
		h := newHarness(t)
		h.resolver.roles = nil
		req := service.CreateDefinitionRequest{
			Name: "empty-role",
			Steps: []service.StepInput{{
				Name:         "Finance",
				ApprovalType: entity.ApprovalTypeAny,
				Approvers:    []service.ApproverInput{{Type: entity.ApproverTypeRole, Value: "finance"}},
			}},
		}
		defID, itemID := h.submitted(t, req)

		_, err := h.orch.StartWorkflow(ctx, itemID, defID, "carol")
		assert.ErrorIs(t, err, domainwf.ErrInvalidState)
		assert.Equal(t, entity.WorkItemStatusSubmitted, h.workItem(t, itemID).Status)

		instances, err := h.instances.ListByWorkItemID(ctx, itemID)
		require.NoError(t, err)
		assert.Empty(t, instances)
	})
}

func TestHandleApprovalDecision_ApprovalChainCompletesWorkflow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())
	steps := h.stepsOf(t, instance.ID)
	first := h.tasksOf(t, steps[0].ID)

	outcome, err := h.orch.HandleApprovalDecision(ctx, first["alice"].ID, "alice", entity.DecisionApproved, "fine by me")
	require.NoError(t, err)
	assert.Equal(t, RulePending, outcome.Result)
	assert.Equal(t, entity.TaskStatusApproved, outcome.Task.Status)
	assert.Nil(t, outcome.NextStep)
	assert.Equal(t, entity.StepStatusInProgress, outcome.Step.Status)

	outcome, err = h.orch.HandleApprovalDecision(ctx, first["bob"].ID, "bob", entity.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, RuleSatisfied, outcome.Result)
	assert.Equal(t, entity.StepStatusCompleted, outcome.Step.Status)
	require.NotNil(t, outcome.NextStep)
	assert.Equal(t, steps[1].ID, outcome.NextStep.ID)
	assert.Equal(t, entity.StepStatusInProgress, outcome.NextStep.Status)
	require.Len(t, outcome.NextTasks, 2)
	assert.NotNil(t, outcome.NextTasks[0].DueAt, "finance step has an SLA")
	assert.Nil(t, outcome.Workflow)

	second := h.tasksOf(t, steps[1].ID)
	outcome, err = h.orch.HandleApprovalDecision(ctx, second["fay"].ID, "fay", entity.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, RuleSatisfied, outcome.Result)
	require.NotNil(t, outcome.Workflow)
	assert.Equal(t, entity.WorkflowStatusCompleted, outcome.Workflow.Status)
	assert.NotNil(t, outcome.Workflow.CompletedAt)
	require.NotNil(t, outcome.WorkItem)
	assert.Equal(t, entity.WorkItemStatusApproved, outcome.WorkItem.Status)

	// Unused sibling approvals stay pending but can no longer be decided
	second = h.tasksOf(t, steps[1].ID)
	assert.Equal(t, entity.TaskStatusPending, second["frank"].Status)
	_, err = h.orch.HandleApprovalDecision(ctx, second["frank"].ID, "frank", entity.DecisionApproved, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	require.NoError(t, h.dispatcher.Close())
	assert.Equal(t, 3, h.events.count(event.TypeTaskDecided))
	assert.Equal(t, 2, h.events.count(event.TypeStepCompleted))
	assert.Equal(t, 1, h.events.count(event.TypeWorkflowCompleted))
	assert.Equal(t, 1, h.metrics.rules[string(RulePending)])
	assert.Equal(t, 2, h.metrics.rules[string(RuleSatisfied)])

	records, err := h.history.ListByEntity(ctx, entity.EntityTypeWorkflow, instance.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(entity.WorkflowStatusCompleted), records[1].ToStatus)
}

func TestHandleApprovalDecision_RejectionFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())
	steps := h.stepsOf(t, instance.ID)
	first := h.tasksOf(t, steps[0].ID)

	_, err := h.orch.HandleApprovalDecision(ctx, first["bob"].ID, "bob", entity.DecisionApproved, "")
	require.NoError(t, err)

	outcome, err := h.orch.HandleApprovalDecision(ctx, first["alice"].ID, "alice", entity.DecisionRejected, "missing receipts")
	require.NoError(t, err)
	assert.Equal(t, RuleRejected, outcome.Result)
	assert.Equal(t, entity.StepStatusFailed, outcome.Step.Status)
	assert.Equal(t, entity.WorkflowStatusFailed, outcome.Workflow.Status)
	assert.Equal(t, entity.WorkItemStatusRejected, outcome.WorkItem.Status)

	steps = h.stepsOf(t, instance.ID)
	assert.Equal(t, entity.StepStatusNotStarted, steps[1].Status, "a rejected workflow never starts later steps")
	assert.Empty(t, h.tasksOf(t, steps[1].ID))

	records, err := h.history.ListByEntity(ctx, entity.EntityTypeStep, steps[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, ReasonStepRejected, records[len(records)-1].Reason)

	records, err = h.history.ListByEntity(ctx, entity.EntityTypeWorkflow, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonWorkflowRejected, records[len(records)-1].Reason)

	decisions, err := h.decisions.ListByTaskID(ctx, first["alice"].ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "missing receipts", decisions[0].Comments)

	require.NoError(t, h.dispatcher.Close())
	assert.Equal(t, 1, h.events.count(event.TypeStepFailed))
	assert.Equal(t, 1, h.events.count(event.TypeWorkflowFailed))
}

func TestHandleApprovalDecision_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())
	alice := h.tasksOf(t, h.stepsOf(t, instance.ID)[0].ID)["alice"]

	_, err := h.orch.HandleApprovalDecision(ctx, alice.ID, "alice", entity.DecisionKind("MAYBE"), "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidArgument)

	_, err = h.orch.HandleApprovalDecision(ctx, "missing", "alice", entity.DecisionApproved, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = h.orch.HandleApprovalDecision(ctx, alice.ID, "alice", entity.DecisionApproved, "")
	require.NoError(t, err)

	_, err = h.orch.HandleApprovalDecision(ctx, alice.ID, "alice", entity.DecisionApproved, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	decisions, err := h.decisions.ListByTaskID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, decisions, 1, "a repeated decision records nothing")

	assert.Equal(t, 1, h.metrics.operations["handle_decision/invalid_argument"])
	assert.Equal(t, 1, h.metrics.operations["handle_decision/not_found"])
	assert.Equal(t, 1, h.metrics.operations["handle_decision/invalid_transition"])
}

func TestHandleApprovalDecision_FailedCascadeRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())
	steps := h.stepsOf(t, instance.ID)
	first := h.tasksOf(t, steps[0].ID)

	_, err := h.orch.HandleApprovalDecision(ctx, first["alice"].ID, "alice", entity.DecisionApproved, "")
	require.NoError(t, err)

	// Starting the finance step cannot resolve its approvers
	h.resolver.err = errors.New("directory unavailable")
	_, err = h.orch.HandleApprovalDecision(ctx, first["bob"].ID, "bob", entity.DecisionApproved, "")
	require.Error(t, err)

	steps = h.stepsOf(t, instance.ID)
	assert.Equal(t, entity.StepStatusInProgress, steps[0].Status)
	assert.Equal(t, entity.StepStatusNotStarted, steps[1].Status)
	assert.Equal(t, entity.TaskStatusPending, h.tasksOf(t, steps[0].ID)["bob"].Status)

	decisions, err := h.decisions.ListByTaskID(ctx, first["bob"].ID)
	require.NoError(t, err)
	assert.Empty(t, decisions)

	// The same decision goes through once the directory recovers
	h.resolver.err = nil
	outcome, err := h.orch.HandleApprovalDecision(ctx, first["bob"].ID, "bob", entity.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, RuleSatisfied, outcome.Result)
	require.NotNil(t, outcome.NextStep)
}

func TestHandleApprovalDecision_ConcurrentSiblingApprovals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	approvers := []string{"a1", "a2", "a3", "a4", "a5"}
	inputs := make([]service.ApproverInput, 0, len(approvers))
	for _, a := range approvers {
		inputs = append(inputs, service.ApproverInput{Type: entity.ApproverTypeUser, Value: a})
	}
	instance := h.start(t, service.CreateDefinitionRequest{
		Name:  "board",
		Steps: []service.StepInput{{Name: "Board", ApprovalType: entity.ApprovalTypeAll, Approvers: inputs}},
	})
	step := h.stepsOf(t, instance.ID)[0]
	tasks := h.tasksOf(t, step.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		satisfied int
		errs      []error
	)
	for _, a := range approvers {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			outcome, err := h.orch.HandleApprovalDecision(ctx, tasks[approver].ID, approver, entity.DecisionApproved, "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if outcome.Result == RuleSatisfied {
				satisfied++
			}
		}(a)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, satisfied, "exactly one decision completes the step")
	assert.Equal(t, entity.WorkflowStatusCompleted, h.instance(t, instance.ID).Status)
	assert.Equal(t, entity.WorkItemStatusApproved, h.workItem(t, instance.WorkItemID).Status)

	records, err := h.history.ListByEntity(ctx, entity.EntityTypeStep, step.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "step started once and completed once")
}

func TestCancelWorkflow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instance := h.start(t, twoStepDefinition())
	steps := h.stepsOf(t, instance.ID)
	first := h.tasksOf(t, steps[0].ID)

	for _, approver := range []string{"alice", "bob"} {
		_, err := h.orch.HandleApprovalDecision(ctx, first[approver].ID, approver, entity.DecisionApproved, "")
		require.NoError(t, err)
	}

	cancelled, err := h.orch.CancelWorkflow(ctx, instance.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCancelled, cancelled.Status)
	assert.Equal(t, entity.WorkItemStatusCancelled, h.workItem(t, instance.WorkItemID).Status)

	for approver, task := range h.tasksOf(t, steps[1].ID) {
		assert.Equal(t, entity.TaskStatusCancelled, task.Status, approver)
	}
	for approver, task := range h.tasksOf(t, steps[0].ID) {
		assert.Equal(t, entity.TaskStatusApproved, task.Status, "decided tasks are left alone: %s", approver)
	}

	_, err = h.orch.CancelWorkflow(ctx, instance.ID, "carol")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	_, err = h.orch.CancelWorkflow(ctx, "missing", "carol")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	require.NoError(t, h.dispatcher.Close())
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	var payload map[string]interface{}
	for _, e := range h.events.events {
		if e.Type == event.TypeWorkflowCancelled {
			payload = e.Payload
		}
	}
	require.NotNil(t, payload)
	assert.Equal(t, 2, payload["cancelled_tasks"])
}
