package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/application/workflow"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
	"github.com/garyjia/approval-core/internal/infrastructure/directory"
	"github.com/garyjia/approval-core/internal/infrastructure/metrics"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-core/migrations"
	"github.com/garyjia/approval-core/pkg/database"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
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
	resolver := directory.NewStatic(directory.Config{
		Roles: map[string][]string{"finance": {"fay", "frank"}},
	}, zl)

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(metrics.Config{Registry: registry})

	d := dispatcher.NewDispatcher()
	d.SubscribeAll("metrics", recorder.EventHandler())
	t.Cleanup(func() { _ = d.Close() })

	itemLC := service.NewWorkItemLifecycle(items, versions, history, txManager, logger)
	taskLC := service.NewTaskLifecycle(tasks, decisions, comments, history, txManager, logger)
	taskService := service.NewTaskService(steps, defs, resolver, tasks, decisions, comments, txManager, logger)

	orch := workflow.NewOrchestrator(workflow.Dependencies{
		TxManager:         txManager,
		WorkItems:         items,
		Definitions:       defs,
		Instances:         instances,
		Steps:             steps,
		Tasks:             tasks,
		TaskLifecycle:     taskLC,
		StepLifecycle:     service.NewStepLifecycle(steps, history, txManager, logger),
		WorkflowLifecycle: service.NewWorkflowLifecycle(instances, history, txManager, logger),
		WorkItemLifecycle: itemLC,
		TaskCreator:       taskService,
		Evaluator:         workflow.NewRuleEvaluator(steps, tasks, decisions, defs),
		Logger:            logger,
	}, workflow.WithDispatcher(d), workflow.WithMetrics(recorder))

	return NewServer(DefaultServerConfig(), Services{
		Orchestrator:      orch,
		Definitions:       service.NewDefinitionService(defs, txManager, logger),
		WorkItems:         service.NewWorkItemService(items, versions, instances, steps, tasks, defs, logger),
		WorkItemLifecycle: itemLC,
		Tasks:             taskService,
		TaskLifecycle:     taskLC,
	}, logger, WithGatherer(registry))
}

func call(t *testing.T, s *Server, method, path, actor string, body interface{}) (int, envelope) {
	t.Helper()

	var payload *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = strings.NewReader(string(raw))
	} else {
		payload = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// startedWorkflow creates a two-step definition, a submitted work item and starts the workflow
func startedWorkflow(t *testing.T, s *Server) (itemID string, instance entity.WorkflowInstance) {
	t.Helper()

	code, env := call(t, s, http.MethodPost, "/api/workflow-definitions", "admin", map[string]interface{}{
		"name": "expense",
		"steps": []map[string]interface{}{
			{
				"name":          "Manager review",
				"approval_type": "ALL",
				"approvers":     []map[string]string{{"type": "USER", "value": "alice"}},
			},
			{
				"name":          "Finance",
				"approval_type": "ANY",
				"sla_hours":     24,
				"approvers":     []map[string]string{{"type": "ROLE", "value": "finance"}},
			},
		},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	def := decode[service.DefinitionDetails](t, env)
	require.Len(t, def.Steps, 2)

	code, env = call(t, s, http.MethodPost, "/api/work-items", "carol", map[string]string{
		"type":  "expense",
		"title": "Conference trip\x00",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	item := decode[entity.WorkItem](t, env)
	assert.Equal(t, "Conference trip", item.Title)
	assert.Equal(t, entity.WorkItemStatusDraft, item.Status)

	code, env = call(t, s, http.MethodPost, "/api/work-items/"+item.ID+"/submit", "carol", map[string]string{"content_ref": "doc-1"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = call(t, s, http.MethodPost, "/api/workflows", "carol", map[string]string{
		"work_item_id":           item.ID,
		"workflow_definition_id": def.Workflow.ID,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	instance = decode[entity.WorkflowInstance](t, env)
	assert.Equal(t, entity.WorkflowStatusInProgress, instance.Status)

	return item.ID, instance
}

func pendingTaskFor(t *testing.T, s *Server, approver string) entity.ApprovalTask {
	t.Helper()
	code, env := call(t, s, http.MethodGet, "/api/tasks?approverId="+approver+"&status=PENDING", "", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	tasks := decode[[]entity.ApprovalTask](t, env)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	code, env := call(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	s = NewServer(DefaultServerConfig(), Services{}, nopLogger{}, WithReadiness(func() error {
		return errors.New("database unreachable")
	}))
	code, env = call(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
}

func TestMutatingRoutesRequireActor(t *testing.T) {
	s := newTestServer(t)

	code, env := call(t, s, http.MethodPost, "/api/work-items", "", map[string]string{"type": "expense", "title": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, env.Error, ActorHeader)

	code, _ = call(t, s, http.MethodPost, "/api/work-items", "bad actor", map[string]string{"type": "expense", "title": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	itemID, instance := startedWorkflow(t, s)

	aliceTask := pendingTaskFor(t, s, "alice")

	code, env := call(t, s, http.MethodPost, "/api/tasks/"+aliceTask.ID+"/approve", "alice", map[string]string{"comment": "ok"})
	require.Equal(t, http.StatusOK, code, env.Error)
	outcome := decode[workflow.DecisionOutcome](t, env)
	assert.Equal(t, workflow.RuleSatisfied, outcome.Result)
	require.NotNil(t, outcome.NextStep)
	assert.Len(t, outcome.NextTasks, 2)

	code, env = call(t, s, http.MethodPost, "/api/tasks/"+aliceTask.ID+"/approve", "alice", nil)
	assert.Equal(t, http.StatusConflict, code, "decided tasks stay decided")

	fayTask := pendingTaskFor(t, s, "fay")
	code, env = call(t, s, http.MethodPost, "/api/tasks/"+fayTask.ID+"/comments", "fay", map[string]string{"comment": "checking receipts"})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = call(t, s, http.MethodPost, "/api/tasks/"+fayTask.ID+"/approve", "fay", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	outcome = decode[workflow.DecisionOutcome](t, env)
	require.NotNil(t, outcome.Workflow)
	assert.Equal(t, entity.WorkflowStatusCompleted, outcome.Workflow.Status)

	code, env = call(t, s, http.MethodGet, "/api/tasks/"+fayTask.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	details := decode[service.TaskDetails](t, env)
	assert.Len(t, details.Decisions, 1)
	assert.Len(t, details.Comments, 1)

	code, env = call(t, s, http.MethodGet, "/api/workflows/"+instance.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	progress := decode[service.WorkflowProgress](t, env)
	assert.Equal(t, 2, progress.CompletedSteps)
	assert.Equal(t, float64(100), progress.Percentage)

	code, env = call(t, s, http.MethodGet, "/api/work-items/"+itemID, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, entity.WorkItemStatusApproved, decode[entity.WorkItem](t, env).Status)

	code, env = call(t, s, http.MethodPost, "/api/work-items/"+itemID+"/archive", "carol", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, entity.WorkItemStatusArchived, decode[entity.WorkItem](t, env).Status)

	code, env = call(t, s, http.MethodGet, "/api/work-items/"+itemID+"/versions", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]entity.WorkItemVersion](t, env), 1)
}

func TestRejectionOverHTTP(t *testing.T) {
	s := newTestServer(t)
	itemID, _ := startedWorkflow(t, s)

	aliceTask := pendingTaskFor(t, s, "alice")
	code, env := call(t, s, http.MethodPost, "/api/tasks/"+aliceTask.ID+"/reject", "alice", map[string]string{"comment": "missing receipt"})
	require.Equal(t, http.StatusOK, code, env.Error)
	outcome := decode[workflow.DecisionOutcome](t, env)
	assert.Equal(t, workflow.RuleRejected, outcome.Result)
	require.NotNil(t, outcome.WorkItem)
	assert.Equal(t, entity.WorkItemStatusRejected, outcome.WorkItem.Status)

	code, _ = call(t, s, http.MethodPost, "/api/work-items/"+itemID+"/rework", "carol", nil)
	assert.Equal(t, http.StatusConflict, code, "rework is only reachable from review")

	code, env = call(t, s, http.MethodGet, "/api/work-items/"+itemID+"/workflows", "", nil)
	require.Equal(t, http.StatusOK, code)
	instances := decode[[]entity.WorkflowInstance](t, env)
	require.Len(t, instances, 1)
	assert.Equal(t, entity.WorkflowStatusFailed, instances[0].Status)

	code, env = call(t, s, http.MethodGet, "/api/work-items/"+itemID+"/workflow-progress", "", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, 0, decode[service.WorkflowProgress](t, env).CompletedSteps)
}

func TestReworkDuringReview(t *testing.T) {
	s := newTestServer(t)
	itemID, _ := startedWorkflow(t, s)

	code, env := call(t, s, http.MethodPost, "/api/work-items/"+itemID+"/rework", "mona", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	item := decode[entity.WorkItem](t, env)
	assert.Equal(t, entity.WorkItemStatusRework, item.Status)
	assert.Equal(t, 2, item.CurrentVersion)
}

func TestDelegationAndReassignment(t *testing.T) {
	s := newTestServer(t)
	startedWorkflow(t, s)

	task := pendingTaskFor(t, s, "alice")

	code, env := call(t, s, http.MethodPost, "/api/tasks/"+task.ID+"/delegate", "alice", map[string]string{"to": "dave"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, entity.TaskStatusDelegated, decode[entity.ApprovalTask](t, env).Status)

	code, env = call(t, s, http.MethodPost, "/api/tasks/"+task.ID+"/accept", "dave", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	accepted := decode[entity.ApprovalTask](t, env)
	assert.Equal(t, entity.TaskStatusPending, accepted.Status)
	assert.Equal(t, "dave", accepted.ApproverID)

	code, env = call(t, s, http.MethodPost, "/api/tasks/"+task.ID+"/reassign", "admin", map[string]string{
		"new_approver": "erin",
		"reason":       "dave is on leave",
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "erin", decode[entity.ApprovalTask](t, env).ApproverID)

	code, _ = call(t, s, http.MethodPost, "/api/tasks/"+task.ID+"/delegate", "erin", map[string]string{"to": "not valid"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, s, http.MethodPost, "/api/tasks/"+task.ID+"/expire", "system", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, entity.TaskStatusExpired, decode[entity.ApprovalTask](t, env).Status)
}

func TestCancelWorkflow(t *testing.T) {
	s := newTestServer(t)
	_, instance := startedWorkflow(t, s)

	code, env := call(t, s, http.MethodPost, "/api/workflows/"+instance.ID+"/cancel", "carol", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, entity.WorkflowStatusCancelled, decode[entity.WorkflowInstance](t, env).Status)

	code, _ = call(t, s, http.MethodPost, "/api/workflows/"+instance.ID+"/cancel", "carol", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, s, http.MethodPost, "/api/workflows/missing/cancel", "carol", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   interface{}
		want   int
	}{
		{name: "missing work item", method: http.MethodGet, path: "/api/work-items/missing", actor: "carol", want: http.StatusNotFound},
		{name: "missing definition", actor: "carol", method: http.MethodGet, path: "/api/workflow-definitions/missing", want: http.StatusNotFound},
		{name: "missing task decision", actor: "carol", method: http.MethodPost, path: "/api/tasks/missing/approve", want: http.StatusNotFound},
		{name: "start without ids", actor: "carol", method: http.MethodPost, path: "/api/workflows", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "definition without name", actor: "carol", method: http.MethodPost, path: "/api/workflow-definitions", body: map[string]interface{}{"steps": []string{}}, want: http.StatusBadRequest},
		{name: "unknown task status", actor: "carol", method: http.MethodGet, path: "/api/tasks?approverId=alice&status=DONE", want: http.StatusBadRequest},
		{name: "task list without approver", method: http.MethodGet, path: "/api/tasks", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, s, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, code, env.Error)
			assert.False(t, env.Success)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	startedWorkflow(t, s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `approval_core_orchestrator_operations_total{operation="start_workflow",outcome="success"} 1`)
}

type failingWorkItems struct {
	service.WorkItemService
}

func (failingWorkItems) Get(ctx context.Context, workItemID string) (*entity.WorkItem, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	s := NewServer(DefaultServerConfig(), Services{WorkItems: failingWorkItems{}}, nopLogger{})

	code, env := call(t, s, http.MethodGet, "/api/work-items/any", "", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", env.Error)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("task t1: %w", domainwf.ErrNotFound), want: http.StatusNotFound},
		{err: fmt.Errorf("bad: %w", domainwf.ErrInvalidArgument), want: http.StatusBadRequest},
		{err: fmt.Errorf("no approvers: %w", domainwf.ErrInvalidState), want: http.StatusBadRequest},
		{err: fmt.Errorf("approve: %w", domainwf.ErrInvalidTransition), want: http.StatusConflict},
		{err: fmt.Errorf("guard: %w", domainwf.ErrGuardFailed), want: http.StatusConflict},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
