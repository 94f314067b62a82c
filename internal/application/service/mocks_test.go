package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-core/internal/domain/entity"
)

// In-memory repositories. Rows are copied in and out so callers cannot
// mutate stored state without going through Update.

type memWorkItemRepo struct {
	mu    sync.Mutex
	items map[string]entity.WorkItem
}

func newMemWorkItemRepo() *memWorkItemRepo {
	return &memWorkItemRepo{items: make(map[string]entity.WorkItem)}
}

func (m *memWorkItemRepo) Create(ctx context.Context, item *entity.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	return nil
}

func (m *memWorkItemRepo) GetByID(ctx context.Context, id string) (*entity.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memWorkItemRepo) Update(ctx context.Context, item *entity.WorkItem) error {
	return m.Create(ctx, item)
}

func (m *memWorkItemRepo) List(ctx context.Context, status entity.WorkItemStatus, limit, offset int) ([]*entity.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.WorkItem
	for _, item := range m.items {
		if status != "" && item.Status != status {
			continue
		}
		i := item
		out = append(out, &i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

type memVersionRepo struct {
	mu       sync.Mutex
	versions []entity.WorkItemVersion
}

func (m *memVersionRepo) Create(ctx context.Context, v *entity.WorkItemVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, *v)
	return nil
}

func (m *memVersionRepo) ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkItemVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.WorkItemVersion
	for _, v := range m.versions {
		if v.WorkItemID == workItemID {
			c := v
			out = append(out, &c)
		}
	}
	return out, nil
}

type memDefinitionRepo struct {
	mu        sync.Mutex
	workflows map[string]entity.WorkflowDefinition
	steps     []entity.StepDefinition
	approvers []entity.StepApprover
}

func newMemDefinitionRepo() *memDefinitionRepo {
	return &memDefinitionRepo{workflows: make(map[string]entity.WorkflowDefinition)}
}

func (m *memDefinitionRepo) CreateWorkflow(ctx context.Context, def *entity.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[def.ID] = *def
	return nil
}

func (m *memDefinitionRepo) CreateStep(ctx context.Context, step *entity.StepDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, *step)
	return nil
}

func (m *memDefinitionRepo) CreateApprover(ctx context.Context, a *entity.StepApprover) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvers = append(m.approvers, *a)
	return nil
}

func (m *memDefinitionRepo) LatestVersion(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := 0
	for _, wf := range m.workflows {
		if wf.Name == name && wf.Version > latest {
			latest = wf.Version
		}
	}
	return latest, nil
}

func (m *memDefinitionRepo) GetWorkflow(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (m *memDefinitionRepo) ListSteps(ctx context.Context, workflowID string) ([]*entity.StepDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.StepDefinition
	for _, s := range m.steps {
		if s.WorkflowID == workflowID {
			c := s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StepOrder < out[b].StepOrder })
	return out, nil
}

func (m *memDefinitionRepo) GetStep(ctx context.Context, id string) (*entity.StepDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.ID == id {
			c := s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memDefinitionRepo) ListApprovers(ctx context.Context, stepID string) ([]*entity.StepApprover, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.StepApprover
	for _, a := range m.approvers {
		if a.StepID == stepID {
			c := a
			out = append(out, &c)
		}
	}
	return out, nil
}

type memInstanceRepo struct {
	mu        sync.Mutex
	order     []string
	instances map[string]entity.WorkflowInstance
}

func newMemInstanceRepo() *memInstanceRepo {
	return &memInstanceRepo{instances: make(map[string]entity.WorkflowInstance)}
}

func (m *memInstanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, instance.ID)
	m.instances[instance.ID] = *instance
	return nil
}

func (m *memInstanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, ok := m.instances[id]
	if !ok {
		return nil, nil
	}
	return &instance, nil
}

func (m *memInstanceRepo) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.ID] = *instance
	return nil
}

func (m *memInstanceRepo) ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, id := range m.order {
		instance := m.instances[id]
		if instance.WorkItemID == workItemID {
			out = append(out, &instance)
		}
	}
	return out, nil
}

type memStepRepo struct {
	mu    sync.Mutex
	steps map[string]entity.StepInstance
}

func newMemStepRepo() *memStepRepo {
	return &memStepRepo{steps: make(map[string]entity.StepInstance)}
}

func (m *memStepRepo) Create(ctx context.Context, step *entity.StepInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.ID] = *step
	return nil
}

func (m *memStepRepo) GetByID(ctx context.Context, id string) (*entity.StepInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return nil, nil
	}
	return &step, nil
}

func (m *memStepRepo) Update(ctx context.Context, step *entity.StepInstance) error {
	return m.Create(ctx, step)
}

func (m *memStepRepo) ListByWorkflowInstanceID(ctx context.Context, workflowInstanceID string) ([]*entity.StepInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.StepInstance
	for _, s := range m.steps {
		if s.WorkflowInstanceID == workflowInstanceID {
			c := s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StepOrder < out[b].StepOrder })
	return out, nil
}

type memTaskRepo struct {
	mu        sync.Mutex
	order     []string
	tasks     map[string]entity.ApprovalTask
	updateErr error
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]entity.ApprovalTask)}
}

func (m *memTaskRepo) Create(ctx context.Context, task *entity.ApprovalTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, task.ID)
	m.tasks[task.ID] = *task
	return nil
}

func (m *memTaskRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &task, nil
}

func (m *memTaskRepo) Update(ctx context.Context, task *entity.ApprovalTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.tasks[task.ID] = *task
	return nil
}

func (m *memTaskRepo) list(match func(t entity.ApprovalTask) bool) []*entity.ApprovalTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalTask
	for _, id := range m.order {
		t := m.tasks[id]
		if match(t) {
			out = append(out, &t)
		}
	}
	return out
}

func (m *memTaskRepo) ListByStepInstanceID(ctx context.Context, stepInstanceID string) ([]*entity.ApprovalTask, error) {
	return m.list(func(t entity.ApprovalTask) bool { return t.StepInstanceID == stepInstanceID }), nil
}

func (m *memTaskRepo) ListByApprover(ctx context.Context, approverID string, status entity.TaskStatus) ([]*entity.ApprovalTask, error) {
	return m.list(func(t entity.ApprovalTask) bool { return t.ApproverID == approverID && t.Status == status }), nil
}

func (m *memTaskRepo) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.ApprovalTask, error) {
	return m.list(func(t entity.ApprovalTask) bool {
		return t.Status == entity.TaskStatusPending && t.DueAt != nil && t.DueAt.Before(before)
	}), nil
}

type memDecisionRepo struct {
	mu        sync.Mutex
	decisions []entity.ApprovalDecision
}

func (m *memDecisionRepo) Create(ctx context.Context, d *entity.ApprovalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *memDecisionRepo) ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalDecision
	for _, d := range m.decisions {
		if d.TaskID == taskID {
			c := d
			out = append(out, &c)
		}
	}
	return out, nil
}

type memCommentRepo struct {
	mu       sync.Mutex
	comments []entity.ApprovalComment
}

func (m *memCommentRepo) Create(ctx context.Context, c *entity.ApprovalComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments = append(m.comments, *c)
	return nil
}

func (m *memCommentRepo) ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalComment
	for _, c := range m.comments {
		if c.TaskID == taskID {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	records []entity.TransitionRecord
}

func (m *memHistoryRepo) Create(ctx context.Context, r *entity.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

func (m *memHistoryRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TransitionRecord
	for _, r := range m.records {
		if r.EntityType == entityType && r.EntityID == entityID {
			c := r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memHistoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockResolver maps roles and users to approvers
type mockResolver struct {
	roles    map[string][]string
	managers map[string][]string
	err      error
}

func (m *mockResolver) ResolveRole(ctx context.Context, role string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.roles[role], nil
}

func (m *mockResolver) ResolveManagerChain(ctx context.Context, userID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.managers[userID], nil
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
