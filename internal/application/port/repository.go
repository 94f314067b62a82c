package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-core/internal/domain/entity"
)

// Repositories return (nil, nil) from GetByID when the row does not exist.
// Callers translate that into workflow.ErrNotFound.

// WorkItemRepository defines persistence operations for WorkItem
type WorkItemRepository interface {
	Create(ctx context.Context, item *entity.WorkItem) error
	GetByID(ctx context.Context, id string) (*entity.WorkItem, error)
	Update(ctx context.Context, item *entity.WorkItem) error
	List(ctx context.Context, status entity.WorkItemStatus, limit, offset int) ([]*entity.WorkItem, error)
}

// WorkItemVersionRepository defines persistence operations for WorkItemVersion
type WorkItemVersionRepository interface {
	Create(ctx context.Context, version *entity.WorkItemVersion) error
	ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkItemVersion, error)
}

// DefinitionRepository stores workflow templates
type DefinitionRepository interface {
	DefinitionReader
	CreateWorkflow(ctx context.Context, def *entity.WorkflowDefinition) error
	CreateStep(ctx context.Context, step *entity.StepDefinition) error
	CreateApprover(ctx context.Context, approver *entity.StepApprover) error
	LatestVersion(ctx context.Context, name string) (int, error)
}

// WorkflowInstanceRepository defines persistence operations for WorkflowInstance
type WorkflowInstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkflowInstance, error)
}

// StepInstanceRepository defines persistence operations for StepInstance
type StepInstanceRepository interface {
	Create(ctx context.Context, step *entity.StepInstance) error
	GetByID(ctx context.Context, id string) (*entity.StepInstance, error)
	Update(ctx context.Context, step *entity.StepInstance) error
	// ListByWorkflowInstanceID returns steps ordered by step order
	ListByWorkflowInstanceID(ctx context.Context, workflowInstanceID string) ([]*entity.StepInstance, error)
}

// TaskRepository defines persistence operations for ApprovalTask
type TaskRepository interface {
	Create(ctx context.Context, task *entity.ApprovalTask) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error)
	Update(ctx context.Context, task *entity.ApprovalTask) error
	ListByStepInstanceID(ctx context.Context, stepInstanceID string) ([]*entity.ApprovalTask, error)
	// ListByApprover returns tasks ordered by due time, tasks without a due time last
	ListByApprover(ctx context.Context, approverID string, status entity.TaskStatus) ([]*entity.ApprovalTask, error)
	// ListOverdue returns pending tasks whose due time is before the given instant
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.ApprovalTask, error)
}

// DecisionRepository defines persistence operations for ApprovalDecision
type DecisionRepository interface {
	Create(ctx context.Context, decision *entity.ApprovalDecision) error
	// ListByTaskID returns decisions oldest first
	ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalDecision, error)
}

// CommentRepository defines persistence operations for ApprovalComment
type CommentRepository interface {
	Create(ctx context.Context, comment *entity.ApprovalComment) error
	ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalComment, error)
}

// HistoryRepository stores the transition audit trail
type HistoryRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn inside a transaction carried by the context.
	// Nested calls reuse the outer transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
