package port

import (
	"context"

	"github.com/garyjia/approval-core/internal/domain/entity"
)

// DefinitionReader reads workflow templates
type DefinitionReader interface {
	GetWorkflow(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	// ListSteps returns step definitions ordered by step order
	ListSteps(ctx context.Context, workflowID string) ([]*entity.StepDefinition, error)
	GetStep(ctx context.Context, stepID string) (*entity.StepDefinition, error)
	ListApprovers(ctx context.Context, stepID string) ([]*entity.StepApprover, error)
}

// ApproverResolver maps role and manager references to concrete user IDs
type ApproverResolver interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
	ResolveManagerChain(ctx context.Context, userID string) ([]string, error)
}

// TaskCreator creates the approval tasks of a freshly started step
type TaskCreator interface {
	CreateTasksForStep(ctx context.Context, stepInstanceID, actor string) ([]*entity.ApprovalTask, error)
}
