package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// CreateWorkItemRequest holds the fields of a new work item
type CreateWorkItemRequest struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// StepProgress is one step of a workflow progress report
type StepProgress struct {
	Step     *entity.StepInstance   `json:"step"`
	StepName string                 `json:"step_name"`
	Tasks    []*entity.ApprovalTask `json:"tasks"`
}

// WorkflowProgress summarises the latest workflow instance of a work item
type WorkflowProgress struct {
	WorkItemID     string                   `json:"work_item_id"`
	Instance       *entity.WorkflowInstance `json:"instance"`
	Steps          []StepProgress           `json:"steps"`
	CurrentStep    *StepProgress            `json:"current_step,omitempty"`
	CompletedSteps int                      `json:"completed_steps"`
	TotalSteps     int                      `json:"total_steps"`
	Percentage     float64                  `json:"percentage"`
}

// WorkItemService manages work item creation and queries
type WorkItemService interface {
	Create(ctx context.Context, req CreateWorkItemRequest, actor string) (*entity.WorkItem, error)
	Get(ctx context.Context, workItemID string) (*entity.WorkItem, error)
	List(ctx context.Context, status entity.WorkItemStatus, limit, offset int) ([]*entity.WorkItem, error)
	ListVersions(ctx context.Context, workItemID string) ([]*entity.WorkItemVersion, error)
	ListWorkflows(ctx context.Context, workItemID string) ([]*entity.WorkflowInstance, error)
	GetWorkflowProgress(ctx context.Context, workItemID string) (*WorkflowProgress, error)
	// GetWorkflow reports progress of one workflow instance
	GetWorkflow(ctx context.Context, instanceID string) (*WorkflowProgress, error)
}

type workItemServiceImpl struct {
	itemRepo     port.WorkItemRepository
	versionRepo  port.WorkItemVersionRepository
	instanceRepo port.WorkflowInstanceRepository
	stepRepo     port.StepInstanceRepository
	taskRepo     port.TaskRepository
	definitions  port.DefinitionReader
	now          Clock
	logger       Logger
}

// NewWorkItemService creates a new WorkItemService
func NewWorkItemService(
	itemRepo port.WorkItemRepository,
	versionRepo port.WorkItemVersionRepository,
	instanceRepo port.WorkflowInstanceRepository,
	stepRepo port.StepInstanceRepository,
	taskRepo port.TaskRepository,
	definitions port.DefinitionReader,
	logger Logger,
) WorkItemService {
	return &workItemServiceImpl{
		itemRepo:     itemRepo,
		versionRepo:  versionRepo,
		instanceRepo: instanceRepo,
		stepRepo:     stepRepo,
		taskRepo:     taskRepo,
		definitions:  definitions,
		now:          systemClock,
		logger:       logger,
	}
}

// Create stores a new draft work item at version 1
func (s *workItemServiceImpl) Create(ctx context.Context, req CreateWorkItemRequest, actor string) (*entity.WorkItem, error) {
	if strings.TrimSpace(req.Type) == "" {
		return nil, fmt.Errorf("%w: work item type is required", domainwf.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: work item title is required", domainwf.ErrInvalidArgument)
	}

	now := s.now()
	item := &entity.WorkItem{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Title:          req.Title,
		Description:    req.Description,
		Status:         entity.WorkItemStatusDraft,
		CurrentVersion: 1,
		CreatedAt:      now,
		CreatedBy:      actor,
		UpdatedAt:      now,
		UpdatedBy:      actor,
	}

	if err := s.itemRepo.Create(ctx, item); err != nil {
		s.logger.Error("Failed to create work item", "error", err, "type", req.Type)
		return nil, fmt.Errorf("create work item: %w", err)
	}

	s.logger.Info("Work item created", "work_item_id", item.ID, "type", item.Type, "actor", actor)
	return item, nil
}

// Get retrieves a work item by ID
func (s *workItemServiceImpl) Get(ctx context.Context, workItemID string) (*entity.WorkItem, error) {
	item, err := s.itemRepo.GetByID(ctx, workItemID)
	if err != nil {
		s.logger.Error("Failed to get work item", "error", err, "work_item_id", workItemID)
		return nil, fmt.Errorf("get work item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: work item %s", domainwf.ErrNotFound, workItemID)
	}
	return item, nil
}

// List lists work items, optionally filtered by status
func (s *workItemServiceImpl) List(ctx context.Context, status entity.WorkItemStatus, limit, offset int) ([]*entity.WorkItem, error) {
	items, err := s.itemRepo.List(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list work items", "error", err)
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return items, nil
}

// ListVersions lists the submitted versions of a work item
func (s *workItemServiceImpl) ListVersions(ctx context.Context, workItemID string) ([]*entity.WorkItemVersion, error) {
	if _, err := s.Get(ctx, workItemID); err != nil {
		return nil, err
	}

	versions, err := s.versionRepo.ListByWorkItemID(ctx, workItemID)
	if err != nil {
		s.logger.Error("Failed to list work item versions", "error", err, "work_item_id", workItemID)
		return nil, fmt.Errorf("list work item versions: %w", err)
	}
	return versions, nil
}

// ListWorkflows lists the workflow instances run for a work item
func (s *workItemServiceImpl) ListWorkflows(ctx context.Context, workItemID string) ([]*entity.WorkflowInstance, error) {
	if _, err := s.Get(ctx, workItemID); err != nil {
		return nil, err
	}

	instances, err := s.instanceRepo.ListByWorkItemID(ctx, workItemID)
	if err != nil {
		s.logger.Error("Failed to list workflow instances", "error", err, "work_item_id", workItemID)
		return nil, fmt.Errorf("list workflow instances: %w", err)
	}
	return instances, nil
}

// GetWorkflowProgress reports step and task progress of the latest workflow instance
func (s *workItemServiceImpl) GetWorkflowProgress(ctx context.Context, workItemID string) (*WorkflowProgress, error) {
	instances, err := s.ListWorkflows(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: no workflow instance for work item %s", domainwf.ErrNotFound, workItemID)
	}
	return s.progressOf(ctx, instances[len(instances)-1])
}

// GetWorkflow reports step and task progress of one workflow instance
func (s *workItemServiceImpl) GetWorkflow(ctx context.Context, instanceID string) (*WorkflowProgress, error) {
	instance, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		s.logger.Error("Failed to get workflow instance", "error", err, "workflow_instance_id", instanceID)
		return nil, fmt.Errorf("get workflow instance: %w", err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: workflow instance %s", domainwf.ErrNotFound, instanceID)
	}
	return s.progressOf(ctx, instance)
}

func (s *workItemServiceImpl) progressOf(ctx context.Context, instance *entity.WorkflowInstance) (*WorkflowProgress, error) {
	steps, err := s.stepRepo.ListByWorkflowInstanceID(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("list step instances: %w", err)
	}

	progress := &WorkflowProgress{
		WorkItemID: instance.WorkItemID,
		Instance:   instance,
		Steps:      make([]StepProgress, 0, len(steps)),
		TotalSteps: len(steps),
	}

	for _, step := range steps {
		tasks, err := s.taskRepo.ListByStepInstanceID(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}

		name := ""
		if def, err := s.definitions.GetStep(ctx, step.StepID); err == nil && def != nil {
			name = def.StepName
		}

		progress.Steps = append(progress.Steps, StepProgress{Step: step, StepName: name, Tasks: tasks})

		switch step.Status {
		case entity.StepStatusCompleted:
			progress.CompletedSteps++
		case entity.StepStatusInProgress:
			current := progress.Steps[len(progress.Steps)-1]
			progress.CurrentStep = &current
		}
	}

	if progress.TotalSteps > 0 {
		progress.Percentage = float64(progress.CompletedSteps) * 100 / float64(progress.TotalSteps)
	}

	return progress, nil
}
