package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// TaskDetails is a task with its decisions and comments
type TaskDetails struct {
	Task      *entity.ApprovalTask       `json:"task"`
	Decisions []*entity.ApprovalDecision `json:"decisions"`
	Comments  []*entity.ApprovalComment  `json:"comments"`
}

// TaskService manages approval task creation and queries.
// Status changes go through TaskLifecycle.
type TaskService interface {
	port.TaskCreator

	// GetTask retrieves a task with its decisions and comments
	GetTask(ctx context.Context, taskID string) (*TaskDetails, error)

	// ListByApprover lists an approver's tasks, PENDING when status is empty
	ListByApprover(ctx context.Context, approverID string, status entity.TaskStatus) ([]*entity.ApprovalTask, error)

	// AddComment attaches a free-text comment to a task
	AddComment(ctx context.Context, taskID, text, actor string) (*entity.ApprovalComment, error)
}

type taskServiceImpl struct {
	stepRepo     port.StepInstanceRepository
	definitions  port.DefinitionReader
	resolver     port.ApproverResolver
	taskRepo     port.TaskRepository
	decisionRepo port.DecisionRepository
	commentRepo  port.CommentRepository
	txManager    port.TransactionManager
	now          Clock
	logger       Logger
}

// NewTaskService creates a new TaskService
func NewTaskService(
	stepRepo port.StepInstanceRepository,
	definitions port.DefinitionReader,
	resolver port.ApproverResolver,
	taskRepo port.TaskRepository,
	decisionRepo port.DecisionRepository,
	commentRepo port.CommentRepository,
	txManager port.TransactionManager,
	logger Logger,
) TaskService {
	return &taskServiceImpl{
		stepRepo:     stepRepo,
		definitions:  definitions,
		resolver:     resolver,
		taskRepo:     taskRepo,
		decisionRepo: decisionRepo,
		commentRepo:  commentRepo,
		txManager:    txManager,
		now:          systemClock,
		logger:       logger,
	}
}

// resolvedApprover is a concrete user plus the kind of reference it came from
type resolvedApprover struct {
	userID string
	kind   entity.ApproverType
}

// CreateTasksForStep creates one pending task per resolved approver of the step
func (s *taskServiceImpl) CreateTasksForStep(ctx context.Context, stepInstanceID, actor string) ([]*entity.ApprovalTask, error) {
	var tasks []*entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		step, err := s.stepRepo.GetByID(txCtx, stepInstanceID)
		if err != nil {
			return fmt.Errorf("get step instance: %w", err)
		}
		if step == nil {
			return fmt.Errorf("%w: step instance %s", domainwf.ErrNotFound, stepInstanceID)
		}

		def, err := s.definitions.GetStep(txCtx, step.StepID)
		if err != nil {
			return fmt.Errorf("get step definition: %w", err)
		}
		if def == nil {
			return fmt.Errorf("%w: step definition %s", domainwf.ErrNotFound, step.StepID)
		}

		approvers, err := s.definitions.ListApprovers(txCtx, def.ID)
		if err != nil {
			return fmt.Errorf("list step approvers: %w", err)
		}

		resolved, err := s.resolveApprovers(txCtx, approvers)
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			return fmt.Errorf("%w: step %s resolves to no approvers", domainwf.ErrInvalidState, def.StepName)
		}

		now := s.now()
		dueAt := computeDueAt(now, def.SLAHours)
		for _, a := range resolved {
			task := &entity.ApprovalTask{
				ID:             uuid.NewString(),
				StepInstanceID: step.ID,
				ApproverID:     a.userID,
				ApproverType:   a.kind,
				Status:         entity.TaskStatusPending,
				DueAt:          dueAt,
				CreatedAt:      now,
				CreatedBy:      actor,
				UpdatedAt:      now,
				UpdatedBy:      actor,
			}
			if err := s.taskRepo.Create(txCtx, task); err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create tasks for step", "error", err, "step_instance_id", stepInstanceID)
		return nil, fmt.Errorf("create tasks for step: %w", err)
	}

	s.logger.Info("Tasks created for step", "step_instance_id", stepInstanceID, "count", len(tasks))
	return tasks, nil
}

// resolveApprovers expands approver references into distinct users, keeping definition order
func (s *taskServiceImpl) resolveApprovers(ctx context.Context, approvers []*entity.StepApprover) ([]resolvedApprover, error) {
	seen := make(map[string]bool)
	var resolved []resolvedApprover

	add := func(kind entity.ApproverType, userIDs ...string) {
		for _, id := range userIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			resolved = append(resolved, resolvedApprover{userID: id, kind: kind})
		}
	}

	for _, a := range approvers {
		switch a.ApproverType {
		case entity.ApproverTypeUser:
			add(a.ApproverType, a.ApproverValue)
		case entity.ApproverTypeRole:
			users, err := s.resolver.ResolveRole(ctx, a.ApproverValue)
			if err != nil {
				return nil, fmt.Errorf("resolve role %s: %w", a.ApproverValue, err)
			}
			add(a.ApproverType, users...)
		case entity.ApproverTypeManager:
			users, err := s.resolver.ResolveManagerChain(ctx, a.ApproverValue)
			if err != nil {
				return nil, fmt.Errorf("resolve manager chain of %s: %w", a.ApproverValue, err)
			}
			if len(users) == 0 {
				s.logger.Info("Manager chain resolved to no approvers", "user_id", a.ApproverValue)
			}
			add(a.ApproverType, users...)
		default:
			return nil, fmt.Errorf("%w: approver type %q", domainwf.ErrInvalidArgument, a.ApproverType)
		}
	}

	return resolved, nil
}

// computeDueAt returns now + slaHours, or nil when no SLA is configured
func computeDueAt(now time.Time, slaHours int) *time.Time {
	if slaHours <= 0 {
		return nil
	}
	due := now.Add(time.Duration(slaHours) * time.Hour)
	return &due
}

// GetTask retrieves a task with its decisions and comments
func (s *taskServiceImpl) GetTask(ctx context.Context, taskID string) (*TaskDetails, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to get task", "error", err, "task_id", taskID)
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}

	decisions, err := s.decisionRepo.ListByTaskID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to list decisions", "error", err, "task_id", taskID)
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	comments, err := s.commentRepo.ListByTaskID(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to list comments", "error", err, "task_id", taskID)
		return nil, fmt.Errorf("list comments: %w", err)
	}

	return &TaskDetails{Task: task, Decisions: decisions, Comments: comments}, nil
}

// ListByApprover lists an approver's tasks
func (s *taskServiceImpl) ListByApprover(ctx context.Context, approverID string, status entity.TaskStatus) ([]*entity.ApprovalTask, error) {
	if strings.TrimSpace(approverID) == "" {
		return nil, fmt.Errorf("%w: approver id is required", domainwf.ErrInvalidArgument)
	}
	if status == "" {
		status = entity.TaskStatusPending
	}

	tasks, err := s.taskRepo.ListByApprover(ctx, approverID, status)
	if err != nil {
		s.logger.Error("Failed to list tasks by approver", "error", err, "approver_id", approverID)
		return nil, fmt.Errorf("list tasks by approver: %w", err)
	}
	return tasks, nil
}

// AddComment attaches a comment to an existing task
func (s *taskServiceImpl) AddComment(ctx context.Context, taskID, text, actor string) (*entity.ApprovalComment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: comment must not be empty", domainwf.ErrInvalidArgument)
	}

	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}

	comment := &entity.ApprovalComment{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Comment:     text,
		CommentedBy: actor,
		CommentedAt: s.now(),
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		s.logger.Error("Failed to add comment", "error", err, "task_id", taskID)
		return nil, fmt.Errorf("create comment: %w", err)
	}

	s.logger.Info("Comment added", "task_id", taskID, "actor", actor)
	return comment, nil
}
