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

// TaskEvent triggers a task transition
type TaskEvent string

const (
	TaskEventApprove  TaskEvent = "APPROVE"
	TaskEventReject   TaskEvent = "REJECT"
	TaskEventDelegate TaskEvent = "DELEGATE"
	TaskEventAccept   TaskEvent = "ACCEPT"
	TaskEventExpire   TaskEvent = "SLA_BREACH"
	TaskEventCancel   TaskEvent = "WORKFLOW_CANCELLED"
	TaskEventReassign TaskEvent = "REASSIGN"
)

// taskCommand is the subject handed to task guards and actions
type taskCommand struct {
	task   *entity.ApprovalTask
	actor  string
	target string
	at     time.Time
}

// buildTaskMachine returns the approval task transition table
func buildTaskMachine() domainwf.Machine[entity.TaskStatus, TaskEvent, *taskCommand] {
	b := domainwf.NewBuilder[entity.TaskStatus, TaskEvent, *taskCommand](
		entity.TaskStatusPending,
		entity.TaskStatusApproved,
		entity.TaskStatusRejected,
		entity.TaskStatusDelegated,
		entity.TaskStatusExpired,
		entity.TaskStatusCancelled,
	)

	stampActed := func(c *taskCommand) {
		at := c.at
		c.task.ActedAt = &at
	}
	assignTarget := func(c *taskCommand) {
		c.task.ApproverID = c.target
	}
	// Only the delegate may take a delegated task back into the queue
	isCurrentApprover := func(c *taskCommand) bool {
		return c.actor == c.task.ApproverID
	}

	b.Configure(entity.TaskStatusPending).
		Permit(TaskEventApprove, entity.TaskStatusApproved, stampActed).
		Permit(TaskEventReject, entity.TaskStatusRejected, stampActed).
		Permit(TaskEventDelegate, entity.TaskStatusDelegated, assignTarget).
		Permit(TaskEventExpire, entity.TaskStatusExpired, stampActed).
		Permit(TaskEventCancel, entity.TaskStatusCancelled).
		Permit(TaskEventReassign, entity.TaskStatusPending, assignTarget)

	b.Configure(entity.TaskStatusDelegated).
		PermitIf(TaskEventAccept, entity.TaskStatusPending, isCurrentApprover).
		Permit(TaskEventCancel, entity.TaskStatusCancelled).
		Permit(TaskEventReassign, entity.TaskStatusPending, assignTarget)

	return b.Build()
}

// TaskLifecycle owns every status change of an approval task
type TaskLifecycle interface {
	Approve(ctx context.Context, taskID, actor, comment string) (*entity.ApprovalTask, error)
	Reject(ctx context.Context, taskID, actor, comment string) (*entity.ApprovalTask, error)
	Delegate(ctx context.Context, taskID, fromActor, toActor string) (*entity.ApprovalTask, error)
	AcceptDelegation(ctx context.Context, taskID, actor string) (*entity.ApprovalTask, error)
	// Expire is a no-op for tasks that are no longer pending
	Expire(ctx context.Context, taskID string) (*entity.ApprovalTask, error)
	// CancelAllForStep cancels the undecided tasks of a step and returns them
	CancelAllForStep(ctx context.Context, stepInstanceID, actor string) ([]*entity.ApprovalTask, error)
	Reassign(ctx context.Context, taskID, newApprover, reason, actor string) (*entity.ApprovalTask, error)
}

// SystemActor is recorded when no human triggered a transition
const SystemActor = "system"

type taskLifecycleImpl struct {
	taskRepo     port.TaskRepository
	decisionRepo port.DecisionRepository
	commentRepo  port.CommentRepository
	historyRepo  port.HistoryRepository
	txManager    port.TransactionManager
	machine      domainwf.Machine[entity.TaskStatus, TaskEvent, *taskCommand]
	now          Clock
	logger       Logger
}

// NewTaskLifecycle creates a new TaskLifecycle
func NewTaskLifecycle(
	taskRepo port.TaskRepository,
	decisionRepo port.DecisionRepository,
	commentRepo port.CommentRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
) TaskLifecycle {
	return &taskLifecycleImpl{
		taskRepo:     taskRepo,
		decisionRepo: decisionRepo,
		commentRepo:  commentRepo,
		historyRepo:  historyRepo,
		txManager:    txManager,
		machine:      buildTaskMachine(),
		now:          systemClock,
		logger:       logger,
	}
}

// Approve records an approval decision
func (s *taskLifecycleImpl) Approve(ctx context.Context, taskID, actor, comment string) (*entity.ApprovalTask, error) {
	return s.decide(ctx, taskID, actor, comment, entity.DecisionApproved)
}

// Reject records a rejection decision
func (s *taskLifecycleImpl) Reject(ctx context.Context, taskID, actor, comment string) (*entity.ApprovalTask, error) {
	return s.decide(ctx, taskID, actor, comment, entity.DecisionRejected)
}

func (s *taskLifecycleImpl) decide(ctx context.Context, taskID, actor, comment string, kind entity.DecisionKind) (*entity.ApprovalTask, error) {
	event := TaskEventApprove
	if kind == entity.DecisionRejected {
		event = TaskEventReject
	}

	var task *entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		task, err = s.transition(txCtx, taskID, event, actor, "", "")
		if err != nil {
			return err
		}

		decision := &entity.ApprovalDecision{
			ID:        uuid.NewString(),
			TaskID:    task.ID,
			Decision:  kind,
			DecidedBy: actor,
			DecidedAt: *task.ActedAt,
			Comments:  comment,
		}
		if err := s.decisionRepo.Create(txCtx, decision); err != nil {
			return fmt.Errorf("create decision: %w", err)
		}

		if strings.TrimSpace(comment) != "" {
			if err := s.addComment(txCtx, task.ID, fmt.Sprintf("[%s] %s", kind, comment), actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record task decision", "error", err, "task_id", taskID, "decision", kind)
		return nil, fmt.Errorf("%s task: %w", strings.ToLower(string(event)), err)
	}

	s.logger.Info("Task decided", "task_id", taskID, "decision", kind, "actor", actor)
	return task, nil
}

// Delegate hands a pending task over to another approver
func (s *taskLifecycleImpl) Delegate(ctx context.Context, taskID, fromActor, toActor string) (*entity.ApprovalTask, error) {
	if strings.TrimSpace(toActor) == "" {
		return nil, fmt.Errorf("delegate task: %w: delegate must not be empty", domainwf.ErrInvalidArgument)
	}

	var task *entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		task, err = s.transition(txCtx, taskID, TaskEventDelegate, fromActor, toActor, "delegated to "+toActor)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to delegate task", "error", err, "task_id", taskID, "from", fromActor, "to", toActor)
		return nil, fmt.Errorf("delegate task: %w", err)
	}

	s.logger.Info("Task delegated", "task_id", taskID, "from", fromActor, "to", toActor)
	return task, nil
}

// AcceptDelegation returns a delegated task to pending when the delegate accepts it
func (s *taskLifecycleImpl) AcceptDelegation(ctx context.Context, taskID, actor string) (*entity.ApprovalTask, error) {
	var task *entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		task, err = s.transition(txCtx, taskID, TaskEventAccept, actor, "", "")
		return err
	})
	if err != nil {
		s.logger.Error("Failed to accept delegation", "error", err, "task_id", taskID, "actor", actor)
		return nil, fmt.Errorf("accept delegation: %w", err)
	}

	s.logger.Info("Delegation accepted", "task_id", taskID, "actor", actor)
	return task, nil
}

// Expire marks a pending task as expired after an SLA breach
func (s *taskLifecycleImpl) Expire(ctx context.Context, taskID string) (*entity.ApprovalTask, error) {
	var task *entity.ApprovalTask
	expired := false
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.getTask(txCtx, taskID)
		if err != nil {
			return err
		}
		if current.Status != entity.TaskStatusPending {
			task = current
			return nil
		}

		task, err = s.transition(txCtx, taskID, TaskEventExpire, SystemActor, "", "sla breached")
		expired = err == nil
		return err
	})
	if err != nil {
		s.logger.Error("Failed to expire task", "error", err, "task_id", taskID)
		return nil, fmt.Errorf("expire task: %w", err)
	}

	if !expired {
		s.logger.Info("Ignoring expiry for task that is not pending", "task_id", taskID, "status", task.Status)
		return task, nil
	}

	s.logger.Info("Task expired", "task_id", taskID)
	return task, nil
}

// CancelAllForStep cancels every pending or delegated task of a step
func (s *taskLifecycleImpl) CancelAllForStep(ctx context.Context, stepInstanceID, actor string) ([]*entity.ApprovalTask, error) {
	var cancelled []*entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tasks, err := s.taskRepo.ListByStepInstanceID(txCtx, stepInstanceID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		for _, t := range tasks {
			if t.Status != entity.TaskStatusPending && t.Status != entity.TaskStatusDelegated {
				continue
			}
			if err := s.apply(txCtx, t, TaskEventCancel, actor, "", "workflow cancelled"); err != nil {
				return err
			}
			cancelled = append(cancelled, t)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to cancel tasks for step", "error", err, "step_instance_id", stepInstanceID)
		return nil, fmt.Errorf("cancel tasks for step: %w", err)
	}

	s.logger.Info("Tasks cancelled for step", "step_instance_id", stepInstanceID, "count", len(cancelled))
	return cancelled, nil
}

// Reassign moves a pending or delegated task to a new approver
func (s *taskLifecycleImpl) Reassign(ctx context.Context, taskID, newApprover, reason, actor string) (*entity.ApprovalTask, error) {
	if strings.TrimSpace(newApprover) == "" {
		return nil, fmt.Errorf("reassign task: %w: new approver must not be empty", domainwf.ErrInvalidArgument)
	}

	var task *entity.ApprovalTask
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		task, err = s.transition(txCtx, taskID, TaskEventReassign, actor, newApprover, reason)
		if err != nil {
			return err
		}
		return s.addComment(txCtx, task.ID, "Task reassigned: "+reason, actor)
	})
	if err != nil {
		s.logger.Error("Failed to reassign task", "error", err, "task_id", taskID, "new_approver", newApprover)
		return nil, fmt.Errorf("reassign task: %w", err)
	}

	s.logger.Info("Task reassigned", "task_id", taskID, "new_approver", newApprover, "actor", actor)
	return task, nil
}

// transition loads a task and fires an event against it. Must run inside a transaction.
func (s *taskLifecycleImpl) transition(ctx context.Context, taskID string, event TaskEvent, actor, target, reason string) (*entity.ApprovalTask, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, task, event, actor, target, reason); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskLifecycleImpl) apply(ctx context.Context, task *entity.ApprovalTask, event TaskEvent, actor, target, reason string) error {
	from := task.Status
	now := s.now()

	to, err := s.machine.Fire(from, event, &taskCommand{task: task, actor: actor, target: target, at: now})
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	task.Status = to
	task.UpdatedAt = now
	task.UpdatedBy = actor
	if err := s.taskRepo.Update(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return recordTransition(ctx, s.historyRepo, entity.EntityTypeTask, task.ID,
		string(from), string(to), string(event), actor, reason, now)
}

func (s *taskLifecycleImpl) getTask(ctx context.Context, taskID string) (*entity.ApprovalTask, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}
	return task, nil
}

func (s *taskLifecycleImpl) addComment(ctx context.Context, taskID, text, actor string) error {
	comment := &entity.ApprovalComment{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Comment:     text,
		CommentedBy: actor,
		CommentedAt: s.now(),
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}
