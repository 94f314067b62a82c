package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// WorkflowEvent triggers a workflow instance transition
type WorkflowEvent string

const (
	WorkflowEventStart    WorkflowEvent = "START"
	WorkflowEventComplete WorkflowEvent = "COMPLETE"
	WorkflowEventFail     WorkflowEvent = "FAIL"
	WorkflowEventCancel   WorkflowEvent = "CANCEL"
)

type workflowCommand struct {
	instance *entity.WorkflowInstance
	at       time.Time
}

func buildWorkflowMachine() domainwf.Machine[entity.WorkflowStatus, WorkflowEvent, *workflowCommand] {
	b := domainwf.NewBuilder[entity.WorkflowStatus, WorkflowEvent, *workflowCommand](
		entity.WorkflowStatusNotStarted,
		entity.WorkflowStatusInProgress,
		entity.WorkflowStatusCompleted,
		entity.WorkflowStatusFailed,
		entity.WorkflowStatusCancelled,
	)

	stampStarted := func(c *workflowCommand) {
		at := c.at
		c.instance.StartedAt = &at
	}
	stampCompleted := func(c *workflowCommand) {
		at := c.at
		c.instance.CompletedAt = &at
	}

	b.Configure(entity.WorkflowStatusNotStarted).
		Permit(WorkflowEventStart, entity.WorkflowStatusInProgress, stampStarted).
		Permit(WorkflowEventCancel, entity.WorkflowStatusCancelled, stampCompleted)

	b.Configure(entity.WorkflowStatusInProgress).
		Permit(WorkflowEventComplete, entity.WorkflowStatusCompleted, stampCompleted).
		Permit(WorkflowEventFail, entity.WorkflowStatusFailed, stampCompleted).
		Permit(WorkflowEventCancel, entity.WorkflowStatusCancelled, stampCompleted)

	return b.Build()
}

// WorkflowLifecycle owns every status change of a workflow instance
type WorkflowLifecycle interface {
	Start(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error)
	Complete(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error)
	Fail(ctx context.Context, instanceID, actor, reason string) (*entity.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error)
}

type workflowLifecycleImpl struct {
	instanceRepo port.WorkflowInstanceRepository
	historyRepo  port.HistoryRepository
	txManager    port.TransactionManager
	machine      domainwf.Machine[entity.WorkflowStatus, WorkflowEvent, *workflowCommand]
	now          Clock
	logger       Logger
}

// NewWorkflowLifecycle creates a new WorkflowLifecycle
func NewWorkflowLifecycle(
	instanceRepo port.WorkflowInstanceRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
) WorkflowLifecycle {
	return &workflowLifecycleImpl{
		instanceRepo: instanceRepo,
		historyRepo:  historyRepo,
		txManager:    txManager,
		machine:      buildWorkflowMachine(),
		now:          systemClock,
		logger:       logger,
	}
}

func (s *workflowLifecycleImpl) Start(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error) {
	return s.fire(ctx, instanceID, WorkflowEventStart, actor, "")
}

func (s *workflowLifecycleImpl) Complete(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error) {
	return s.fire(ctx, instanceID, WorkflowEventComplete, actor, "")
}

func (s *workflowLifecycleImpl) Fail(ctx context.Context, instanceID, actor, reason string) (*entity.WorkflowInstance, error) {
	return s.fire(ctx, instanceID, WorkflowEventFail, actor, reason)
}

func (s *workflowLifecycleImpl) Cancel(ctx context.Context, instanceID, actor string) (*entity.WorkflowInstance, error) {
	return s.fire(ctx, instanceID, WorkflowEventCancel, actor, "")
}

func (s *workflowLifecycleImpl) fire(ctx context.Context, instanceID string, event WorkflowEvent, actor, reason string) (*entity.WorkflowInstance, error) {
	var instance *entity.WorkflowInstance
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		instance, err = s.instanceRepo.GetByID(txCtx, instanceID)
		if err != nil {
			return fmt.Errorf("get workflow instance: %w", err)
		}
		if instance == nil {
			return fmt.Errorf("%w: workflow instance %s", domainwf.ErrNotFound, instanceID)
		}

		from := instance.Status
		now := s.now()
		to, err := s.machine.Fire(from, event, &workflowCommand{instance: instance, at: now})
		if err != nil {
			return fmt.Errorf("workflow instance %s: %w", instanceID, err)
		}

		instance.Status = to
		instance.UpdatedAt = now
		instance.UpdatedBy = actor
		if err := s.instanceRepo.Update(txCtx, instance); err != nil {
			return fmt.Errorf("update workflow instance: %w", err)
		}

		return recordTransition(txCtx, s.historyRepo, entity.EntityTypeWorkflow, instance.ID,
			string(from), string(to), string(event), actor, reason, now)
	})
	if err != nil {
		s.logger.Error("Failed to transition workflow", "error", err, "workflow_instance_id", instanceID, "event", event)
		return nil, err
	}

	s.logger.Info("Workflow transitioned", "workflow_instance_id", instanceID, "event", event, "status", instance.Status)
	return instance, nil
}
