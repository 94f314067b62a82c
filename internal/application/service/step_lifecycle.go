package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// StepEvent triggers a step transition
type StepEvent string

const (
	StepEventStart    StepEvent = "START"
	StepEventComplete StepEvent = "COMPLETE"
	StepEventFail     StepEvent = "FAIL"
)

type stepCommand struct {
	step *entity.StepInstance
	at   time.Time
}

func buildStepMachine() domainwf.Machine[entity.StepStatus, StepEvent, *stepCommand] {
	b := domainwf.NewBuilder[entity.StepStatus, StepEvent, *stepCommand](
		entity.StepStatusNotStarted,
		entity.StepStatusInProgress,
		entity.StepStatusCompleted,
		entity.StepStatusFailed,
	)

	stampStarted := func(c *stepCommand) {
		at := c.at
		c.step.StartedAt = &at
	}
	stampCompleted := func(c *stepCommand) {
		at := c.at
		c.step.CompletedAt = &at
	}

	b.Configure(entity.StepStatusNotStarted).
		Permit(StepEventStart, entity.StepStatusInProgress, stampStarted)

	b.Configure(entity.StepStatusInProgress).
		Permit(StepEventComplete, entity.StepStatusCompleted, stampCompleted).
		Permit(StepEventFail, entity.StepStatusFailed, stampCompleted)

	return b.Build()
}

// StepLifecycle owns every status change of a step instance.
// Only the orchestrator drives it.
type StepLifecycle interface {
	Start(ctx context.Context, stepInstanceID, actor string) (*entity.StepInstance, error)
	Complete(ctx context.Context, stepInstanceID, actor string) (*entity.StepInstance, error)
	// Fail records reason in the transition audit trail only
	Fail(ctx context.Context, stepInstanceID, actor, reason string) (*entity.StepInstance, error)
}

type stepLifecycleImpl struct {
	stepRepo    port.StepInstanceRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	machine     domainwf.Machine[entity.StepStatus, StepEvent, *stepCommand]
	now         Clock
	logger      Logger
}

// NewStepLifecycle creates a new StepLifecycle
func NewStepLifecycle(
	stepRepo port.StepInstanceRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
) StepLifecycle {
	return &stepLifecycleImpl{
		stepRepo:    stepRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		machine:     buildStepMachine(),
		now:         systemClock,
		logger:      logger,
	}
}

// Start moves a step to in-progress
func (s *stepLifecycleImpl) Start(ctx context.Context, stepInstanceID, actor string) (*entity.StepInstance, error) {
	return s.fire(ctx, stepInstanceID, StepEventStart, actor, "")
}

// Complete moves a step to completed
func (s *stepLifecycleImpl) Complete(ctx context.Context, stepInstanceID, actor string) (*entity.StepInstance, error) {
	return s.fire(ctx, stepInstanceID, StepEventComplete, actor, "")
}

// Fail moves a step to failed
func (s *stepLifecycleImpl) Fail(ctx context.Context, stepInstanceID, actor, reason string) (*entity.StepInstance, error) {
	return s.fire(ctx, stepInstanceID, StepEventFail, actor, reason)
}

func (s *stepLifecycleImpl) fire(ctx context.Context, stepInstanceID string, event StepEvent, actor, reason string) (*entity.StepInstance, error) {
	var step *entity.StepInstance
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		step, err = s.stepRepo.GetByID(txCtx, stepInstanceID)
		if err != nil {
			return fmt.Errorf("get step instance: %w", err)
		}
		if step == nil {
			return fmt.Errorf("%w: step instance %s", domainwf.ErrNotFound, stepInstanceID)
		}

		from := step.Status
		now := s.now()
		to, err := s.machine.Fire(from, event, &stepCommand{step: step, at: now})
		if err != nil {
			return fmt.Errorf("step %s: %w", stepInstanceID, err)
		}

		step.Status = to
		step.UpdatedAt = now
		step.UpdatedBy = actor
		if err := s.stepRepo.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step instance: %w", err)
		}

		return recordTransition(txCtx, s.historyRepo, entity.EntityTypeStep, step.ID,
			string(from), string(to), string(event), actor, reason, now)
	})
	if err != nil {
		s.logger.Error("Failed to transition step", "error", err, "step_instance_id", stepInstanceID, "event", event)
		return nil, err
	}

	s.logger.Info("Step transitioned", "step_instance_id", stepInstanceID, "event", event, "status", step.Status)
	return step, nil
}
