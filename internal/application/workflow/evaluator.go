package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// RuleResult is the outcome of evaluating a step's approval rule
type RuleResult string

const (
	RuleSatisfied RuleResult = "SATISFIED"
	RuleRejected  RuleResult = "REJECTED"
	RulePending   RuleResult = "PENDING"
)

// Policy is the approval rule of a step
type Policy struct {
	Kind         entity.ApprovalType
	MinApprovals int
}

// TaskSnapshot is a task status plus its latest decision, if any
type TaskSnapshot struct {
	Status         entity.TaskStatus
	LatestDecision *entity.ApprovalDecision
}

// Evaluate applies a step policy to its tasks. It has no side effects.
func Evaluate(tasks []TaskSnapshot, policy Policy) RuleResult {
	if len(tasks) == 0 {
		return RulePending
	}

	// A single rejection vetoes the step
	for _, t := range tasks {
		if t.Status == entity.TaskStatusRejected {
			return RuleRejected
		}
	}

	approved := 0
	for _, t := range tasks {
		if t.LatestDecision != nil && t.LatestDecision.Decision == entity.DecisionApproved {
			approved++
		}
	}

	switch policy.Kind {
	case entity.ApprovalTypeAll:
		if approved == len(tasks) {
			return RuleSatisfied
		}
	case entity.ApprovalTypeAny:
		if approved >= 1 {
			return RuleSatisfied
		}
	case entity.ApprovalTypeNOfM:
		// A non-positive minimum is a misconfiguration and never satisfies the step
		if policy.MinApprovals > 0 && approved >= policy.MinApprovals {
			return RuleSatisfied
		}
	}

	return RulePending
}

// RuleEvaluator evaluates a step instance against its definition's policy
type RuleEvaluator interface {
	Evaluate(ctx context.Context, stepInstanceID string) (RuleResult, error)
}

type ruleEvaluatorImpl struct {
	stepRepo     port.StepInstanceRepository
	taskRepo     port.TaskRepository
	decisionRepo port.DecisionRepository
	definitions  port.DefinitionReader
}

// NewRuleEvaluator creates a new RuleEvaluator
func NewRuleEvaluator(
	stepRepo port.StepInstanceRepository,
	taskRepo port.TaskRepository,
	decisionRepo port.DecisionRepository,
	definitions port.DefinitionReader,
) RuleEvaluator {
	return &ruleEvaluatorImpl{
		stepRepo:     stepRepo,
		taskRepo:     taskRepo,
		decisionRepo: decisionRepo,
		definitions:  definitions,
	}
}

// Evaluate loads the step snapshot and applies its policy
func (e *ruleEvaluatorImpl) Evaluate(ctx context.Context, stepInstanceID string) (RuleResult, error) {
	step, err := e.stepRepo.GetByID(ctx, stepInstanceID)
	if err != nil {
		return "", fmt.Errorf("get step instance: %w", err)
	}
	if step == nil {
		return "", fmt.Errorf("%w: step instance %s", domainwf.ErrNotFound, stepInstanceID)
	}

	def, err := e.definitions.GetStep(ctx, step.StepID)
	if err != nil {
		return "", fmt.Errorf("get step definition: %w", err)
	}
	if def == nil {
		return "", fmt.Errorf("%w: step definition %s", domainwf.ErrNotFound, step.StepID)
	}

	tasks, err := e.taskRepo.ListByStepInstanceID(ctx, stepInstanceID)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	snapshots := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		decisions, err := e.decisionRepo.ListByTaskID(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("list decisions: %w", err)
		}

		snapshot := TaskSnapshot{Status: t.Status}
		if len(decisions) > 0 {
			snapshot.LatestDecision = decisions[len(decisions)-1]
		}
		snapshots = append(snapshots, snapshot)
	}

	return Evaluate(snapshots, Policy{Kind: def.ApprovalType, MinApprovals: def.MinApprovals}), nil
}
