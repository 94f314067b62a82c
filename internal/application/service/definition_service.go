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

// ApproverInput is one approver reference of a new step
type ApproverInput struct {
	Type  entity.ApproverType `json:"type"`
	Value string              `json:"value"`
}

// StepInput is one step of a new workflow definition
type StepInput struct {
	Name         string              `json:"name"`
	ApprovalType entity.ApprovalType `json:"approval_type"`
	MinApprovals int                 `json:"min_approvals"`
	SLAHours     int                 `json:"sla_hours"`
	Approvers    []ApproverInput     `json:"approvers"`
}

// CreateDefinitionRequest describes a workflow template
type CreateDefinitionRequest struct {
	Name  string      `json:"name"`
	Steps []StepInput `json:"steps"`
}

// StepDetails is a step definition with its approvers
type StepDetails struct {
	Step      *entity.StepDefinition `json:"step"`
	Approvers []*entity.StepApprover `json:"approvers"`
}

// DefinitionDetails is a workflow definition with its ordered steps
type DefinitionDetails struct {
	Workflow *entity.WorkflowDefinition `json:"workflow"`
	Steps    []StepDetails              `json:"steps"`
}

// DefinitionService stores workflow templates. Every create produces a new version;
// existing versions are never edited.
type DefinitionService interface {
	Create(ctx context.Context, req CreateDefinitionRequest, actor string) (*DefinitionDetails, error)
	Get(ctx context.Context, workflowID string) (*DefinitionDetails, error)
}

type definitionServiceImpl struct {
	repo      port.DefinitionRepository
	txManager port.TransactionManager
	now       Clock
	logger    Logger
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(repo port.DefinitionRepository, txManager port.TransactionManager, logger Logger) DefinitionService {
	return &definitionServiceImpl{
		repo:      repo,
		txManager: txManager,
		now:       systemClock,
		logger:    logger,
	}
}

// Create validates the request shape and stores the definition as the next version of its name
func (s *definitionServiceImpl) Create(ctx context.Context, req CreateDefinitionRequest, actor string) (*DefinitionDetails, error) {
	if err := validateDefinition(req); err != nil {
		return nil, err
	}

	var details *DefinitionDetails
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		latest, err := s.repo.LatestVersion(txCtx, req.Name)
		if err != nil {
			return fmt.Errorf("get latest version: %w", err)
		}

		now := s.now()
		def := &entity.WorkflowDefinition{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Version:   latest + 1,
			IsActive:  true,
			CreatedAt: now,
			CreatedBy: actor,
			UpdatedAt: now,
			UpdatedBy: actor,
		}
		if err := s.repo.CreateWorkflow(txCtx, def); err != nil {
			return fmt.Errorf("create workflow definition: %w", err)
		}

		details = &DefinitionDetails{Workflow: def}
		for i, in := range req.Steps {
			step := &entity.StepDefinition{
				ID:           uuid.NewString(),
				WorkflowID:   def.ID,
				StepOrder:    i + 1,
				StepName:     in.Name,
				ApprovalType: in.ApprovalType,
				MinApprovals: in.MinApprovals,
				SLAHours:     in.SLAHours,
				CreatedAt:    now,
				CreatedBy:    actor,
			}
			if err := s.repo.CreateStep(txCtx, step); err != nil {
				return fmt.Errorf("create step definition: %w", err)
			}

			sd := StepDetails{Step: step}
			for _, a := range in.Approvers {
				approver := &entity.StepApprover{
					ID:            uuid.NewString(),
					StepID:        step.ID,
					ApproverType:  a.Type,
					ApproverValue: a.Value,
					CreatedAt:     now,
					CreatedBy:     actor,
				}
				if err := s.repo.CreateApprover(txCtx, approver); err != nil {
					return fmt.Errorf("create step approver: %w", err)
				}
				sd.Approvers = append(sd.Approvers, approver)
			}
			details.Steps = append(details.Steps, sd)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create workflow definition", "error", err, "name", req.Name)
		return nil, err
	}

	s.logger.Info("Workflow definition created",
		"workflow_id", details.Workflow.ID, "name", req.Name, "version", details.Workflow.Version)
	return details, nil
}

// Get retrieves a definition with steps and approvers
func (s *definitionServiceImpl) Get(ctx context.Context, workflowID string) (*DefinitionDetails, error) {
	def, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		s.logger.Error("Failed to get workflow definition", "error", err, "workflow_id", workflowID)
		return nil, fmt.Errorf("get workflow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: workflow definition %s", domainwf.ErrNotFound, workflowID)
	}

	steps, err := s.repo.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list step definitions: %w", err)
	}

	details := &DefinitionDetails{Workflow: def, Steps: make([]StepDetails, 0, len(steps))}
	for _, step := range steps {
		approvers, err := s.repo.ListApprovers(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("list step approvers: %w", err)
		}
		details.Steps = append(details.Steps, StepDetails{Step: step, Approvers: approvers})
	}
	return details, nil
}

// validateDefinition checks input shape only; approval-count constraints are not enforced here
func validateDefinition(req CreateDefinitionRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: workflow name is required", domainwf.ErrInvalidArgument)
	}
	for i, step := range req.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("%w: step %d name is required", domainwf.ErrInvalidArgument, i+1)
		}
		if !step.ApprovalType.IsValid() {
			return fmt.Errorf("%w: step %d approval type %q", domainwf.ErrInvalidArgument, i+1, step.ApprovalType)
		}
		for _, a := range step.Approvers {
			if !a.Type.IsValid() {
				return fmt.Errorf("%w: step %d approver type %q", domainwf.ErrInvalidArgument, i+1, a.Type)
			}
			if strings.TrimSpace(a.Value) == "" {
				return fmt.Errorf("%w: step %d approver value is required", domainwf.ErrInvalidArgument, i+1)
			}
		}
	}
	return nil
}
