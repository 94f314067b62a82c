package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
)

const stepDefinitionColumns = `id, workflow_id, step_order, step_name, approval_type,
	min_approvals, sla_hours, created_at, created_by`

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new workflow definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateWorkflow inserts a workflow definition header
func (r *DefinitionRepository) CreateWorkflow(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (id, name, version, is_active, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		def.ID, def.Name, def.Version, def.IsActive, def.CreatedAt, def.CreatedBy, def.UpdatedAt, def.UpdatedBy)
	if err != nil {
		r.logger.Error("Failed to create workflow definition",
			zap.String("name", def.Name),
			zap.Int("version", def.Version),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow definition: %w", err)
	}
	return nil
}

// CreateStep inserts a step definition
func (r *DefinitionRepository) CreateStep(ctx context.Context, step *entity.StepDefinition) error {
	query := `INSERT INTO step_definitions (` + stepDefinitionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		step.ID,
		step.WorkflowID,
		step.StepOrder,
		step.StepName,
		step.ApprovalType,
		nullInt(step.MinApprovals),
		nullInt(step.SLAHours),
		step.CreatedAt,
		step.CreatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create step definition",
			zap.String("workflow_id", step.WorkflowID),
			zap.Int("step_order", step.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create step definition: %w", err)
	}
	return nil
}

// CreateApprover inserts an approver reference of a step
func (r *DefinitionRepository) CreateApprover(ctx context.Context, a *entity.StepApprover) error {
	query := `
		INSERT INTO step_approvers (id, step_id, approver_type, approver_value, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		a.ID, a.StepID, a.ApproverType, a.ApproverValue, a.CreatedAt, a.CreatedBy)
	if err != nil {
		r.logger.Error("Failed to create step approver", zap.String("step_id", a.StepID), zap.Error(err))
		return fmt.Errorf("failed to create step approver: %w", err)
	}
	return nil
}

// LatestVersion returns the highest version stored under name, 0 when none
func (r *DefinitionRepository) LatestVersion(ctx context.Context, name string) (int, error) {
	var version int
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE name = ?`, name).Scan(&version)
	if err != nil {
		r.logger.Error("Failed to get latest definition version", zap.String("name", name), zap.Error(err))
		return 0, fmt.Errorf("failed to get latest version: %w", err)
	}
	return version, nil
}

// GetWorkflow retrieves a workflow definition, or nil when it does not exist
func (r *DefinitionRepository) GetWorkflow(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, name, version, is_active, created_at, created_by, updated_at, updated_by
		FROM workflow_definitions
		WHERE id = ?
	`

	var def entity.WorkflowDefinition
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&def.ID, &def.Name, &def.Version, &def.IsActive,
		&def.CreatedAt, &def.CreatedBy, &def.UpdatedAt, &def.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow definition", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow definition: %w", err)
	}
	return &def, nil
}

// ListSteps returns the steps of a definition in step order
func (r *DefinitionRepository) ListSteps(ctx context.Context, workflowID string) ([]*entity.StepDefinition, error) {
	query := `SELECT ` + stepDefinitionColumns + ` FROM step_definitions WHERE workflow_id = ? ORDER BY step_order`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list step definitions", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list step definitions: %w", err)
	}
	defer rows.Close()

	var steps []*entity.StepDefinition
	for rows.Next() {
		step, err := scanStepDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step definition: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetStep retrieves a step definition, or nil when it does not exist
func (r *DefinitionRepository) GetStep(ctx context.Context, id string) (*entity.StepDefinition, error) {
	query := `SELECT ` + stepDefinitionColumns + ` FROM step_definitions WHERE id = ?`

	step, err := scanStepDefinition(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step definition", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step definition: %w", err)
	}
	return step, nil
}

// ListApprovers returns the approver references of a step in insertion order
func (r *DefinitionRepository) ListApprovers(ctx context.Context, stepID string) ([]*entity.StepApprover, error) {
	query := `
		SELECT id, step_id, approver_type, approver_value, created_at, created_by
		FROM step_approvers
		WHERE step_id = ?
		ORDER BY rowid
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, stepID)
	if err != nil {
		r.logger.Error("Failed to list step approvers", zap.String("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to list step approvers: %w", err)
	}
	defer rows.Close()

	var approvers []*entity.StepApprover
	for rows.Next() {
		var a entity.StepApprover
		if err := rows.Scan(&a.ID, &a.StepID, &a.ApproverType, &a.ApproverValue, &a.CreatedAt, &a.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan step approver: %w", err)
		}
		approvers = append(approvers, &a)
	}
	return approvers, rows.Err()
}

func scanStepDefinition(row rowScanner) (*entity.StepDefinition, error) {
	var step entity.StepDefinition
	var minApprovals, slaHours sql.NullInt64

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.StepOrder,
		&step.StepName,
		&step.ApprovalType,
		&minApprovals,
		&slaHours,
		&step.CreatedAt,
		&step.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	step.MinApprovals = int(minApprovals.Int64)
	step.SLAHours = int(slaHours.Int64)
	return &step, nil
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
