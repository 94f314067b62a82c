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

const stepInstanceColumns = `id, workflow_instance_id, step_id, step_order, status,
	started_at, completed_at, created_at, created_by, updated_at, updated_by`

// StepInstanceRepository implements port.StepInstanceRepository
type StepInstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepInstanceRepository creates a new step instance repository
func NewStepInstanceRepository(db *sql.DB, logger *zap.Logger) port.StepInstanceRepository {
	return &StepInstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new step instance
func (r *StepInstanceRepository) Create(ctx context.Context, step *entity.StepInstance) error {
	query := `INSERT INTO step_instances (` + stepInstanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		step.ID,
		step.WorkflowInstanceID,
		step.StepID,
		step.StepOrder,
		step.Status,
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
		step.CreatedAt,
		step.CreatedBy,
		step.UpdatedAt,
		step.UpdatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create step instance",
			zap.String("workflow_instance_id", step.WorkflowInstanceID),
			zap.Int("step_order", step.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create step instance: %w", err)
	}
	return nil
}

// GetByID retrieves a step instance, or nil when it does not exist
func (r *StepInstanceRepository) GetByID(ctx context.Context, id string) (*entity.StepInstance, error) {
	query := `SELECT ` + stepInstanceColumns + ` FROM step_instances WHERE id = ?`

	step, err := scanStepInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step instance: %w", err)
	}
	return step, nil
}

// Update persists status and timestamps of a step instance
func (r *StepInstanceRepository) Update(ctx context.Context, step *entity.StepInstance) error {
	query := `
		UPDATE step_instances
		SET status = ?, started_at = ?, completed_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		step.Status,
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
		step.UpdatedAt,
		step.UpdatedBy,
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update step instance", zap.String("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update step instance: %w", err)
	}
	return expectOneRow(result, "step instance", step.ID)
}

// ListByWorkflowInstanceID returns the steps of a workflow instance in step order
func (r *StepInstanceRepository) ListByWorkflowInstanceID(ctx context.Context, workflowInstanceID string) ([]*entity.StepInstance, error) {
	query := `SELECT ` + stepInstanceColumns + `
		FROM step_instances
		WHERE workflow_instance_id = ?
		ORDER BY step_order`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, workflowInstanceID)
	if err != nil {
		r.logger.Error("Failed to list step instances",
			zap.String("workflow_instance_id", workflowInstanceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list step instances: %w", err)
	}
	defer rows.Close()

	var steps []*entity.StepInstance
	for rows.Next() {
		step, err := scanStepInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step instance: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStepInstance(row rowScanner) (*entity.StepInstance, error) {
	var step entity.StepInstance
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&step.ID,
		&step.WorkflowInstanceID,
		&step.StepID,
		&step.StepOrder,
		&step.Status,
		&startedAt,
		&completedAt,
		&step.CreatedAt,
		&step.CreatedBy,
		&step.UpdatedAt,
		&step.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)
	return &step, nil
}

// Verify interface compliance
var _ port.StepInstanceRepository = (*StepInstanceRepository)(nil)
