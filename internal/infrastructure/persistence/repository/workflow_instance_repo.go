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

const workflowInstanceColumns = `id, workflow_id, workflow_version, work_item_id, status,
	started_at, completed_at, created_at, created_by, updated_at, updated_by`

// WorkflowInstanceRepository implements port.WorkflowInstanceRepository
type WorkflowInstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowInstanceRepository creates a new workflow instance repository
func NewWorkflowInstanceRepository(db *sql.DB, logger *zap.Logger) port.WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *WorkflowInstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `INSERT INTO workflow_instances (` + workflowInstanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.WorkflowID,
		instance.WorkflowVersion,
		instance.WorkItemID,
		instance.Status,
		nullTime(instance.StartedAt),
		nullTime(instance.CompletedAt),
		instance.CreatedAt,
		instance.CreatedBy,
		instance.UpdatedAt,
		instance.UpdatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow instance",
			zap.String("work_item_id", instance.WorkItemID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow instance, or nil when it does not exist
func (r *WorkflowInstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowInstanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanWorkflowInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return instance, nil
}

// Update persists status and timestamps of a workflow instance
func (r *WorkflowInstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET status = ?, started_at = ?, completed_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.Status,
		nullTime(instance.StartedAt),
		nullTime(instance.CompletedAt),
		instance.UpdatedAt,
		instance.UpdatedBy,
		instance.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	return expectOneRow(result, "workflow instance", instance.ID)
}

// ListByWorkItemID returns the instances of a work item, oldest first
func (r *WorkflowInstanceRepository) ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowInstanceColumns + `
		FROM workflow_instances
		WHERE work_item_id = ?
		ORDER BY created_at, rowid`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, workItemID)
	if err != nil {
		r.logger.Error("Failed to list workflow instances", zap.String("work_item_id", workItemID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanWorkflowInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func scanWorkflowInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.WorkflowID,
		&instance.WorkflowVersion,
		&instance.WorkItemID,
		&instance.Status,
		&startedAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.CreatedBy,
		&instance.UpdatedAt,
		&instance.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	instance.StartedAt = timePtr(startedAt)
	instance.CompletedAt = timePtr(completedAt)
	return &instance, nil
}

// Verify interface compliance
var _ port.WorkflowInstanceRepository = (*WorkflowInstanceRepository)(nil)
