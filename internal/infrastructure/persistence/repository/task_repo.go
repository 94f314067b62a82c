package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
)

const taskColumns = `id, step_instance_id, approver_id, approver_type, status,
	due_at, acted_at, created_at, created_by, updated_at, updated_by`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new approval task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new approval task
func (r *TaskRepository) Create(ctx context.Context, task *entity.ApprovalTask) error {
	query := `INSERT INTO approval_tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		task.ID,
		task.StepInstanceID,
		task.ApproverID,
		task.ApproverType,
		task.Status,
		nullTime(task.DueAt),
		nullTime(task.ActedAt),
		task.CreatedAt,
		task.CreatedBy,
		task.UpdatedAt,
		task.UpdatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create approval task",
			zap.String("step_instance_id", task.StepInstanceID),
			zap.String("approver_id", task.ApproverID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval task: %w", err)
	}
	return nil
}

// GetByID retrieves a task, or nil when it does not exist
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ?`

	task, err := scanTask(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval task", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return task, nil
}

// Update persists assignment, status and timestamps of a task
func (r *TaskRepository) Update(ctx context.Context, task *entity.ApprovalTask) error {
	query := `
		UPDATE approval_tasks
		SET approver_id = ?, status = ?, due_at = ?, acted_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		task.ApproverID,
		task.Status,
		nullTime(task.DueAt),
		nullTime(task.ActedAt),
		task.UpdatedAt,
		task.UpdatedBy,
		task.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval task", zap.String("id", task.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval task: %w", err)
	}
	return expectOneRow(result, "approval task", task.ID)
}

// ListByStepInstanceID returns the tasks of a step in creation order
func (r *TaskRepository) ListByStepInstanceID(ctx context.Context, stepInstanceID string) ([]*entity.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE step_instance_id = ?
		ORDER BY created_at, rowid`

	return r.query(ctx, "list tasks by step", query, stepInstanceID)
}

// ListByApprover returns an approver's tasks in the given status, earliest due first
func (r *TaskRepository) ListByApprover(ctx context.Context, approverID string, status entity.TaskStatus) ([]*entity.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE approver_id = ? AND status = ?
		ORDER BY due_at IS NULL, due_at, created_at, rowid`

	return r.query(ctx, "list tasks by approver", query, approverID, status)
}

// ListOverdue returns pending tasks due before the given instant, most overdue first
func (r *TaskRepository) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.ApprovalTask, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE status = ? AND due_at IS NOT NULL AND due_at < ?
		ORDER BY due_at
		LIMIT ?`

	return r.query(ctx, "list overdue tasks", query, entity.TaskStatusPending, before, limit)
}

func (r *TaskRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.ApprovalTask, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approval tasks", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*entity.ApprovalTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*entity.ApprovalTask, error) {
	var task entity.ApprovalTask
	var dueAt, actedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.StepInstanceID,
		&task.ApproverID,
		&task.ApproverType,
		&task.Status,
		&dueAt,
		&actedAt,
		&task.CreatedAt,
		&task.CreatedBy,
		&task.UpdatedAt,
		&task.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	task.DueAt = timePtr(dueAt)
	task.ActedAt = timePtr(actedAt)
	return &task, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
