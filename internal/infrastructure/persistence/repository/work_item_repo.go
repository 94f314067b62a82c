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

const workItemColumns = `id, type, title, description, status, current_version,
	created_at, created_by, updated_at, updated_by`

// WorkItemRepository implements port.WorkItemRepository
type WorkItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkItemRepository creates a new work item repository
func NewWorkItemRepository(db *sql.DB, logger *zap.Logger) port.WorkItemRepository {
	return &WorkItemRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new work item
func (r *WorkItemRepository) Create(ctx context.Context, item *entity.WorkItem) error {
	query := `INSERT INTO work_items (` + workItemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		item.ID,
		item.Type,
		item.Title,
		nullString(item.Description),
		item.Status,
		item.CurrentVersion,
		item.CreatedAt,
		item.CreatedBy,
		item.UpdatedAt,
		item.UpdatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create work item", zap.String("id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

// GetByID retrieves a work item, or nil when it does not exist
func (r *WorkItemRepository) GetByID(ctx context.Context, id string) (*entity.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`

	item, err := scanWorkItem(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get work item", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

// Update persists status, version and audit columns of a work item
func (r *WorkItemRepository) Update(ctx context.Context, item *entity.WorkItem) error {
	query := `
		UPDATE work_items
		SET title = ?, description = ?, status = ?, current_version = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		item.Title,
		nullString(item.Description),
		item.Status,
		item.CurrentVersion,
		item.UpdatedAt,
		item.UpdatedBy,
		item.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update work item", zap.String("id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to update work item: %w", err)
	}
	return expectOneRow(result, "work item", item.ID)
}

// List returns work items newest first, optionally filtered by status
func (r *WorkItemRepository) List(ctx context.Context, status entity.WorkItemStatus, limit, offset int) ([]*entity.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list work items", zap.Error(err))
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []*entity.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanWorkItem(row rowScanner) (*entity.WorkItem, error) {
	var item entity.WorkItem
	var description sql.NullString

	err := row.Scan(
		&item.ID,
		&item.Type,
		&item.Title,
		&description,
		&item.Status,
		&item.CurrentVersion,
		&item.CreatedAt,
		&item.CreatedBy,
		&item.UpdatedAt,
		&item.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	item.Description = description.String
	return &item, nil
}

// expectOneRow turns a zero-row update into an error
func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: no rows updated", kind, id)
	}
	return nil
}

// Verify interface compliance
var _ port.WorkItemRepository = (*WorkItemRepository)(nil)
