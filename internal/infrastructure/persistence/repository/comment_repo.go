package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/internal/infrastructure/persistence/sqlite"
)

// CommentRepository implements port.CommentRepository
type CommentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCommentRepository creates a new approval comment repository
func NewCommentRepository(db *sql.DB, logger *zap.Logger) port.CommentRepository {
	return &CommentRepository{
		db:     db,
		logger: logger,
	}
}

// Create attaches a comment to a task
func (r *CommentRepository) Create(ctx context.Context, c *entity.ApprovalComment) error {
	query := `
		INSERT INTO approval_comments (id, task_id, comment, commented_by, commented_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		c.ID, c.TaskID, c.Comment, c.CommentedBy, c.CommentedAt)
	if err != nil {
		r.logger.Error("Failed to create approval comment", zap.String("task_id", c.TaskID), zap.Error(err))
		return fmt.Errorf("failed to create approval comment: %w", err)
	}
	return nil
}

// ListByTaskID returns the comments of a task, oldest first
func (r *CommentRepository) ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalComment, error) {
	query := `
		SELECT id, task_id, comment, commented_by, commented_at
		FROM approval_comments
		WHERE task_id = ?
		ORDER BY commented_at, rowid
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to list approval comments", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval comments: %w", err)
	}
	defer rows.Close()

	var comments []*entity.ApprovalComment
	for rows.Next() {
		var c entity.ApprovalComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Comment, &c.CommentedBy, &c.CommentedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval comment: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// Verify interface compliance
var _ port.CommentRepository = (*CommentRepository)(nil)
