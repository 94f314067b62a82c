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

// DecisionRepository implements port.DecisionRepository
type DecisionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new approval decision repository
func NewDecisionRepository(db *sql.DB, logger *zap.Logger) port.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a decision. Decisions are append-only.
func (r *DecisionRepository) Create(ctx context.Context, d *entity.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (id, task_id, decision, decided_by, decided_at, comments)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		d.ID, d.TaskID, d.Decision, d.DecidedBy, d.DecidedAt, nullString(d.Comments))
	if err != nil {
		r.logger.Error("Failed to create approval decision",
			zap.String("task_id", d.TaskID),
			zap.String("decision", string(d.Decision)),
			zap.Error(err))
		return fmt.Errorf("failed to create approval decision: %w", err)
	}
	return nil
}

// ListByTaskID returns the decisions of a task, oldest first
func (r *DecisionRepository) ListByTaskID(ctx context.Context, taskID string) ([]*entity.ApprovalDecision, error) {
	query := `
		SELECT id, task_id, decision, decided_by, decided_at, comments
		FROM approval_decisions
		WHERE task_id = ?
		ORDER BY decided_at, rowid
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to list approval decisions", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*entity.ApprovalDecision
	for rows.Next() {
		var d entity.ApprovalDecision
		var comments sql.NullString
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Decision, &d.DecidedBy, &d.DecidedAt, &comments); err != nil {
			return nil, fmt.Errorf("failed to scan approval decision: %w", err)
		}
		d.Comments = comments.String
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// Verify interface compliance
var _ port.DecisionRepository = (*DecisionRepository)(nil)
