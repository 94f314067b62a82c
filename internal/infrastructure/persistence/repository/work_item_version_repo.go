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

// WorkItemVersionRepository implements port.WorkItemVersionRepository
type WorkItemVersionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkItemVersionRepository creates a new work item version repository
func NewWorkItemVersionRepository(db *sql.DB, logger *zap.Logger) port.WorkItemVersionRepository {
	return &WorkItemVersionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a submitted version. Versions are never updated.
func (r *WorkItemVersionRepository) Create(ctx context.Context, v *entity.WorkItemVersion) error {
	query := `
		INSERT INTO work_item_versions (id, work_item_id, version, content_ref, submitted_by, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		v.ID, v.WorkItemID, v.Version, nullString(v.ContentRef), v.SubmittedBy, v.SubmittedAt)
	if err != nil {
		r.logger.Error("Failed to create work item version",
			zap.String("work_item_id", v.WorkItemID),
			zap.Int("version", v.Version),
			zap.Error(err))
		return fmt.Errorf("failed to create work item version: %w", err)
	}
	return nil
}

// ListByWorkItemID returns versions in ascending version order
func (r *WorkItemVersionRepository) ListByWorkItemID(ctx context.Context, workItemID string) ([]*entity.WorkItemVersion, error) {
	query := `
		SELECT id, work_item_id, version, content_ref, submitted_by, submitted_at
		FROM work_item_versions
		WHERE work_item_id = ?
		ORDER BY version
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, workItemID)
	if err != nil {
		r.logger.Error("Failed to list work item versions", zap.String("work_item_id", workItemID), zap.Error(err))
		return nil, fmt.Errorf("failed to list work item versions: %w", err)
	}
	defer rows.Close()

	var versions []*entity.WorkItemVersion
	for rows.Next() {
		var v entity.WorkItemVersion
		var contentRef sql.NullString
		if err := rows.Scan(&v.ID, &v.WorkItemID, &v.Version, &contentRef, &v.SubmittedBy, &v.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item version: %w", err)
		}
		v.ContentRef = contentRef.String
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// Verify interface compliance
var _ port.WorkItemVersionRepository = (*WorkItemVersionRepository)(nil)
