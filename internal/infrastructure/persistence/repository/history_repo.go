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

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new transition history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transition record
func (r *HistoryRepository) Create(ctx context.Context, record *entity.TransitionRecord) error {
	query := `
		INSERT INTO transition_history (
			id, entity_type, entity_id, from_status, to_status, event, actor, reason, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.EntityType,
		record.EntityID,
		record.FromStatus,
		record.ToStatus,
		record.Event,
		record.Actor,
		nullString(record.Reason),
		record.OccurredAt,
	)
	if err != nil {
		r.logger.Error("Failed to create history record",
			zap.String("entity_type", record.EntityType),
			zap.String("entity_id", record.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}
	return nil
}

// ListByEntity returns the transitions of one entity in the order they happened
func (r *HistoryRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.TransitionRecord, error) {
	query := `
		SELECT id, entity_type, entity_id, from_status, to_status, event, actor, reason, occurred_at
		FROM transition_history
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY occurred_at, rowid
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to get history records",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var rec entity.TransitionRecord
		var reason sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.EntityType, &rec.EntityID, &rec.FromStatus, &rec.ToStatus,
			&rec.Event, &rec.Actor, &reason, &rec.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.Reason = reason.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
