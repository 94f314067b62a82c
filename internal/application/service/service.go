package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Clock returns the current time. Controllers take one so tests can pin timestamps.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// recordTransition writes one audit entry for a lifecycle transition
func recordTransition(ctx context.Context, historyRepo port.HistoryRepository, entityType, entityID, from, to, event, actor, reason string, at time.Time) error {
	record := &entity.TransitionRecord{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		FromStatus: from,
		ToStatus:   to,
		Event:      event,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: at,
	}

	if err := historyRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("create transition record: %w", err)
	}
	return nil
}
