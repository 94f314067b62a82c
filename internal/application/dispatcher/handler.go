package dispatcher

import (
	"context"

	"github.com/garyjia/approval-core/internal/domain/event"
)

// Handler processes lifecycle events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging.
// EventType is empty for catch-all handlers.
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// LoggingHandler returns a handler that writes every event to the logger
func LoggingHandler(logger Logger) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		logger.Info("Lifecycle event",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"workflow_instance_id", evt.WorkflowInstanceID,
			"actor", evt.Actor,
			"correlation_id", evt.CorrelationID,
		)
		return nil
	}
}
