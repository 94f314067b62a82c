package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a notification published after an orchestrator operation commits
type Event struct {
	ID                 string                 `json:"id"`
	Type               Type                   `json:"type"`
	WorkflowInstanceID string                 `json:"workflow_instance_id"`
	Actor              string                 `json:"actor"`
	Payload            map[string]interface{} `json:"payload"`
	Timestamp          time.Time              `json:"timestamp"`
	CorrelationID      string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with generated ID and timestamp
func NewEvent(eventType Type, workflowInstanceID, actor string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, workflowInstanceID, actor, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, workflowInstanceID, actor string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:                 uuid.NewString(),
		Type:               eventType,
		WorkflowInstanceID: workflowInstanceID,
		Actor:              actor,
		Payload:            payload,
		Timestamp:          time.Now(),
		CorrelationID:      correlationID,
	}
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	clone := *e
	clone.Payload = newPayload
	return &clone
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
