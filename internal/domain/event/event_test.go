package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"workflow started", TypeWorkflowStarted, true},
		{"workflow cancelled", TypeWorkflowCancelled, true},
		{"step failed", TypeStepFailed, true},
		{"task decided", TypeTaskDecided, true},
		{"unknown", Type("instance.created"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.IsValid())
		})
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeWorkflowStarted, "wf-1", "alice", nil)

	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.CorrelationID)
	assert.Equal(t, "wf-1", evt.WorkflowInstanceID)
	assert.Equal(t, "alice", evt.Actor)
	assert.NotNil(t, evt.Payload)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNewEventWithCorrelation(t *testing.T) {
	evt := NewEventWithCorrelation(TypeStepCompleted, "wf-1", "bob", nil, "corr-1")

	assert.Equal(t, "corr-1", evt.CorrelationID)
	assert.NotEqual(t, "corr-1", evt.ID)
}

func TestEvent_WithPayloadDoesNotMutateOriginal(t *testing.T) {
	evt := NewEvent(TypeStepStarted, "wf-1", "alice", map[string]interface{}{"step_id": "s1"})

	updated := evt.WithPayload("task_count", 2)

	assert.Equal(t, "s1", updated.GetPayloadString("step_id"))
	assert.Equal(t, 2, updated.Payload["task_count"])
	_, exists := evt.Payload["task_count"]
	assert.False(t, exists)
	assert.Equal(t, evt.ID, updated.ID)
}

func TestEvent_GetPayloadStringMissing(t *testing.T) {
	evt := NewEvent(TypeTaskDecided, "wf-1", "alice", map[string]interface{}{"count": 3})

	assert.Equal(t, "", evt.GetPayloadString("missing"))
	assert.Equal(t, "", evt.GetPayloadString("count"))
}
