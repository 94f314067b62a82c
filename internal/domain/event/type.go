package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypeWorkflowCancelled Type = "workflow.cancelled"
	TypeStepStarted       Type = "step.started"
	TypeStepCompleted     Type = "step.completed"
	TypeStepFailed        Type = "step.failed"
	TypeTaskDecided       Type = "task.decided"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeWorkflowCancelled,
		TypeStepStarted,
		TypeStepCompleted,
		TypeStepFailed,
		TypeTaskDecided:
		return true
	default:
		return false
	}
}
