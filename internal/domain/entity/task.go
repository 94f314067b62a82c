package entity

import "time"

// ApprovalTask is the unit of work assigned to one approver for one step instance
type ApprovalTask struct {
	ID             string       `json:"id"`
	StepInstanceID string       `json:"step_instance_id"`
	ApproverID     string       `json:"approver_id"`
	ApproverType   ApproverType `json:"approver_type"`
	Status         TaskStatus   `json:"status"`
	DueAt          *time.Time   `json:"due_at,omitempty"`
	ActedAt        *time.Time   `json:"acted_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CreatedBy      string       `json:"created_by"`
	UpdatedAt      time.Time    `json:"updated_at"`
	UpdatedBy      string       `json:"updated_by"`
}

// ApprovalDecision is the immutable record of an approve or reject transition
type ApprovalDecision struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Decision  DecisionKind `json:"decision"`
	DecidedBy string       `json:"decided_by"`
	DecidedAt time.Time    `json:"decided_at"`
	Comments  string       `json:"comments,omitempty"`
}

// ApprovalComment is a free-text note attached to a task
type ApprovalComment struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Comment     string    `json:"comment"`
	CommentedBy string    `json:"commented_by"`
	CommentedAt time.Time `json:"commented_at"`
}
