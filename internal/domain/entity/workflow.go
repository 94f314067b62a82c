package entity

import "time"

// WorkflowDefinition is a named, versioned approval template
type WorkflowDefinition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// StepDefinition is one ordered step of a workflow definition
type StepDefinition struct {
	ID           string       `json:"id"`
	WorkflowID   string       `json:"workflow_id"`
	StepOrder    int          `json:"step_order"`
	StepName     string       `json:"step_name"`
	ApprovalType ApprovalType `json:"approval_type"`
	MinApprovals int          `json:"min_approvals,omitempty"` // 0 when unset
	SLAHours     int          `json:"sla_hours,omitempty"`     // 0 when unset
	CreatedAt    time.Time    `json:"created_at"`
	CreatedBy    string       `json:"created_by"`
}

// StepApprover is an unresolved approver reference of a step definition
type StepApprover struct {
	ID            string       `json:"id"`
	StepID        string       `json:"step_id"`
	ApproverType  ApproverType `json:"approver_type"`
	ApproverValue string       `json:"approver_value"`
	CreatedAt     time.Time    `json:"created_at"`
	CreatedBy     string       `json:"created_by"`
}

// WorkflowInstance is a runtime execution of a workflow definition, pinned to its version
type WorkflowInstance struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	WorkItemID      string         `json:"work_item_id"`
	Status          WorkflowStatus `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CreatedBy       string         `json:"created_by"`
	UpdatedAt       time.Time      `json:"updated_at"`
	UpdatedBy       string         `json:"updated_by"`
}

// StepInstance is a runtime execution of a step definition
type StepInstance struct {
	ID                 string     `json:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id"`
	StepID             string     `json:"step_id"`
	StepOrder          int        `json:"step_order"`
	Status             StepStatus `json:"status"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CreatedBy          string     `json:"created_by"`
	UpdatedAt          time.Time  `json:"updated_at"`
	UpdatedBy          string     `json:"updated_by"`
}
