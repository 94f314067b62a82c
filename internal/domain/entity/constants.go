package entity

// TaskStatus is the lifecycle status of an ApprovalTask
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusApproved  TaskStatus = "APPROVED"
	TaskStatusRejected  TaskStatus = "REJECTED"
	TaskStatusDelegated TaskStatus = "DELEGATED"
	TaskStatusExpired   TaskStatus = "EXPIRED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// StepStatus is the lifecycle status of a StepInstance
type StepStatus string

const (
	StepStatusNotStarted StepStatus = "NOT_STARTED"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
)

// WorkflowStatus is the lifecycle status of a WorkflowInstance
type WorkflowStatus string

const (
	WorkflowStatusNotStarted WorkflowStatus = "NOT_STARTED"
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
	WorkflowStatusCancelled  WorkflowStatus = "CANCELLED"
)

// WorkItemStatus is the lifecycle status of a WorkItem
type WorkItemStatus string

const (
	WorkItemStatusDraft     WorkItemStatus = "DRAFT"
	WorkItemStatusSubmitted WorkItemStatus = "SUBMITTED"
	WorkItemStatusInReview  WorkItemStatus = "IN_REVIEW"
	WorkItemStatusRework    WorkItemStatus = "REWORK"
	WorkItemStatusApproved  WorkItemStatus = "APPROVED"
	WorkItemStatusRejected  WorkItemStatus = "REJECTED"
	WorkItemStatusCancelled WorkItemStatus = "CANCELLED"
	WorkItemStatusArchived  WorkItemStatus = "ARCHIVED"
)

// ApprovalType is the rule a step applies to its tasks
type ApprovalType string

const (
	ApprovalTypeAll  ApprovalType = "ALL"
	ApprovalTypeAny  ApprovalType = "ANY"
	ApprovalTypeNOfM ApprovalType = "N_OF_M"
)

// IsValid reports whether the approval type is known
func (t ApprovalType) IsValid() bool {
	switch t {
	case ApprovalTypeAll, ApprovalTypeAny, ApprovalTypeNOfM:
		return true
	}
	return false
}

// ApproverType tells how a StepApprover value is resolved into users
type ApproverType string

const (
	ApproverTypeUser    ApproverType = "USER"
	ApproverTypeRole    ApproverType = "ROLE"
	ApproverTypeManager ApproverType = "MANAGER"
)

// IsValid reports whether the approver type is known
func (t ApproverType) IsValid() bool {
	switch t {
	case ApproverTypeUser, ApproverTypeRole, ApproverTypeManager:
		return true
	}
	return false
}

// DecisionKind is the outcome recorded by an ApprovalDecision
type DecisionKind string

const (
	DecisionApproved DecisionKind = "APPROVED"
	DecisionRejected DecisionKind = "REJECTED"
)

// Entity type names used in transition records
const (
	EntityTypeTask     = "TASK"
	EntityTypeStep     = "STEP"
	EntityTypeWorkflow = "WORKFLOW"
	EntityTypeWorkItem = "WORK_ITEM"
)
