package entity

import "time"

// WorkItem is the subject being approved
type WorkItem struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         WorkItemStatus `json:"status"`
	CurrentVersion int            `json:"current_version"`
	CreatedAt      time.Time      `json:"created_at"`
	CreatedBy      string         `json:"created_by"`
	UpdatedAt      time.Time      `json:"updated_at"`
	UpdatedBy      string         `json:"updated_by"`
}

// WorkItemVersion is the immutable snapshot created on each submission
type WorkItemVersion struct {
	ID          string    `json:"id"`
	WorkItemID  string    `json:"work_item_id"`
	Version     int       `json:"version"`
	ContentRef  string    `json:"content_ref"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}
