package model

import "time"

// Work item lifecycle. pending is the only creatable state; completed and a
// retry-exhausted failed are terminal.
const (
	WorkItemPending    = "pending"
	WorkItemProcessing = "processing"
	WorkItemCompleted  = "completed"
	WorkItemFailed     = "failed"
)

// WorkItem is one queued unit of work for an inbound message. Rows are never
// deleted; they double as the processing audit trail.
type WorkItem struct {
	ID           int
	UserID       int
	MessageID    string
	Status       string
	ErrorMessage string
	RetryCount   int
	ProcessedAt  *time.Time
	CreatedAt    time.Time
}
