package model

import "time"

// Suggestion status values.
const (
	SuggestionPending       = "pending"
	SuggestionApproved      = "approved"
	SuggestionRejected      = "rejected"
	SuggestionProcessed     = "processed"
	SuggestionConverted     = "converted"
	SuggestionAutoConverted = "auto_converted"
)

// Suggestion is a proposed task awaiting human or automatic approval. It
// links back to the work item that produced it and forward to the task it
// was converted into.
type Suggestion struct {
	ID          int
	UserID      int
	WorkItemID  int
	MessageID   string
	Title       string
	Description string
	Status      string
	Confidence  float64
	Extraction  TaskExtraction
	TaskID      *int
	CreatedAt   time.Time
}
