package model

import "time"

// TaskExtraction is one candidate actionable item returned by the AI content
// analyzer for a message. Ephemeral; consumed to create a Task or Suggestion.
type TaskExtraction struct {
	Type              string     `json:"type"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	SuggestedDateTime *time.Time `json:"suggested_datetime,omitempty"`
	Duration          int        `json:"duration,omitempty"` // minutes
	Location          string     `json:"location,omitempty"`
	Participants      []string   `json:"participants,omitempty"`
	Priority          string     `json:"priority"`
	Confidence        float64    `json:"confidence"`
	Category          string     `json:"category"`
	EstimatedDuration int        `json:"estimated_duration"` // minutes
	SuggestedDueDate  *time.Time `json:"suggested_due_date,omitempty"`
	EnergyLevel       string     `json:"energy_level"`
	SuggestedTags     []string   `json:"suggested_tags"`
	Context           string     `json:"context"`
	Recurring         string     `json:"recurring,omitempty"`
	Dependencies      []string   `json:"dependencies,omitempty"`
}
