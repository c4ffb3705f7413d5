package model

import "time"

// Task status values. Tasks are never hard-deleted.
const (
	TaskPending   = "pending"
	TaskScheduled = "scheduled"
	TaskCompleted = "completed"
	TaskArchived  = "archived"
)

// Task priority levels, ordered from lowest to highest.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task is the durable actionable unit created from a suggestion or directly
// from a high-confidence extraction.
type Task struct {
	ID                int
	UserID            int
	Title             string
	Description       string
	Category          string
	Priority          string
	PriorityScore     int
	EstimatedDuration int // minutes
	ActualDuration    int // minutes
	DueDate           *time.Time
	ScheduledStart    *time.Time
	ScheduledEnd      *time.Time
	Status            string
	AIGenerated       bool
	ConfidenceScore   float64
	SourceMessageID   string
	SourceSuggestion  *int
	Tags              []string
	Notes             string
	EnergyLevel       string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}
