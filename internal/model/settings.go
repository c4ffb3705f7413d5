package model

// SchedulingWindow holds the offsets, in hours from now, used when proposing
// a start time for an auto-scheduled task.
type SchedulingWindow struct {
	UrgentHours int `json:"urgent_hours" yaml:"urgent_hours"`
	Hours       int `json:"hours" yaml:"hours"`
}

// TaskDefaults are the per-user defaults applied to tasks created by the
// pipeline.
type TaskDefaults struct {
	Category         string           `json:"category" yaml:"category"`
	DefaultDuration  int              `json:"default_duration" yaml:"default_duration"` // minutes
	SchedulingWindow SchedulingWindow `json:"scheduling_window" yaml:"scheduling_window"`
}

// NotificationFlags control which pipeline outcomes are surfaced to the user.
type NotificationFlags struct {
	OnTaskCreated       *bool `json:"on_task_created" yaml:"on_task_created"`
	OnSuggestionCreated *bool `json:"on_suggestion_created" yaml:"on_suggestion_created"`
	OnProcessingFailed  *bool `json:"on_processing_failed" yaml:"on_processing_failed"`
}

// AutomationSettings is the per-user pipeline configuration. Pointer fields
// distinguish "not set, use default" from an explicit false/zero so stored
// partial settings deep-merge cleanly over defaults.
type AutomationSettings struct {
	Enabled              *bool             `json:"enabled" yaml:"enabled"`
	AutoCreateTasks      *bool             `json:"auto_create_tasks" yaml:"auto_create_tasks"`
	AutoScheduleTasks    *bool             `json:"auto_schedule_tasks" yaml:"auto_schedule_tasks"`
	AutoScheduleHighPrio *bool             `json:"auto_schedule_high_priority" yaml:"auto_schedule_high_priority"`
	ConfidenceThreshold  *float64          `json:"confidence_threshold" yaml:"confidence_threshold"`
	ExcludedSenders      []string          `json:"excluded_senders" yaml:"excluded_senders"`
	KeywordFilters       []string          `json:"keyword_filters" yaml:"keyword_filters"`
	PriorityKeywords     []string          `json:"priority_keywords" yaml:"priority_keywords"`
	PriorityDomains      []string          `json:"priority_domains" yaml:"priority_domains"`
	TaskDefaults         TaskDefaults      `json:"task_defaults" yaml:"task_defaults"`
	Notifications        NotificationFlags `json:"notifications" yaml:"notifications"`
}

// IsEnabled reports whether the pipeline is enabled for the user; unset
// means enabled.
func (s *AutomationSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AutoCreate reports whether high-confidence extractions may bypass manual
// suggestion approval.
func (s *AutomationSettings) AutoCreate() bool {
	return s.AutoCreateTasks != nil && *s.AutoCreateTasks
}

// Threshold returns the configured auto-creation confidence threshold.
func (s *AutomationSettings) Threshold() float64 {
	if s.ConfidenceThreshold == nil {
		return 0.8
	}
	return *s.ConfidenceThreshold
}
