package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"inboxflow/internal/model"
)

// Store is the persistence contract for per-user automation settings. Only
// the stored partial overrides live in the database; defaults are code.
type Store interface {
	Get(ctx context.Context, userID int) (*model.AutomationSettings, error)
	Upsert(ctx context.Context, userID int, s *model.AutomationSettings) error
}

// Defaults returns the baseline automation settings. Stored rows and
// per-call overrides are layered on top, so fields added here later are
// automatically picked up by users with older stored settings.
func Defaults() *model.AutomationSettings {
	enabled := true
	autoCreate := false
	autoSchedule := false
	autoHigh := false
	threshold := 0.8
	notify := true

	return &model.AutomationSettings{
		Enabled:              &enabled,
		AutoCreateTasks:      &autoCreate,
		AutoScheduleTasks:    &autoSchedule,
		AutoScheduleHighPrio: &autoHigh,
		ConfidenceThreshold:  &threshold,
		TaskDefaults: model.TaskDefaults{
			Category:        "work",
			DefaultDuration: 30,
			SchedulingWindow: model.SchedulingWindow{
				UrgentHours: 4,
				Hours:       24,
			},
		},
		Notifications: model.NotificationFlags{
			OnTaskCreated:       &notify,
			OnSuggestionCreated: &notify,
			OnProcessingFailed:  &notify,
		},
	}
}

// Merge layers overlays onto base, later overlays winning. Nil pointer
// fields and empty slices in an overlay mean "not set" and keep the value
// underneath; zero struct fields are treated the same way.
func Merge(base *model.AutomationSettings, overlays ...*model.AutomationSettings) *model.AutomationSettings {
	out := clone(base)
	for _, o := range overlays {
		if o == nil {
			continue
		}
		applyOverlay(out, o)
	}
	return out
}

func applyOverlay(dst, src *model.AutomationSettings) {
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	if src.AutoCreateTasks != nil {
		dst.AutoCreateTasks = src.AutoCreateTasks
	}
	if src.AutoScheduleTasks != nil {
		dst.AutoScheduleTasks = src.AutoScheduleTasks
	}
	if src.AutoScheduleHighPrio != nil {
		dst.AutoScheduleHighPrio = src.AutoScheduleHighPrio
	}
	if src.ConfidenceThreshold != nil {
		dst.ConfidenceThreshold = src.ConfidenceThreshold
	}
	if len(src.ExcludedSenders) > 0 {
		dst.ExcludedSenders = append([]string(nil), src.ExcludedSenders...)
	}
	if len(src.KeywordFilters) > 0 {
		dst.KeywordFilters = append([]string(nil), src.KeywordFilters...)
	}
	if len(src.PriorityKeywords) > 0 {
		dst.PriorityKeywords = append([]string(nil), src.PriorityKeywords...)
	}
	if len(src.PriorityDomains) > 0 {
		dst.PriorityDomains = append([]string(nil), src.PriorityDomains...)
	}

	if src.TaskDefaults.Category != "" {
		dst.TaskDefaults.Category = src.TaskDefaults.Category
	}
	if src.TaskDefaults.DefaultDuration > 0 {
		dst.TaskDefaults.DefaultDuration = src.TaskDefaults.DefaultDuration
	}
	if src.TaskDefaults.SchedulingWindow.UrgentHours > 0 {
		dst.TaskDefaults.SchedulingWindow.UrgentHours = src.TaskDefaults.SchedulingWindow.UrgentHours
	}
	if src.TaskDefaults.SchedulingWindow.Hours > 0 {
		dst.TaskDefaults.SchedulingWindow.Hours = src.TaskDefaults.SchedulingWindow.Hours
	}

	if src.Notifications.OnTaskCreated != nil {
		dst.Notifications.OnTaskCreated = src.Notifications.OnTaskCreated
	}
	if src.Notifications.OnSuggestionCreated != nil {
		dst.Notifications.OnSuggestionCreated = src.Notifications.OnSuggestionCreated
	}
	if src.Notifications.OnProcessingFailed != nil {
		dst.Notifications.OnProcessingFailed = src.Notifications.OnProcessingFailed
	}
}

func clone(s *model.AutomationSettings) *model.AutomationSettings {
	if s == nil {
		return &model.AutomationSettings{}
	}
	out := *s
	out.ExcludedSenders = append([]string(nil), s.ExcludedSenders...)
	out.KeywordFilters = append([]string(nil), s.KeywordFilters...)
	out.PriorityKeywords = append([]string(nil), s.PriorityKeywords...)
	out.PriorityDomains = append([]string(nil), s.PriorityDomains...)
	return &out
}

// Service resolves effective settings per user and is the single write path
// for settings updates.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ForUser returns defaults merged with the user's stored overrides. A
// missing row is not an error; the user simply runs on defaults.
func (s *Service) ForUser(ctx context.Context, userID int) (*model.AutomationSettings, error) {
	stored, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for user %d: %w", userID, err)
	}
	return Merge(Defaults(), stored), nil
}

// Update stores the given partial settings as the user's overrides and
// returns the new effective settings.
func (s *Service) Update(ctx context.Context, userID int, partial *model.AutomationSettings) (*model.AutomationSettings, error) {
	if err := validate(partial); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, userID, partial); err != nil {
		return nil, fmt.Errorf("failed to store settings for user %d: %w", userID, err)
	}
	if s.logger != nil {
		s.logger.Info("Automation settings updated", zap.Int("user_id", userID))
	}
	return Merge(Defaults(), partial), nil
}

func validate(s *model.AutomationSettings) error {
	if s == nil {
		return fmt.Errorf("settings payload is empty")
	}
	if s.ConfidenceThreshold != nil && (*s.ConfidenceThreshold < 0 || *s.ConfidenceThreshold > 1) {
		return fmt.Errorf("confidence_threshold must be within [0,1]")
	}
	if s.TaskDefaults.DefaultDuration < 0 {
		return fmt.Errorf("default_duration must not be negative")
	}
	return nil
}
