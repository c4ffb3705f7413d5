package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"inboxflow/internal/model"
)

// Fixed offsets for the priorities not covered by per-user settings.
const (
	mediumOffset = 48 * time.Hour
	lowOffset    = 168 * time.Hour // one week
)

// Window is the suggested scheduling slot for a task.
type Window struct {
	SuggestedStart time.Time `json:"suggested_start"`
	SuggestedEnd   time.Time `json:"suggested_end"`
	AutoSchedule   bool      `json:"auto_schedule"`
	HasConflict    bool      `json:"has_conflict"`
}

// ConflictChecker reports whether any existing scheduled item overlaps the
// given window for the user.
type ConflictChecker interface {
	HasOverlap(ctx context.Context, userID int, start, end time.Time) (bool, error)
}

// Policy maps a task priority and the user's automation settings to a
// suggested time window and an auto-commit decision.
type Policy struct {
	conflicts ConflictChecker
	logger    *zap.Logger
	now       func() time.Time
}

func NewPolicy(conflicts ConflictChecker, logger *zap.Logger) *Policy {
	return &Policy{conflicts: conflicts, logger: logger, now: time.Now}
}

// NewPolicyAt pins the clock, for tests.
func NewPolicyAt(conflicts ConflictChecker, logger *zap.Logger, now func() time.Time) *Policy {
	return &Policy{conflicts: conflicts, logger: logger, now: now}
}

// Window computes the scheduling window for a priority under the user's
// settings. The conflict check is best effort: a failed or positive check is
// reported on the window and never blocks task creation.
func (p *Policy) Window(ctx context.Context, userID int, prio string, settings *model.AutomationSettings) Window {
	now := p.now()

	var offset time.Duration
	switch prio {
	case model.PriorityUrgent:
		offset = time.Duration(settings.TaskDefaults.SchedulingWindow.UrgentHours) * time.Hour
	case model.PriorityHigh:
		offset = time.Duration(settings.TaskDefaults.SchedulingWindow.Hours) * time.Hour
	case model.PriorityMedium:
		offset = mediumOffset
	default:
		offset = lowOffset
	}

	duration := time.Duration(settings.TaskDefaults.DefaultDuration) * time.Minute
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	start := now.Add(offset)
	w := Window{
		SuggestedStart: start,
		SuggestedEnd:   start.Add(duration),
	}

	// 只有 urgent/high 且两个自动调度开关都开启时才自动提交
	if prio == model.PriorityUrgent || prio == model.PriorityHigh {
		autoTasks := settings.AutoScheduleTasks != nil && *settings.AutoScheduleTasks
		autoHigh := settings.AutoScheduleHighPrio != nil && *settings.AutoScheduleHighPrio
		w.AutoSchedule = autoTasks && autoHigh
	}

	if p.conflicts != nil {
		overlap, err := p.conflicts.HasOverlap(ctx, userID, w.SuggestedStart, w.SuggestedEnd)
		if err != nil {
			// 冲突检查失败不阻塞任务创建，只记录
			if p.logger != nil {
				p.logger.Warn("Conflict check failed, continuing without it",
					zap.Int("user_id", userID),
					zap.Error(err),
				)
			}
		} else {
			w.HasConflict = overlap
		}
	}

	return w
}
