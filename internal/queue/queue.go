package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"inboxflow/config"
	mqcontracts "inboxflow/contracts/mq"
	"inboxflow/internal/analyzer"
	"inboxflow/internal/classifier"
	"inboxflow/internal/model"
	"inboxflow/internal/priority"
	"inboxflow/internal/scheduler"
	"inboxflow/pkg/metrics"
)

// MessageStore persists fetched messages.
type MessageStore interface {
	Upsert(ctx context.Context, userID int, m *model.InboundMessage) error
	FindByExternalID(ctx context.Context, userID int, externalID string) (*model.InboundMessage, error)
}

// WorkItemStore drives the work item state machine.
type WorkItemStore interface {
	Insert(ctx context.Context, userID int, messageID string) (*model.WorkItem, bool, error)
	ClaimPending(ctx context.Context, userID, limit int) ([]model.WorkItem, error)
	MarkCompleted(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, id int, errMsg string) error
	ResetFailed(ctx context.Context, userID, maxRetries int) (int, error)
	CountByStatus(ctx context.Context, userID int) (map[string]int, error)
	UsersWithPending(ctx context.Context) ([]int, error)
}

// SuggestionStore persists proposed tasks.
type SuggestionStore interface {
	Insert(ctx context.Context, s *model.Suggestion) (int, error)
	FindByID(ctx context.Context, userID, id int) (*model.Suggestion, error)
	MarkConverted(ctx context.Context, id, taskID int, status string) (bool, error)
	MarkRejected(ctx context.Context, userID, id int) (bool, error)
	CountByStatus(ctx context.Context, userID int) (map[string]int, error)
}

// TaskStore persists created tasks.
type TaskStore interface {
	Insert(ctx context.Context, t *model.Task) (int, error)
	CountByStatus(ctx context.Context, userID int) (map[string]int, error)
}

// SettingsSource resolves effective per-user automation settings.
type SettingsSource interface {
	ForUser(ctx context.Context, userID int) (*model.AutomationSettings, error)
}

// EventSink records events for asynchronous publication. Satisfied by the
// outbox repository.
type EventSink interface {
	Add(ctx context.Context, routingKey string, payload any) error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed          int `json:"processed"`
	TasksCreated       int `json:"tasks_created"`
	SuggestionsCreated int `json:"suggestions_created"`
	Errors             int `json:"errors"`
}

// Stats are the queue counters exposed to dashboards.
type Stats struct {
	Queue       map[string]int `json:"queue"`
	Suggestions map[string]int `json:"suggestions"`
	Tasks       map[string]int `json:"tasks"`
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Messages    MessageStore
	Items       WorkItemStore
	Suggestions SuggestionStore
	Tasks       TaskStore
	Settings    SettingsSource
	Analyzer    analyzer.Analyzer
	Engine      *priority.Engine
	Policy      *scheduler.Policy
	Events      EventSink
	Config      config.PipelineConfig
	Logger      *zap.Logger
}

// Queue orchestrates the message-to-task pipeline: enqueue, claim, classify,
// analyze, suggest or auto-create, schedule.
type Queue struct {
	deps           Deps
	analyzeTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func New(deps Deps) *Queue {
	return &Queue{
		deps:           deps,
		analyzeTimeout: 30 * time.Second,
		logger:         deps.Logger,
		now:            time.Now,
	}
}

// WithAnalyzeTimeout bounds each AI analyzer call.
func (q *Queue) WithAnalyzeTimeout(d time.Duration) *Queue {
	q.analyzeTimeout = d
	return q
}

// WithClock pins the clock, for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue copies a fetched message into the store and creates a pending work
// item for it. Returns inserted=false when the message was already enqueued
// for this user; re-enqueueing is a safe no-op.
func (q *Queue) Enqueue(ctx context.Context, userID int, msg *model.InboundMessage) (*model.WorkItem, bool, error) {
	if msg == nil || msg.ID == "" {
		return nil, false, fmt.Errorf("message without external id cannot be enqueued")
	}

	if err := q.deps.Messages.Upsert(ctx, userID, msg); err != nil {
		return nil, false, err
	}

	item, inserted, err := q.deps.Items.Insert(ctx, userID, msg.ID)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		q.logger.Debug("Work item already exists, skipping",
			zap.Int("user_id", userID),
			zap.String("message_id", msg.ID),
		)
		return nil, false, nil
	}

	q.logger.Info("Work item enqueued",
		zap.Int("work_item_id", item.ID),
		zap.Int("user_id", userID),
		zap.String("message_id", msg.ID),
	)
	return item, true, nil
}

// DrainPending claims up to maxItems pending work items in creation order
// and processes each one. One item's failure never aborts the batch: the
// item is marked failed with its error and the drain moves on.
func (q *Queue) DrainPending(ctx context.Context, userID, maxItems int) (DrainResult, error) {
	start := time.Now()
	defer func() { metrics.RecordDrainLatency(time.Since(start)) }()

	var res DrainResult

	prefs, err := q.deps.Settings.ForUser(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("failed to resolve settings for user %d: %w", userID, err)
	}
	if !prefs.IsEnabled() {
		q.logger.Debug("Pipeline disabled for user, skipping drain", zap.Int("user_id", userID))
		return res, nil
	}

	if maxItems <= 0 {
		maxItems = q.deps.Config.BatchSize
	}

	items, err := q.deps.Items.ClaimPending(ctx, userID, maxItems)
	if err != nil {
		return res, fmt.Errorf("failed to claim pending work items: %w", err)
	}

	for i := range items {
		item := &items[i]
		if err := q.processItem(ctx, userID, item, prefs, &res); err != nil {
			res.Errors++
			metrics.IncrementWorkItemProcessed(model.WorkItemFailed)
			q.logger.Warn("Work item failed",
				zap.Int("work_item_id", item.ID),
				zap.String("message_id", item.MessageID),
				zap.Error(err),
			)
			if mErr := q.deps.Items.MarkFailed(ctx, item.ID, err.Error()); mErr != nil {
				q.logger.Error("Failed to record work item failure",
					zap.Int("work_item_id", item.ID),
					zap.Error(mErr),
				)
			}
			if notifyEnabled(prefs.Notifications.OnProcessingFailed) {
				q.publish(ctx, "pipeline.failed", mqcontracts.ProcessingFailedPayload{
					WorkItemID: item.ID,
					UserID:     userID,
					MessageID:  item.MessageID,
					Error:      err.Error(),
				})
			}
			continue
		}

		if err := q.deps.Items.MarkCompleted(ctx, item.ID); err != nil {
			q.logger.Error("Failed to mark work item completed",
				zap.Int("work_item_id", item.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementWorkItemProcessed(model.WorkItemCompleted)
		res.Processed++
	}

	return res, nil
}

// processItem runs one work item through classify → analyze → materialize.
func (q *Queue) processItem(ctx context.Context, userID int, item *model.WorkItem, prefs *model.AutomationSettings, res *DrainResult) error {
	msg, err := q.deps.Messages.FindByExternalID(ctx, userID, item.MessageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("source message %s not found", item.MessageID)
	}
	if err != nil {
		return fmt.Errorf("failed to load source message %s: %w", item.MessageID, err)
	}

	cl := classifier.NewWithSettings(prefs).Classify(msg, msg.To, q.now())
	if !cl.ShouldAnalyzeWithAI {
		q.logger.Debug("Message skipped by classifier",
			zap.Int("work_item_id", item.ID),
			zap.String("category", cl.Category),
			zap.String("importance", cl.ImportanceLevel),
		)
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, q.analyzeTimeout)
	defer cancel()

	extractions, err := q.deps.Analyzer.ExtractTasks(actx, msg)
	if err != nil {
		return fmt.Errorf("content analysis failed: %w", err)
	}

	for _, ext := range extractions {
		if err := q.materialize(ctx, userID, item, msg, cl, ext, prefs, res); err != nil {
			return err
		}
	}
	return nil
}

// materialize turns one extraction into a pending suggestion, auto-converting
// it into a task when the user allows it and the confidence clears their
// threshold.
func (q *Queue) materialize(ctx context.Context, userID int, item *model.WorkItem, msg *model.InboundMessage, cl model.Classification, ext model.TaskExtraction, prefs *model.AutomationSettings, res *DrainResult) error {
	sugg := &model.Suggestion{
		UserID:      userID,
		WorkItemID:  item.ID,
		MessageID:   msg.ID,
		Title:       ext.Title,
		Description: ext.Description,
		Status:      model.SuggestionPending,
		Confidence:  ext.Confidence,
		Extraction:  ext,
	}
	suggID, err := q.deps.Suggestions.Insert(ctx, sugg)
	if err != nil {
		return fmt.Errorf("failed to store suggestion: %w", err)
	}

	if ext.Confidence >= prefs.Threshold() && prefs.AutoCreate() {
		scored := q.deps.Engine.Score(factorsFrom(msg, cl, ext))
		taskID, task, err := q.createTask(ctx, userID, msg, ext, scored, prefs, suggID)
		if err != nil {
			return err
		}
		if _, err := q.deps.Suggestions.MarkConverted(ctx, suggID, taskID, model.SuggestionAutoConverted); err != nil {
			return fmt.Errorf("failed to link suggestion %d to task %d: %w", suggID, taskID, err)
		}

		if notifyEnabled(prefs.Notifications.OnTaskCreated) {
			q.publish(ctx, "task.created", mqcontracts.TaskCreatedPayload{
				TaskID:     taskID,
				UserID:     userID,
				WorkItemID: item.ID,
				Title:      task.Title,
				Priority:   task.Priority,
				DueDate:    deref(task.DueDate),
				Scheduled:  task.Status == model.TaskScheduled,
			})
		}
		metrics.IncrementTaskCreated("auto")
		res.TasksCreated++

		q.logger.Info("Task auto-created from extraction",
			zap.Int("task_id", taskID),
			zap.Int("work_item_id", item.ID),
			zap.Float64("confidence", ext.Confidence),
			zap.String("priority", task.Priority),
		)
		return nil
	}

	if notifyEnabled(prefs.Notifications.OnSuggestionCreated) {
		q.publish(ctx, "suggestion.created", mqcontracts.SuggestionCreatedPayload{
			SuggestionID: suggID,
			UserID:       userID,
			WorkItemID:   item.ID,
			Title:        ext.Title,
			Confidence:   ext.Confidence,
		})
	}
	res.SuggestionsCreated++
	return nil
}

// createTask builds and stores a task from an extraction and its score,
// applying the scheduling policy.
func (q *Queue) createTask(ctx context.Context, userID int, msg *model.InboundMessage, ext model.TaskExtraction, scored priority.Result, prefs *model.AutomationSettings, suggID int) (int, *model.Task, error) {
	window := q.deps.Policy.Window(ctx, userID, scored.FinalPriority, prefs)

	task := &model.Task{
		UserID:            userID,
		Title:             ext.Title,
		Description:       ext.Description,
		Category:          categoryOf(ext, prefs),
		Priority:          scored.FinalPriority,
		PriorityScore:     scored.PriorityScore,
		EstimatedDuration: durationOf(ext, prefs),
		DueDate:           dueDateOf(ext),
		Status:            model.TaskPending,
		AIGenerated:       true,
		ConfidenceScore:   ext.Confidence,
		SourceMessageID:   msg.ID,
		SourceSuggestion:  &suggID,
		Tags:              ext.SuggestedTags,
		EnergyLevel:       ext.EnergyLevel,
	}
	if window.AutoSchedule && !window.HasConflict {
		task.Status = model.TaskScheduled
		task.ScheduledStart = &window.SuggestedStart
		task.ScheduledEnd = &window.SuggestedEnd
	}

	taskID, err := q.deps.Tasks.Insert(ctx, task)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to store task: %w", err)
	}
	task.ID = taskID
	return taskID, task, nil
}

// ApproveSuggestion converts a pending suggestion into a task on the user's
// request. Approving twice is rejected by the status guard.
func (q *Queue) ApproveSuggestion(ctx context.Context, userID, suggestionID int) (*model.Task, error) {
	sugg, err := q.deps.Suggestions.FindByID(ctx, userID, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion %d: %w", suggestionID, err)
	}
	if sugg.Status != model.SuggestionPending {
		return nil, fmt.Errorf("suggestion %d is already %s", suggestionID, sugg.Status)
	}

	prefs, err := q.deps.Settings.ForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings: %w", err)
	}

	ext := sugg.Extraction
	scored := q.deps.Engine.Score(priority.PriorityFactors{
		Title:             ext.Title,
		Description:       ext.Description,
		Category:          ext.Category,
		DueDate:           dueDateOf(ext),
		CreatedAt:         sugg.CreatedAt,
		EstimatedDuration: durationOf(ext, prefs),
		StakeholderCount:  len(ext.Participants),
		AIConfidence:      ext.Confidence,
		AIUrgency:         ext.Priority,
	})

	msg := &model.InboundMessage{ID: sugg.MessageID}
	taskID, task, err := q.createTask(ctx, userID, msg, ext, scored, prefs, sugg.ID)
	if err != nil {
		return nil, err
	}

	converted, err := q.deps.Suggestions.MarkConverted(ctx, sugg.ID, taskID, model.SuggestionConverted)
	if err != nil {
		return nil, fmt.Errorf("failed to mark suggestion %d converted: %w", sugg.ID, err)
	}
	if !converted {
		q.logger.Warn("Suggestion resolved concurrently", zap.Int("suggestion_id", sugg.ID))
	}

	if notifyEnabled(prefs.Notifications.OnTaskCreated) {
		q.publish(ctx, "task.created", mqcontracts.TaskCreatedPayload{
			TaskID:     taskID,
			UserID:     userID,
			WorkItemID: sugg.WorkItemID,
			Title:      task.Title,
			Priority:   task.Priority,
			DueDate:    deref(task.DueDate),
			Scheduled:  task.Status == model.TaskScheduled,
		})
	}
	metrics.IncrementTaskCreated("approved")
	return task, nil
}

// RejectSuggestion dismisses a pending suggestion.
func (q *Queue) RejectSuggestion(ctx context.Context, userID, suggestionID int) error {
	rejected, err := q.deps.Suggestions.MarkRejected(ctx, userID, suggestionID)
	if err != nil {
		return err
	}
	if !rejected {
		return fmt.Errorf("suggestion %d is not pending", suggestionID)
	}
	return nil
}

// RetryFailed moves failed items still under the retry ceiling back to
// pending. Items that exhausted their retries stay failed permanently.
func (q *Queue) RetryFailed(ctx context.Context, userID int) (int, error) {
	n, err := q.deps.Items.ResetFailed(ctx, userID, q.deps.Config.MaxRetries)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("Failed work items reset to pending",
			zap.Int("user_id", userID),
			zap.Int("count", n),
		)
	}
	return n, nil
}

// Stats returns the per-user queue, suggestion and task counters.
func (q *Queue) Stats(ctx context.Context, userID int) (Stats, error) {
	queue, err := q.deps.Items.CountByStatus(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	suggestions, err := q.deps.Suggestions.CountByStatus(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	tasks, err := q.deps.Tasks.CountByStatus(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Queue: queue, Suggestions: suggestions, Tasks: tasks}, nil
}

// UsersWithPending lists users that have pending work, for the worker's
// periodic drain.
func (q *Queue) UsersWithPending(ctx context.Context) ([]int, error) {
	return q.deps.Items.UsersWithPending(ctx)
}

// publish records an event for the outbox dispatcher. Event delivery is
// best effort from the pipeline's point of view; a failed write is logged
// and never fails the work item.
func (q *Queue) publish(ctx context.Context, routingKey string, payload any) {
	if q.deps.Events == nil {
		return
	}
	if err := q.deps.Events.Add(ctx, routingKey, payload); err != nil {
		q.logger.Error("Failed to record outbound event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

// factorsFrom maps a message, its classification and one extraction onto the
// priority engine's inputs.
func factorsFrom(msg *model.InboundMessage, cl model.Classification, ext model.TaskExtraction) priority.PriorityFactors {
	return priority.PriorityFactors{
		Title:             ext.Title,
		Description:       ext.Description,
		Category:          ext.Category,
		DueDate:           dueDateOf(ext),
		CreatedAt:         msg.ReceivedAt,
		EstimatedDuration: ext.EstimatedDuration,
		SenderImportance:  senderImportance(cl.ImportanceLevel),
		EmailType:         cl.Category,
		StakeholderCount:  len(ext.Participants),
		AIConfidence:      ext.Confidence,
		AIUrgency:         ext.Priority,
	}
}

func senderImportance(level string) int {
	switch level {
	case model.ImportanceHigh:
		return 4
	case model.ImportanceLow:
		return 1
	default:
		return 2
	}
}

func categoryOf(ext model.TaskExtraction, prefs *model.AutomationSettings) string {
	if ext.Category != "" {
		return ext.Category
	}
	return prefs.TaskDefaults.Category
}

func durationOf(ext model.TaskExtraction, prefs *model.AutomationSettings) int {
	if ext.EstimatedDuration > 0 {
		return ext.EstimatedDuration
	}
	if ext.Duration > 0 {
		return ext.Duration
	}
	return prefs.TaskDefaults.DefaultDuration
}

func dueDateOf(ext model.TaskExtraction) *time.Time {
	if ext.SuggestedDueDate != nil {
		return ext.SuggestedDueDate
	}
	return ext.SuggestedDateTime
}

func notifyEnabled(flag *bool) bool {
	return flag == nil || *flag
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
