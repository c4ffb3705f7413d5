package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/model"
	"inboxflow/internal/priority"
	"inboxflow/internal/scheduler"
	"inboxflow/internal/settings"
)

// schedulable body: long enough for analysis and rich in scheduling signals.
const meetingBody = "Let's meet tomorrow at 2pm to discuss the deadline for the launch."

type fakeMessages struct {
	byID map[string]*model.InboundMessage
}

func (f *fakeMessages) Upsert(_ context.Context, _ int, m *model.InboundMessage) error {
	if f.byID == nil {
		f.byID = map[string]*model.InboundMessage{}
	}
	if _, ok := f.byID[m.ID]; !ok {
		f.byID[m.ID] = m
	}
	return nil
}

func (f *fakeMessages) FindByExternalID(_ context.Context, _ int, externalID string) (*model.InboundMessage, error) {
	m, ok := f.byID[externalID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m, nil
}

type fakeItems struct {
	items  []*model.WorkItem
	nextID int
}

func (f *fakeItems) Insert(_ context.Context, userID int, messageID string) (*model.WorkItem, bool, error) {
	for _, it := range f.items {
		if it.UserID == userID && it.MessageID == messageID {
			return nil, false, nil
		}
	}
	f.nextID++
	item := &model.WorkItem{
		ID:        f.nextID,
		UserID:    userID,
		MessageID: messageID,
		Status:    model.WorkItemPending,
		CreatedAt: time.Now(),
	}
	f.items = append(f.items, item)
	return item, true, nil
}

func (f *fakeItems) ClaimPending(_ context.Context, userID, limit int) ([]model.WorkItem, error) {
	var claimed []model.WorkItem
	for _, it := range f.items {
		if len(claimed) >= limit {
			break
		}
		if it.UserID == userID && it.Status == model.WorkItemPending {
			it.Status = model.WorkItemProcessing
			claimed = append(claimed, *it)
		}
	}
	return claimed, nil
}

func (f *fakeItems) MarkCompleted(_ context.Context, id int) error {
	return f.transition(id, model.WorkItemCompleted, "")
}

func (f *fakeItems) MarkFailed(_ context.Context, id int, errMsg string) error {
	return f.transition(id, model.WorkItemFailed, errMsg)
}

func (f *fakeItems) transition(id int, status, errMsg string) error {
	for _, it := range f.items {
		if it.ID == id {
			it.Status = status
			it.ErrorMessage = errMsg
			return nil
		}
	}
	return fmt.Errorf("work item %d not found", id)
}

func (f *fakeItems) ResetFailed(_ context.Context, userID, maxRetries int) (int, error) {
	n := 0
	for _, it := range f.items {
		if it.UserID == userID && it.Status == model.WorkItemFailed && it.RetryCount < maxRetries {
			it.Status = model.WorkItemPending
			it.RetryCount++
			n++
		}
	}
	return n, nil
}

func (f *fakeItems) CountByStatus(_ context.Context, userID int) (map[string]int, error) {
	counts := map[string]int{}
	for _, it := range f.items {
		if it.UserID == userID {
			counts[it.Status]++
		}
	}
	return counts, nil
}

func (f *fakeItems) UsersWithPending(_ context.Context) ([]int, error) {
	seen := map[int]bool{}
	var users []int
	for _, it := range f.items {
		if it.Status == model.WorkItemPending && !seen[it.UserID] {
			seen[it.UserID] = true
			users = append(users, it.UserID)
		}
	}
	return users, nil
}

func (f *fakeItems) byID(id int) *model.WorkItem {
	for _, it := range f.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

type fakeSuggestions struct {
	rows   []*model.Suggestion
	nextID int
}

func (f *fakeSuggestions) Insert(_ context.Context, s *model.Suggestion) (int, error) {
	f.nextID++
	cp := *s
	cp.ID = f.nextID
	f.rows = append(f.rows, &cp)
	return cp.ID, nil
}

func (f *fakeSuggestions) FindByID(_ context.Context, userID, id int) (*model.Suggestion, error) {
	for _, s := range f.rows {
		if s.UserID == userID && s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSuggestions) MarkConverted(_ context.Context, id, taskID int, status string) (bool, error) {
	for _, s := range f.rows {
		if s.ID == id && s.Status == model.SuggestionPending {
			s.Status = status
			s.TaskID = &taskID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSuggestions) MarkRejected(_ context.Context, userID, id int) (bool, error) {
	for _, s := range f.rows {
		if s.UserID == userID && s.ID == id && s.Status == model.SuggestionPending {
			s.Status = model.SuggestionRejected
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSuggestions) CountByStatus(_ context.Context, userID int) (map[string]int, error) {
	counts := map[string]int{}
	for _, s := range f.rows {
		if s.UserID == userID {
			counts[s.Status]++
		}
	}
	return counts, nil
}

type fakeTasks struct {
	rows   []*model.Task
	nextID int
	err    error
}

func (f *fakeTasks) Insert(_ context.Context, t *model.Task) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	cp := *t
	cp.ID = f.nextID
	f.rows = append(f.rows, &cp)
	return cp.ID, nil
}

func (f *fakeTasks) CountByStatus(_ context.Context, userID int) (map[string]int, error) {
	counts := map[string]int{}
	for _, t := range f.rows {
		if t.UserID == userID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

type fakeSettings struct {
	prefs *model.AutomationSettings
}

func (f *fakeSettings) ForUser(context.Context, int) (*model.AutomationSettings, error) {
	if f.prefs != nil {
		return f.prefs, nil
	}
	return settings.Defaults(), nil
}

type fakeAnalyzer struct {
	byMessage map[string][]model.TaskExtraction
	errFor    map[string]error
	calls     int
}

func (f *fakeAnalyzer) ExtractTasks(_ context.Context, msg *model.InboundMessage) ([]model.TaskExtraction, error) {
	f.calls++
	if err := f.errFor[msg.ID]; err != nil {
		return nil, err
	}
	return f.byMessage[msg.ID], nil
}

type fakeEvents struct {
	keys []string
}

func (f *fakeEvents) Add(_ context.Context, routingKey string, _ any) error {
	f.keys = append(f.keys, routingKey)
	return nil
}

type fixture struct {
	queue       *Queue
	messages    *fakeMessages
	items       *fakeItems
	suggestions *fakeSuggestions
	tasks       *fakeTasks
	analyzer    *fakeAnalyzer
	events      *fakeEvents
	settings    *fakeSettings
}

func newFixture() *fixture {
	f := &fixture{
		messages:    &fakeMessages{},
		items:       &fakeItems{},
		suggestions: &fakeSuggestions{},
		tasks:       &fakeTasks{},
		analyzer:    &fakeAnalyzer{byMessage: map[string][]model.TaskExtraction{}, errFor: map[string]error{}},
		events:      &fakeEvents{},
		settings:    &fakeSettings{},
	}
	logger := zap.NewNop()
	f.queue = New(Deps{
		Messages:    f.messages,
		Items:       f.items,
		Suggestions: f.suggestions,
		Tasks:       f.tasks,
		Settings:    f.settings,
		Analyzer:    f.analyzer,
		Engine:      priority.NewEngine(logger),
		Policy:      scheduler.NewPolicy(nil, logger),
		Events:      f.events,
		Config:      config.PipelineConfig{BatchSize: 10, MaxRetries: 3},
		Logger:      logger,
	})
	return f
}

func meetingMessage(id string) *model.InboundMessage {
	return &model.InboundMessage{
		ID:          id,
		Subject:     "Project sync",
		FromAddress: "alice@example.com",
		To:          "me@example.com",
		Body:        meetingBody,
		ReceivedAt:  time.Now().Add(-time.Hour),
	}
}

func extraction(confidence float64) model.TaskExtraction {
	return model.TaskExtraction{
		Type:              "task",
		Title:             "Prepare launch review",
		Description:       "Collect status before the sync",
		Priority:          "high",
		Confidence:        confidence,
		Category:          "work",
		EstimatedDuration: 45,
		EnergyLevel:       "medium",
	}
}

func autoCreateSettings(threshold float64) *model.AutomationSettings {
	prefs := settings.Defaults()
	yes := true
	prefs.AutoCreateTasks = &yes
	prefs.ConfidenceThreshold = &threshold
	return prefs
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture()
	msg := meetingMessage("m-1")

	item, inserted, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotNil(t, item)

	again, inserted, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Nil(t, again)
	assert.Len(t, f.items.items, 1)
}

func TestEnqueueRejectsMessageWithoutID(t *testing.T) {
	f := newFixture()
	_, _, err := f.queue.Enqueue(context.Background(), 1, &model.InboundMessage{})
	assert.Error(t, err)
}

func TestDrainAutoCreatesAboveThreshold(t *testing.T) {
	f := newFixture()
	f.settings.prefs = autoCreateSettings(0.8)
	msg := meetingMessage("m-1")
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.9)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.TasksCreated)
	assert.Equal(t, 0, res.SuggestionsCreated)
	assert.Equal(t, 0, res.Errors)

	require.Len(t, f.tasks.rows, 1)
	task := f.tasks.rows[0]
	assert.True(t, task.AIGenerated)
	assert.Equal(t, "m-1", task.SourceMessageID)
	assert.Equal(t, 0.9, task.ConfidenceScore)

	require.Len(t, f.suggestions.rows, 1)
	assert.Equal(t, model.SuggestionAutoConverted, f.suggestions.rows[0].Status)
	require.NotNil(t, f.suggestions.rows[0].TaskID)
	assert.Equal(t, task.ID, *f.suggestions.rows[0].TaskID)

	assert.Contains(t, f.events.keys, "task.created")
}

func TestDrainLeavesSuggestionBelowThreshold(t *testing.T) {
	f := newFixture()
	f.settings.prefs = autoCreateSettings(0.8)
	msg := meetingMessage("m-1")
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.79)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.TasksCreated)
	assert.Equal(t, 1, res.SuggestionsCreated)

	assert.Empty(t, f.tasks.rows)
	require.Len(t, f.suggestions.rows, 1)
	assert.Equal(t, model.SuggestionPending, f.suggestions.rows[0].Status)
	assert.Contains(t, f.events.keys, "suggestion.created")
}

func TestDrainWithoutAutoCreateKeepsSuggestionPending(t *testing.T) {
	f := newFixture()
	// defaults: autoCreateTasks off, even a confident extraction stays a suggestion
	msg := meetingMessage("m-1")
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.95)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TasksCreated)
	assert.Equal(t, 1, res.SuggestionsCreated)
	assert.Empty(t, f.tasks.rows)
}

func TestDrainIsolatesItemFailures(t *testing.T) {
	f := newFixture()
	f.settings.prefs = autoCreateSettings(0.8)
	good := meetingMessage("m-good")
	bad := meetingMessage("m-bad")
	f.analyzer.byMessage["m-good"] = []model.TaskExtraction{extraction(0.9)}
	f.analyzer.errFor["m-bad"] = errors.New("analyzer unavailable")

	_, _, err := f.queue.Enqueue(context.Background(), 1, bad)
	require.NoError(t, err)
	_, _, err = f.queue.Enqueue(context.Background(), 1, good)
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.TasksCreated)

	failed := f.items.byID(1)
	require.NotNil(t, failed)
	assert.Equal(t, model.WorkItemFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "analyzer unavailable")

	completed := f.items.byID(2)
	require.NotNil(t, completed)
	assert.Equal(t, model.WorkItemCompleted, completed.Status)
}

func TestDrainFailsItemWhenSourceMessageMissing(t *testing.T) {
	f := newFixture()
	_, inserted, err := f.items.Insert(context.Background(), 1, "ghost")
	require.NoError(t, err)
	require.True(t, inserted)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, model.WorkItemFailed, f.items.byID(1).Status)
	assert.Contains(t, f.items.byID(1).ErrorMessage, "not found")
}

func TestDrainSkipsLowSignalMessagesWithoutAnalyzerCall(t *testing.T) {
	f := newFixture()
	msg := &model.InboundMessage{
		ID:          "m-ad",
		Subject:     "Weekly newsletter",
		FromAddress: "no-reply@shop.example.com",
		Body:        "Unsubscribe anytime. Big discount sale this weekend only, shop our new arrivals now!",
		ReceivedAt:  time.Now(),
	}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, f.analyzer.calls)
	assert.Empty(t, f.suggestions.rows)
	assert.Equal(t, model.WorkItemCompleted, f.items.byID(1).Status)
}

func TestDrainRespectsDisabledPipeline(t *testing.T) {
	f := newFixture()
	no := false
	prefs := settings.Defaults()
	prefs.Enabled = &no
	f.settings.prefs = prefs

	_, _, err := f.queue.Enqueue(context.Background(), 1, meetingMessage("m-1"))
	require.NoError(t, err)

	res, err := f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, model.WorkItemPending, f.items.byID(1).Status)
}

func TestDrainHonorsMaxItems(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		_, _, err := f.queue.Enqueue(context.Background(), 1, meetingMessage(fmt.Sprintf("m-%d", i)))
		require.NoError(t, err)
	}

	res, err := f.queue.DrainPending(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	counts, err := f.items.CountByStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.WorkItemPending])
}

func TestRetryFailedRespectsCeiling(t *testing.T) {
	f := newFixture()
	f.analyzer.errFor["m-1"] = errors.New("analyzer unavailable")
	_, _, err := f.queue.Enqueue(context.Background(), 1, meetingMessage("m-1"))
	require.NoError(t, err)

	// fail, retry, fail again until the ceiling is reached
	for i := 0; i < 3; i++ {
		_, err := f.queue.DrainPending(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.Equal(t, model.WorkItemFailed, f.items.byID(1).Status)

		n, err := f.queue.RetryFailed(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	_, err = f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, model.WorkItemFailed, f.items.byID(1).Status)

	// retry count exhausted: the item stays failed permanently
	n, err := f.queue.RetryFailed(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.WorkItemFailed, f.items.byID(1).Status)
}

func TestApproveSuggestionCreatesTask(t *testing.T) {
	f := newFixture()
	msg := meetingMessage("m-1")
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.7)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)
	_, err = f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, f.suggestions.rows, 1)

	task, err := f.queue.ApproveSuggestion(context.Background(), 1, f.suggestions.rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Prepare launch review", task.Title)
	assert.Equal(t, "m-1", task.SourceMessageID)
	assert.True(t, task.AIGenerated)
	assert.Equal(t, model.SuggestionConverted, f.suggestions.rows[0].Status)

	// a resolved suggestion cannot be approved again
	_, err = f.queue.ApproveSuggestion(context.Background(), 1, f.suggestions.rows[0].ID)
	assert.Error(t, err)
}

func TestRejectSuggestion(t *testing.T) {
	f := newFixture()
	msg := meetingMessage("m-1")
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.7)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, msg)
	require.NoError(t, err)
	_, err = f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)

	require.NoError(t, f.queue.RejectSuggestion(context.Background(), 1, f.suggestions.rows[0].ID))
	assert.Equal(t, model.SuggestionRejected, f.suggestions.rows[0].Status)

	assert.Error(t, f.queue.RejectSuggestion(context.Background(), 1, f.suggestions.rows[0].ID))
}

func TestStatsAggregatesCounters(t *testing.T) {
	f := newFixture()
	f.settings.prefs = autoCreateSettings(0.8)
	f.analyzer.byMessage["m-1"] = []model.TaskExtraction{extraction(0.9), extraction(0.5)}

	_, _, err := f.queue.Enqueue(context.Background(), 1, meetingMessage("m-1"))
	require.NoError(t, err)
	_, err = f.queue.DrainPending(context.Background(), 1, 10)
	require.NoError(t, err)

	stats, err := f.queue.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queue[model.WorkItemCompleted])
	assert.Equal(t, 1, stats.Suggestions[model.SuggestionAutoConverted])
	assert.Equal(t, 1, stats.Suggestions[model.SuggestionPending])
	assert.Equal(t, 1, len(f.tasks.rows))
}

func TestUsersWithPending(t *testing.T) {
	f := newFixture()
	_, _, err := f.queue.Enqueue(context.Background(), 1, meetingMessage("m-1"))
	require.NoError(t, err)
	_, _, err = f.queue.Enqueue(context.Background(), 2, meetingMessage("m-2"))
	require.NoError(t, err)

	users, err := f.queue.UsersWithPending(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, users)
}
