package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxflow/internal/model"
)

type fakeStore struct {
	rows map[int]*model.AutomationSettings
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int]*model.AutomationSettings)}
}

func (f *fakeStore) Get(ctx context.Context, userID int) (*model.AutomationSettings, error) {
	return f.rows[userID], nil
}

func (f *fakeStore) Upsert(ctx context.Context, userID int, s *model.AutomationSettings) error {
	f.rows[userID] = s
	return nil
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(v float64) *float64 { return &v }

func TestDefaultsAreConservative(t *testing.T) {
	d := Defaults()
	assert.True(t, d.IsEnabled())
	assert.False(t, d.AutoCreate(), "auto-creation must be opt-in")
	assert.Equal(t, 0.8, d.Threshold())
	assert.Positive(t, d.TaskDefaults.SchedulingWindow.UrgentHours)
	assert.LessOrEqual(t, d.TaskDefaults.SchedulingWindow.UrgentHours, d.TaskDefaults.SchedulingWindow.Hours)
}

func TestMergeStoredOverDefaults(t *testing.T) {
	stored := &model.AutomationSettings{
		AutoCreateTasks:     boolPtr(true),
		ConfidenceThreshold: floatPtr(0.4),
		ExcludedSenders:     []string{"spam@bad.com"},
	}

	merged := Merge(Defaults(), stored)

	assert.True(t, merged.AutoCreate())
	assert.Equal(t, 0.4, merged.Threshold())
	assert.Equal(t, []string{"spam@bad.com"}, merged.ExcludedSenders)
	// unset fields keep defaults
	assert.True(t, merged.IsEnabled())
	assert.Equal(t, 30, merged.TaskDefaults.DefaultDuration)
	assert.Equal(t, "work", merged.TaskDefaults.Category)
}

func TestMergeExplicitFalseWins(t *testing.T) {
	stored := &model.AutomationSettings{Enabled: boolPtr(false)}
	merged := Merge(Defaults(), stored)
	assert.False(t, merged.IsEnabled(), "explicit false must not fall back to the default true")
}

func TestMergePerCallOverrideWinsOverStored(t *testing.T) {
	stored := &model.AutomationSettings{ConfidenceThreshold: floatPtr(0.5)}
	override := &model.AutomationSettings{ConfidenceThreshold: floatPtr(0.9)}

	merged := Merge(Defaults(), stored, override)
	assert.Equal(t, 0.9, merged.Threshold())
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := Defaults()
	before := base.Threshold()

	_ = Merge(base, &model.AutomationSettings{ConfidenceThreshold: floatPtr(0.1)})
	assert.Equal(t, before, base.Threshold())
}

func TestMergeNestedWindow(t *testing.T) {
	stored := &model.AutomationSettings{
		TaskDefaults: model.TaskDefaults{
			SchedulingWindow: model.SchedulingWindow{UrgentHours: 2},
		},
	}

	merged := Merge(Defaults(), stored)
	assert.Equal(t, 2, merged.TaskDefaults.SchedulingWindow.UrgentHours)
	// sibling field untouched
	assert.Equal(t, Defaults().TaskDefaults.SchedulingWindow.Hours, merged.TaskDefaults.SchedulingWindow.Hours)
}

func TestServiceForUserMissingRowUsesDefaults(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	s, err := svc.ForUser(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, s.AutoCreate())
	assert.Equal(t, 0.8, s.Threshold())
}

func TestServiceUpdateRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil)

	_, err := svc.Update(context.Background(), 42, &model.AutomationSettings{AutoCreateTasks: boolPtr(true)})
	require.NoError(t, err)

	s, err := svc.ForUser(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, s.AutoCreate())
}

func TestServiceUpdateValidation(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	_, err := svc.Update(context.Background(), 1, &model.AutomationSettings{ConfidenceThreshold: floatPtr(1.5)})
	assert.Error(t, err)

	_, err = svc.Update(context.Background(), 1, nil)
	assert.Error(t, err)
}
