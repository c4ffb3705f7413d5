package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "inboxflow/contracts/mq"
	"inboxflow/internal/model"
	"inboxflow/internal/settings"
)

type fakeEnqueuer struct {
	enqueued []*model.InboundMessage
	userIDs  []int
	err      error
	nextID   int
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, userID int, msg *model.InboundMessage) (*model.WorkItem, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	for _, m := range f.enqueued {
		if m.ID == msg.ID {
			return nil, false, nil
		}
	}
	f.enqueued = append(f.enqueued, msg)
	f.userIDs = append(f.userIDs, userID)
	f.nextID++
	return &model.WorkItem{ID: f.nextID, UserID: userID, MessageID: msg.ID}, true, nil
}

type fakeSettings struct {
	prefs *model.AutomationSettings
	err   error
}

func (f *fakeSettings) ForUser(context.Context, int) (*model.AutomationSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.prefs != nil {
		return f.prefs, nil
	}
	return settings.Defaults(), nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	full := handler + ":" + key
	if f.seen[full] {
		return false
	}
	f.seen[full] = true
	return true
}

func payload(messageID string, userID int) json.RawMessage {
	raw, _ := json.Marshal(mqcontracts.EmailReceivedPayload{
		MessageID:   messageID,
		UserID:      userID,
		Subject:     "Quarterly review",
		FromAddress: "boss@corp.example.com",
		Body:        "Can we schedule the quarterly review meeting for Friday?",
		ReceivedAt:  time.Now(),
	})
	return raw
}

func newHandler(q *fakeEnqueuer, s *fakeSettings) *EmailReceivedHandler {
	return NewEmailReceivedHandler(q, s, &fakeDeduper{}, zap.NewNop())
}

func TestHandleEnqueuesMessage(t *testing.T) {
	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{})

	err := h.Handle(context.Background(), payload("m-1", 7))
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "m-1", q.enqueued[0].ID)
	assert.Equal(t, 7, q.userIDs[0])
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{})

	// a poison message must be acked, not redelivered forever
	err := h.Handle(context.Background(), json.RawMessage(`{not json`))
	assert.NoError(t, err)
	assert.Empty(t, q.enqueued)
}

func TestHandleDropsPayloadWithoutIDs(t *testing.T) {
	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{})

	err := h.Handle(context.Background(), payload("", 7))
	assert.NoError(t, err)

	err = h.Handle(context.Background(), payload("m-1", 0))
	assert.NoError(t, err)
	assert.Empty(t, q.enqueued)
}

func TestHandleDeduplicatesRedelivery(t *testing.T) {
	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{})

	require.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	require.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	assert.Len(t, q.enqueued, 1)
}

func TestHandleSkipsDisabledUser(t *testing.T) {
	no := false
	prefs := settings.Defaults()
	prefs.Enabled = &no

	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{prefs: prefs})

	require.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	assert.Empty(t, q.enqueued)
}

func TestHandleFiltersExcludedSender(t *testing.T) {
	prefs := settings.Defaults()
	prefs.ExcludedSenders = []string{"corp.example.com"}

	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{prefs: prefs})

	require.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	assert.Empty(t, q.enqueued)
}

func TestHandleFiltersKeyword(t *testing.T) {
	prefs := settings.Defaults()
	prefs.KeywordFilters = []string{"quarterly review"}

	q := &fakeEnqueuer{}
	h := newHandler(q, &fakeSettings{prefs: prefs})

	require.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	assert.Empty(t, q.enqueued)
}

type fakeRetryCounter struct {
	counts map[string]int64
}

func (f *fakeRetryCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRetryCounter) Reset(_ context.Context, key string) error {
	delete(f.counts, key)
	return nil
}

type fakeDLQ struct {
	parked []string
}

func (f *fakeDLQ) PublishToDLQ(_ string, _ []byte, originalError string) error {
	f.parked = append(f.parked, originalError)
	return nil
}

func TestHandleParksExhaustedDeliveriesOnDLQ(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("db down")}
	dlq := &fakeDLQ{}
	h := NewEmailReceivedHandler(q, &fakeSettings{}, nil, zap.NewNop()).
		WithRetryTracking(&fakeRetryCounter{}, dlq)

	// nack/requeue until the ceiling, then park and ack
	for i := 0; i < maxDeliveries; i++ {
		assert.Error(t, h.Handle(context.Background(), payload("m-1", 7)))
	}
	assert.NoError(t, h.Handle(context.Background(), payload("m-1", 7)))
	require.Len(t, dlq.parked, 1)
	assert.Contains(t, dlq.parked[0], "db down")
}

func TestHandleReturnsErrorOnTransientFailures(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("db down")}
	h := newHandler(q, &fakeSettings{})
	assert.Error(t, h.Handle(context.Background(), payload("m-1", 7)))

	h = newHandler(&fakeEnqueuer{}, &fakeSettings{err: errors.New("db down")})
	assert.Error(t, h.Handle(context.Background(), payload("m-2", 7)))
}
