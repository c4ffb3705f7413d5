package mqhandler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	mqcontracts "inboxflow/contracts/mq"
	"inboxflow/internal/model"
)

// Enqueuer admits a message into the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID int, msg *model.InboundMessage) (*model.WorkItem, bool, error)
}

// SettingsSource resolves effective per-user automation settings.
type SettingsSource interface {
	ForUser(ctx context.Context, userID int) (*model.AutomationSettings, error)
}

// Deduper filters redelivered events.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, messageID string) bool
}

// RetryCounter tracks how often a delivery has failed, so a persistently
// failing message is eventually parked instead of requeued forever.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetterSink parks deliveries that exhausted their redeliveries.
type DeadLetterSink interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// maxDeliveries bounds broker redeliveries per message before the DLQ.
const maxDeliveries = 5

type EmailReceivedHandler struct {
	queue      Enqueuer
	settings   SettingsSource
	deduper    Deduper
	retries    RetryCounter
	deadLetter DeadLetterSink
	logger     *zap.Logger
}

func NewEmailReceivedHandler(queue Enqueuer, settings SettingsSource, deduper Deduper, logger *zap.Logger) *EmailReceivedHandler {
	return &EmailReceivedHandler{
		queue:    queue,
		settings: settings,
		deduper:  deduper,
		logger:   logger,
	}
}

// WithRetryTracking bounds redeliveries and parks exhausted messages on the
// dead letter exchange.
func (h *EmailReceivedHandler) WithRetryTracking(retries RetryCounter, deadLetter DeadLetterSink) *EmailReceivedHandler {
	h.retries = retries
	h.deadLetter = deadLetter
	return h
}

// Handle admits one email.received event into the pipeline. A nil return
// acks the delivery; an error nacks it for redelivery, so only transient
// failures may return an error.
func (h *EmailReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// 格式错误的消息重投也不会成功，直接丢弃
		h.logger.Error("Failed to unmarshal EmailReceivedPayload, dropping", zap.Error(err))
		return nil
	}

	if p.MessageID == "" || p.UserID <= 0 {
		h.logger.Error("Invalid email.received payload, dropping",
			zap.String("message_id", p.MessageID),
			zap.Int("user_id", p.UserID),
		)
		return nil
	}

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "email.received", dedupKey(p)) {
		h.logger.Debug("Duplicate email.received event, skipping",
			zap.String("message_id", p.MessageID),
			zap.Int("user_id", p.UserID),
		)
		return nil
	}

	prefs, err := h.settings.ForUser(ctx, p.UserID)
	if err != nil {
		h.logger.Error("Failed to resolve settings", zap.Int("user_id", p.UserID), zap.Error(err))
		return h.failTransient(ctx, raw, p, err)
	}
	if !prefs.IsEnabled() {
		h.logger.Debug("Pipeline disabled for user, skipping",
			zap.Int("user_id", p.UserID),
		)
		return nil
	}
	if reason, filtered := filtered(&p, prefs); filtered {
		h.logger.Info("Message filtered before enqueue",
			zap.String("message_id", p.MessageID),
			zap.Int("user_id", p.UserID),
			zap.String("reason", reason),
		)
		return nil
	}

	msg := &model.InboundMessage{
		ID:          p.MessageID,
		ThreadID:    p.ThreadID,
		Subject:     p.Subject,
		FromAddress: p.FromAddress,
		FromName:    p.FromName,
		To:          p.To,
		Body:        p.Body,
		Snippet:     p.Snippet,
		Labels:      p.Labels,
		Attachments: p.Attachments,
		ReceivedAt:  p.ReceivedAt,
	}

	item, inserted, err := h.queue.Enqueue(ctx, p.UserID, msg)
	if err != nil {
		h.logger.Error("Failed to enqueue message",
			zap.String("message_id", p.MessageID),
			zap.Int("user_id", p.UserID),
			zap.Error(err),
		)
		return h.failTransient(ctx, raw, p, err)
	}
	if !inserted {
		return nil
	}
	if h.retries != nil {
		_ = h.retries.Reset(ctx, retryKey(p))
	}

	h.logger.Info("Message admitted to pipeline",
		zap.Int("work_item_id", item.ID),
		zap.String("message_id", p.MessageID),
		zap.Int("user_id", p.UserID),
	)
	return nil
}

// failTransient returns the error for a nack/requeue until the delivery
// ceiling, then parks the raw payload on the DLQ and acks.
func (h *EmailReceivedHandler) failTransient(ctx context.Context, raw json.RawMessage, p mqcontracts.EmailReceivedPayload, cause error) error {
	if h.retries == nil {
		return cause
	}

	count, err := h.retries.IncrementAndGet(ctx, retryKey(p))
	if err != nil {
		// 计数不可用时退回单纯的重投
		h.logger.Warn("Retry counter unavailable", zap.Error(err))
		return cause
	}
	if count <= maxDeliveries || h.deadLetter == nil {
		return cause
	}

	h.logger.Error("Delivery ceiling reached, parking message on DLQ",
		zap.String("message_id", p.MessageID),
		zap.Int("user_id", p.UserID),
		zap.Int64("deliveries", count),
		zap.Error(cause),
	)
	if err := h.deadLetter.PublishToDLQ("email.received", raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
		return cause
	}
	_ = h.retries.Reset(ctx, retryKey(p))
	return nil
}

func retryKey(p mqcontracts.EmailReceivedPayload) string {
	return "email.received:" + dedupKey(p)
}

// filtered applies the user's sender and keyword exclusions.
func filtered(p *mqcontracts.EmailReceivedPayload, prefs *model.AutomationSettings) (string, bool) {
	sender := strings.ToLower(p.FromAddress)
	for _, excluded := range prefs.ExcludedSenders {
		if excluded != "" && strings.Contains(sender, strings.ToLower(excluded)) {
			return "excluded_sender", true
		}
	}

	content := strings.ToLower(p.Subject + " " + p.Body)
	for _, kw := range prefs.KeywordFilters {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			return "keyword_filter", true
		}
	}
	return "", false
}

func dedupKey(p mqcontracts.EmailReceivedPayload) string {
	return strconv.Itoa(p.UserID) + ":" + p.MessageID
}
