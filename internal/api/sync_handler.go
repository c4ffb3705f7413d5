package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxflow/internal/model"
	"inboxflow/internal/provider"
	"inboxflow/internal/queue"
	"inboxflow/internal/retrier"
)

const (
	defaultSyncQuery = "in:inbox"
	defaultSyncLimit = 25
)

// SyncHandler pulls messages from the mail provider into the work queue.
type SyncHandler struct {
	provider provider.Provider
	retrier  *retrier.Handler
	queue    *queue.Queue
	logger   *zap.Logger
}

func NewSyncHandler(p provider.Provider, r *retrier.Handler, q *queue.Queue, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{provider: p, retrier: r, queue: q, logger: logger}
}

// Sync handles POST /messages/sync
func (h *SyncHandler) Sync(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Query == "" {
		req.Query = defaultSyncQuery
	}
	if req.MaxResults <= 0 || req.MaxResults > 100 {
		req.MaxResults = defaultSyncLimit
	}

	ctx := c.Request.Context()

	var ids []string
	err := h.retrier.Do(ctx, "list_messages", func(ctx context.Context) error {
		var err error
		ids, err = h.provider.ListMessages(ctx, req.Query, req.MaxResults)
		return err
	})
	if err != nil {
		h.respondProviderError(c, userID, err)
		return
	}

	enqueued, failed := 0, 0
	for _, id := range ids {
		var msg *model.InboundMessage
		err := h.retrier.Do(ctx, "get_message", func(ctx context.Context) error {
			var err error
			msg, err = h.provider.GetMessage(ctx, id)
			return err
		})
		if err != nil {
			// 单条消息失败不影响整个同步
			failed++
			h.logger.Warn("Failed to fetch message",
				zap.Int("user_id", userID),
				zap.String("message_id", id),
				zap.Error(err),
			)
			continue
		}

		if _, inserted, err := h.queue.Enqueue(ctx, userID, msg); err != nil {
			failed++
			h.logger.Error("Failed to enqueue message",
				zap.Int("user_id", userID),
				zap.String("message_id", id),
				zap.Error(err),
			)
		} else if inserted {
			enqueued++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"fetched":  len(ids),
		"enqueued": enqueued,
		"failed":   failed,
	})
}

func (h *SyncHandler) respondProviderError(c *gin.Context, userID int, err error) {
	h.logger.Error("Provider sync failed", zap.Int("user_id", userID), zap.Error(err))

	status := http.StatusBadGateway
	if errors.Is(err, retrier.ErrReauthRequired) {
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": retrier.UserMessage(err)})
}
