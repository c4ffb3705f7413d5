package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxflow/internal/queue"
)

type PipelineHandler struct {
	queue  *queue.Queue
	logger *zap.Logger
}

func NewPipelineHandler(queue *queue.Queue, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{queue: queue, logger: logger}
}

// Drain handles POST /pipeline/drain
func (h *PipelineHandler) Drain(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req struct {
		MaxItems int `json:"max_items"`
	}
	// 请求体可为空，使用默认批次大小
	_ = c.ShouldBindJSON(&req)

	res, err := h.queue.DrainPending(c.Request.Context(), userID, req.MaxItems)
	if err != nil {
		h.logger.Error("Drain failed", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "drain failed"})
		return
	}

	c.JSON(http.StatusOK, res)
}

// Retry handles POST /pipeline/retry
func (h *PipelineHandler) Retry(c *gin.Context) {
	userID := c.GetInt("user_id")

	n, err := h.queue.RetryFailed(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Retry failed", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": n})
}

// QueueStats handles GET /stats/queue
func (h *PipelineHandler) QueueStats(c *gin.Context) {
	userID := c.GetInt("user_id")

	stats, err := h.queue.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load queue stats", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": stats.Queue, "tasks": stats.Tasks})
}

// SuggestionStats handles GET /stats/suggestions
func (h *PipelineHandler) SuggestionStats(c *gin.Context) {
	userID := c.GetInt("user_id")

	stats, err := h.queue.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load suggestion stats", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"suggestions": stats.Suggestions})
}
