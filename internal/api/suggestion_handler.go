package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxflow/internal/queue"
)

type SuggestionHandler struct {
	queue  *queue.Queue
	logger *zap.Logger
}

func NewSuggestionHandler(queue *queue.Queue, logger *zap.Logger) *SuggestionHandler {
	return &SuggestionHandler{queue: queue, logger: logger}
}

// Approve handles POST /suggestions/:id/approve
func (h *SuggestionHandler) Approve(c *gin.Context) {
	userID := c.GetInt("user_id")
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid suggestion id"})
		return
	}

	task, err := h.queue.ApproveSuggestion(c.Request.Context(), userID, id)
	if err != nil {
		h.logger.Warn("Suggestion approval failed",
			zap.Int("user_id", userID),
			zap.Int("suggestion_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":  task.ID,
		"title":    task.Title,
		"priority": task.Priority,
		"status":   task.Status,
	})
}

// Reject handles POST /suggestions/:id/reject
func (h *SuggestionHandler) Reject(c *gin.Context) {
	userID := c.GetInt("user_id")
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid suggestion id"})
		return
	}

	if err := h.queue.RejectSuggestion(c.Request.Context(), userID, id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}
