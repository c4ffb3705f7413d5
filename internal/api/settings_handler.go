package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxflow/internal/model"
	"inboxflow/internal/settings"
)

type SettingsHandler struct {
	settings *settings.Service
	logger   *zap.Logger
}

func NewSettingsHandler(svc *settings.Service, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, logger: logger}
}

// Get handles GET /settings
func (h *SettingsHandler) Get(c *gin.Context) {
	userID := c.GetInt("user_id")

	prefs, err := h.settings.ForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}

	c.JSON(http.StatusOK, prefs)
}

// Update handles PUT /settings. The body is a partial document; omitted
// fields keep their current effective value.
func (h *SettingsHandler) Update(c *gin.Context) {
	userID := c.GetInt("user_id")

	var partial model.AutomationSettings
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	prefs, err := h.settings.Update(c.Request.Context(), userID, &partial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, prefs)
}
