package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inboxflow/internal/api"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	pipelineHandler *api.PipelineHandler,
	suggestionHandler *api.SuggestionHandler,
	settingsHandler *api.SettingsHandler,
	syncHandler *api.SyncHandler,
	jwtSecret string,
	db *pgxpool.Pool,
) *Router {
	r := gin.Default()

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/pipeline/drain", pipelineHandler.Drain)
		auth.POST("/pipeline/retry", pipelineHandler.Retry)
		auth.POST("/messages/sync", syncHandler.Sync)
		auth.GET("/stats/queue", pipelineHandler.QueueStats)
		auth.GET("/stats/suggestions", pipelineHandler.SuggestionStats)
		auth.POST("/suggestions/:id/approve", suggestionHandler.Approve)
		auth.POST("/suggestions/:id/reject", suggestionHandler.Reject)
		auth.GET("/settings", settingsHandler.Get)
		auth.PUT("/settings", settingsHandler.Update)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
