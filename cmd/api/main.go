package main

import (
	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/analyzer"
	"inboxflow/internal/api"
	"inboxflow/internal/httpserver"
	"inboxflow/internal/priority"
	"inboxflow/internal/provider"
	"inboxflow/internal/queue"
	"inboxflow/internal/repository"
	"inboxflow/internal/retrier"
	"inboxflow/internal/scheduler"
	"inboxflow/internal/settings"
	"inboxflow/pkg/db"
	"inboxflow/pkg/logger"
	"inboxflow/pkg/outbox"
)

func main() {
	cfg := config.Load()
	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting pipeline API...")

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	// repositories
	messageRepo := repository.NewMessageRepository(dbConn)
	workItemRepo := repository.NewWorkItemRepository(dbConn)
	suggestionRepo := repository.NewSuggestionRepository(dbConn)
	taskRepo := repository.NewTaskRepository(dbConn)
	settingsRepo := repository.NewSettingsRepository(dbConn)

	settingsSvc := settings.NewService(settingsRepo, logger)
	analyzerClient := analyzer.NewClient(cfg.Analyzer, logger)
	engine := priority.NewEngine(logger)
	policy := scheduler.NewPolicy(taskRepo, logger)
	outboxRepo := outbox.NewRepository(dbConn)

	pipeline := queue.New(queue.Deps{
		Messages:    messageRepo,
		Items:       workItemRepo,
		Suggestions: suggestionRepo,
		Tasks:       taskRepo,
		Settings:    settingsSvc,
		Analyzer:    analyzerClient,
		Engine:      engine,
		Policy:      policy,
		Events:      outboxRepo,
		Config:      cfg.Pipeline,
		Logger:      logger,
	}).WithAnalyzeTimeout(cfg.Analyzer.Timeout)

	// mail provider + retry handling
	gmail := provider.NewGmailProvider(cfg.Provider, logger)
	retryHandler := retrier.NewHandler(cfg.Backoff, gmail, logger)

	// handlers
	pipelineHandler := api.NewPipelineHandler(pipeline, logger)
	suggestionHandler := api.NewSuggestionHandler(pipeline, logger)
	settingsHandler := api.NewSettingsHandler(settingsSvc, logger)
	syncHandler := api.NewSyncHandler(gmail, retryHandler, pipeline, logger)

	router := httpserver.NewRouter(
		pipelineHandler,
		suggestionHandler,
		settingsHandler,
		syncHandler,
		cfg.JWT.Secret,
		dbConn,
	)

	logger.Info("API listening", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		logger.Fatal("API server stopped", zap.Error(err))
	}
}
