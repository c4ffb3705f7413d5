package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/analyzer"
	"inboxflow/internal/mqhandler"
	"inboxflow/internal/priority"
	"inboxflow/internal/queue"
	"inboxflow/internal/repository"
	"inboxflow/internal/scheduler"
	"inboxflow/internal/settings"
	"inboxflow/pkg/db"
	"inboxflow/pkg/logger"
	"inboxflow/pkg/mq"
	"inboxflow/pkg/outbox"
	"inboxflow/pkg/redis"
	"inboxflow/pkg/util"
)

func main() {
	cfg := config.Load()
	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting pipeline worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, logger)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	logger.Info("DB ready")

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

	// publisher + outbox dispatcher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	if err := publisher.SetupDLQ("email.received"); err != nil {
		logger.Fatal("DLQ setup failed", zap.Error(err))
	}

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, logger)
	go dispatcher.Start(ctx)

	// -------------------------
	// email.received Consumer
	// -------------------------
	logger.Info("Init consumer: pipeline.email.received.q")
	consumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"pipeline.email.received.q",
		"email.received",
		logger,
	)
	if err != nil {
		logger.Fatal("Consumer init failed", zap.Error(err))
	}
	defer consumer.Close()

	emailHandler := mqhandler.NewEmailReceivedHandler(pipeline, settingsSvc, deduper, logger).
		WithRetryTracking(retryCounter, publisher)
	consumer.SetHandler(emailHandler.Handle)

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			logger.Fatal("Consumer crashed", zap.Error(err))
		}
	}()

	// -------------------------
	// periodic drain
	// -------------------------
	go drainLoop(ctx, pipeline, cfg.Pipeline, logger)

	// metrics
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Server.Port, nil); err != nil {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("Worker running")
	<-ctx.Done()
	logger.Info("Worker shutting down")
}

// drainLoop periodically drains every user with pending work.
func drainLoop(ctx context.Context, pipeline *queue.Queue, cfg config.PipelineConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users, err := pipeline.UsersWithPending(ctx)
			if err != nil {
				logger.Error("Failed to list users with pending work", zap.Error(err))
				continue
			}
			for _, userID := range users {
				res, err := pipeline.DrainPending(ctx, userID, cfg.BatchSize)
				if err != nil {
					logger.Error("Drain failed",
						zap.Int("user_id", userID),
						zap.Error(err),
					)
					continue
				}
				if res.Processed > 0 || res.Errors > 0 {
					logger.Info("Drain pass finished",
						zap.Int("user_id", userID),
						zap.Int("processed", res.Processed),
						zap.Int("tasks_created", res.TasksCreated),
						zap.Int("suggestions_created", res.SuggestionsCreated),
						zap.Int("errors", res.Errors),
					)
				}
			}
		}
	}
}
