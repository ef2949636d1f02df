package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hydrantlabs/designq/internal/middleware"
	"github.com/hydrantlabs/designq/internal/providers"
	"github.com/hydrantlabs/designq/internal/queue"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/internal/services"
	"github.com/hydrantlabs/designq/internal/tracing"
	"github.com/hydrantlabs/designq/pkg/auth"
	"github.com/hydrantlabs/designq/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

type Application struct {
	Config     *config.Config
	Engine     *gin.Engine
	Submission services.SubmissionService
	Callback   services.CallbackService
	Status     services.StatusService
	Sweeper    services.SweeperService
	Statuses   repository.StatusRepository
	Enqueuer   queue.Enqueuer
	Logger     *slog.Logger
	TZ         *time.Location
	Redis      *redis.Client

	ClientValidator auth.Validator
	AgentValidator  auth.Validator

	Cron            *cron.Cron
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithClientValidator sets a custom client validator
func WithClientValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.ClientValidator = validator
		return nil
	}
}

// WithAgentValidator sets a custom agent validator
func WithAgentValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.AgentValidator = validator
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPass)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "designq-server",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: true,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without tracing", "err", err)
	}

	statuses := repository.NewStatusRepository(redisClient, loc, time.Now)
	artifacts := repository.NewArtifactRepository(redisClient)
	uploader := providers.NewLocalUploader(cfg.LocalArtifactsDir)

	enqueuer := queue.NewEnqueuer(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass}, queue.Options{
		QueueName:  cfg.QueueName,
		MaxRetry:   cfg.MaxRetry,
		JobTimeout: time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		Retention:  time.Duration(cfg.RetentionHours) * time.Hour,
	})

	retention := time.Duration(cfg.RetentionHours) * time.Hour
	estimate := time.Duration(cfg.EstimatedMinutes) * time.Minute
	submission := services.NewSubmissionService(statuses, enqueuer, logger, time.Now, retention, estimate)
	callback := services.NewCallbackService(statuses, artifacts, uploader, logger, time.Now)
	status := services.NewStatusService(statuses, artifacts)
	sweeper := services.NewSweeperService(statuses, enqueuer, logger, time.Now,
		time.Duration(cfg.StuckQueuedSeconds)*time.Second, cfg.SweepBatchLimit)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger))

	app := &Application{
		Config:          cfg,
		Engine:          engine,
		Submission:      submission,
		Callback:        callback,
		Status:          status,
		Sweeper:         sweeper,
		Statuses:        statuses,
		Enqueuer:        enqueuer,
		Logger:          logger,
		TZ:              loc,
		Redis:           redisClient,
		TracingShutdown: shutdown,
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.ClientValidator == nil && cfg.ClientAuthProvider != "" {
		validator, err := auth.NewValidator(auth.ProviderConfig{
			Type:   cfg.ClientAuthProvider,
			Config: []byte(cfg.ClientAuthConfig),
		})
		if err != nil {
			return nil, err
		}
		app.ClientValidator = validator
	}
	if app.AgentValidator == nil && cfg.AgentAuthProvider != "" {
		validator, err := auth.NewValidator(auth.ProviderConfig{
			Type:   cfg.AgentAuthProvider,
			Config: []byte(cfg.AgentAuthConfig),
		})
		if err != nil {
			return nil, err
		}
		app.AgentValidator = validator
	}

	return app, nil
}

// StartSweeper schedules the reconciliation jobs and starts the cron runner.
func (app *Application) StartSweeper() error {
	c := cron.New()
	if err := app.Sweeper.Register(c, app.Config.SweepSchedule); err != nil {
		return err
	}
	c.Start()
	app.Cron = c
	return nil
}

// NewLogger builds the process-wide structured logger from config.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "designq", "env", cfg.Env)
}
