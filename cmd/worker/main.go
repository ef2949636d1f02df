package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydrantlabs/designq/internal/agent"
	"github.com/hydrantlabs/designq/internal/providers"
	"github.com/hydrantlabs/designq/internal/queue"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/internal/tracing"
	"github.com/hydrantlabs/designq/internal/worker"
	"github.com/hydrantlabs/designq/pkg/app"
	"github.com/hydrantlabs/designq/pkg/config"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfgPath := getenv("DESIGNQ_CONFIG_PATH", "")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With("component", "worker")

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "designq-worker",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: true,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without tracing", "err", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPass)
	repo := repository.NewStatusRepository(redisClient, loc, time.Now)
	agentClient := agent.NewHTTPClient(cfg.AgentURL, cfg.AgentToken, logger)

	orchestrator := worker.NewOrchestrator(
		repo,
		agentClient,
		logger,
		cfg.CallbackBaseURL,
		time.Duration(cfg.ProjectLockSeconds)*time.Second,
		time.Now,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDesignJob, orchestrator.HandleDesignJob)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				cfg.QueueName + "-high": 3,
				cfg.QueueName:           1,
			},
			Logger: asynqLogger{logger},
		},
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker starting", "queue", cfg.QueueName, "concurrency", cfg.WorkerConcurrency)
		return srv.Run(mux)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		if shutdownTracing != nil {
			_ = shutdownTracing(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", "err", err)
		os.Exit(1)
	}
}

// asynqLogger adapts slog to asynq's logging interface.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
