package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydrantlabs/designq/internal/agent"
	"github.com/hydrantlabs/designq/internal/metrics"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator consumes design jobs and drives one agent run per job. It
// owns only the coarse lifecycle transitions; fine-grained progress arrives
// through the callback surface while the agent streams.
type Orchestrator struct {
	repo            repository.StatusRepository
	agent           agent.Client
	logger          *slog.Logger
	callbackBaseURL string
	lockTTL         time.Duration
	now             func() time.Time
}

func NewOrchestrator(repo repository.StatusRepository, client agent.Client, logger *slog.Logger, callbackBaseURL string, lockTTL time.Duration, now func() time.Time) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = 45 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		repo:            repo,
		agent:           client,
		logger:          logger,
		callbackBaseURL: callbackBaseURL,
		lockTTL:         lockTTL,
		now:             now,
	}
}

// HandleDesignJob is the asynq handler for design run tasks. Returning an
// error hands the job back for redelivery; returning nil acks it.
func (o *Orchestrator) HandleDesignJob(ctx context.Context, t *asynq.Task) error {
	var payload domain.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		o.logger.Error("corrupt job payload dropped", "err", err)
		return fmt.Errorf("unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := otel.Tracer("designq/worker").Start(ctx, "designq.worker.run",
		trace.WithAttributes(
			attribute.String("designq.task_id", payload.TaskID),
			attribute.String("designq.project_id", payload.ProjectID),
		),
	)
	defer span.End()

	rec, err := o.repo.Get(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Record reclaimed after retention; nothing left to do.
			o.logger.Warn("job for unknown task dropped", "taskId", payload.TaskID)
			return nil
		}
		return fmt.Errorf("load task record: %w", err)
	}
	if rec.Status.Terminal() {
		// At-least-once delivery: a duplicate after completion is a no-op.
		o.logger.Info("duplicate delivery for terminal task absorbed",
			"taskId", payload.TaskID, "status", rec.Status)
		return nil
	}

	// One running job per project. Contention is a transient condition the
	// queue resolves by redelivering later.
	ok, err := o.repo.AcquireProjectLock(ctx, payload.ProjectID, payload.TaskID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire project lock: %w", err)
	}
	if !ok {
		o.logger.Info("project busy, job deferred", "taskId", payload.TaskID, "projectId", payload.ProjectID)
		return fmt.Errorf("project %s has a design run in flight", payload.ProjectID)
	}
	defer func() {
		if err := o.repo.ReleaseProjectLock(context.WithoutCancel(ctx), payload.ProjectID, payload.TaskID); err != nil {
			o.logger.Warn("release project lock failed", "projectId", payload.ProjectID, "err", err)
		}
	}()

	start := o.now()
	processing := domain.StatusProcessing
	msg := "Initializing agent"
	applied, err := o.repo.Apply(ctx, payload.TaskID, domain.StatusUpdate{Status: &processing, Message: &msg}, "")
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !applied {
		// Raced into a terminal state between Get and Apply.
		return nil
	}

	prompt := agent.BuildPrompt(&payload, o.callbackBaseURL)
	o.logger.Info("agent run starting", "taskId", payload.TaskID, "projectId", payload.ProjectID)

	invokeErr := o.agent.Invoke(ctx, agent.InvokeRequest{TaskID: payload.TaskID, Prompt: prompt}, func(chunk string) {
		o.logger.Debug("agent output", "taskId", payload.TaskID, "chunk", chunk)
	})
	if invokeErr != nil {
		span.RecordError(invokeErr)
		span.SetStatus(codes.Error, invokeErr.Error())
		failed := domain.StatusFailed
		red := domain.LightRed
		failMsg := "Design run failed"
		// On a run timeout ctx is already dead; the terminal write must
		// still land or the record stays PROCESSING forever.
		wctx := context.WithoutCancel(ctx)
		applied, applyErr := o.repo.Apply(wctx, payload.TaskID, domain.StatusUpdate{
			Status: &failed, TrafficLight: &red, Message: &failMsg,
		}, invokeErr.Error())
		if applyErr != nil {
			o.logger.Error("failed to record agent failure", "taskId", payload.TaskID, "err", applyErr)
		}
		if applied {
			o.observeTerminal(wctx, payload.TaskID, start)
		}
		o.logger.Error("agent run failed", "taskId", payload.TaskID, "err", invokeErr)
		return fmt.Errorf("agent run: %w", invokeErr)
	}

	// Fallback terminal write. If the agent already reported its own verdict
	// through the callback the guard absorbs this without clobbering it.
	completed := domain.StatusCompleted
	green := domain.LightGreen
	doneMsg := "Design run completed"
	steps := domain.TotalPipelineSteps
	applied, err = o.repo.Apply(ctx, payload.TaskID, domain.StatusUpdate{
		Status: &completed, TrafficLight: &green, Message: &doneMsg, CurrentStep: &steps,
	}, "")
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if applied {
		o.observeTerminal(ctx, payload.TaskID, start)
		o.logger.Info("agent run completed without terminal callback, fallback applied", "taskId", payload.TaskID)
	} else {
		o.logger.Info("agent run completed", "taskId", payload.TaskID)
	}
	return nil
}

func (o *Orchestrator) observeTerminal(ctx context.Context, taskID string, start time.Time) {
	rec, err := o.repo.Get(ctx, taskID)
	if err != nil {
		return
	}
	metrics.TaskCompletedTotal.WithLabelValues(string(rec.Status), string(rec.TrafficLight)).Inc()
	metrics.TaskProcessingLatencySeconds.WithLabelValues(string(rec.Status)).Observe(o.now().Sub(start).Seconds())
}
