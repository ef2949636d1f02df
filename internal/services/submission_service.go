package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hydrantlabs/designq/internal/metrics"
	"github.com/hydrantlabs/designq/internal/queue"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type SubmissionService interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error)
}

type submissionService struct {
	repo      repository.StatusRepository
	enqueuer  queue.Enqueuer
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
	estimate  time.Duration
}

func NewSubmissionService(repo repository.StatusRepository, enqueuer queue.Enqueuer, logger *slog.Logger, now func() time.Time, retention, estimate time.Duration) SubmissionService {
	if now == nil {
		now = time.Now
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if estimate <= 0 {
		estimate = 20 * time.Minute
	}
	return &submissionService{
		repo:      repo,
		enqueuer:  enqueuer,
		logger:    logger,
		now:       now,
		retention: retention,
		estimate:  estimate,
	}
}

func (s *submissionService) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	ctx, span := otel.Tracer("designq/submission").Start(ctx, "designq.task.submit",
		trace.WithAttributes(
			attribute.String("designq.task_id", taskID),
			attribute.String("designq.project_id", req.ProjectID),
			attribute.String("designq.project_type", req.ProjectType),
		),
	)
	defer span.End()

	now := s.now()
	rec := &domain.TaskRecord{
		TaskID:       taskID,
		ProjectID:    req.ProjectID,
		Status:       domain.StatusQueued,
		TrafficLight: domain.LightPending,
		CurrentStep:  0,
		TotalSteps:   domain.TotalPipelineSteps,
		Message:      "Task queued for processing",
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.retention),
	}
	payload := &domain.JobPayload{
		TaskID:       taskID,
		ProjectID:    req.ProjectID,
		ProjectType:  req.ProjectType,
		HazardClass:  req.HazardClass,
		InputFiles:   req.InputFiles,
		BuildingInfo: req.BuildingInfo,
		WaterSupply:  req.WaterSupply,
		Priority:     req.Priority,
	}

	// The record must be durably written before the enqueue is acknowledged
	// so a client polling right after submission never sees not-found.
	if err := s.repo.Create(ctx, rec, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create task record: %w", err)
	}

	if err := s.enqueuer.EnqueueJob(ctx, payload); err != nil {
		// Record stays QUEUED; the stuck-queue sweep re-enqueues it.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("enqueue failed after record write; task left for sweep",
			"taskId", taskID, "projectId", req.ProjectID, "err", err)
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	metrics.TaskSubmittedTotal.WithLabelValues(req.ProjectType).Inc()
	s.logger.Info("task submitted", "taskId", taskID, "projectId", req.ProjectID, "hazardClass", req.HazardClass)

	return &domain.SubmitResponse{
		TaskID:              taskID,
		Status:              domain.StatusQueued,
		Message:             "Design task accepted",
		EstimatedCompletion: now.Add(s.estimate),
	}, nil
}

func validateSubmit(req domain.SubmitRequest) error {
	if strings.TrimSpace(req.ProjectID) == "" {
		return fmt.Errorf("%w: projectId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.ProjectType) == "" {
		return fmt.Errorf("%w: projectType is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.HazardClass) == "" {
		return fmt.Errorf("%w: hazardClass is required", domain.ErrValidation)
	}
	if len(req.InputFiles) == 0 {
		return fmt.Errorf("%w: at least one input file is required", domain.ErrValidation)
	}
	for i, f := range req.InputFiles {
		if strings.TrimSpace(f.S3URI) == "" {
			return fmt.Errorf("%w: inputFiles[%d].s3_uri is required", domain.ErrValidation, i)
		}
	}
	return nil
}
