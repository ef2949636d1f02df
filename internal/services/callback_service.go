package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hydrantlabs/designq/internal/metrics"
	"github.com/hydrantlabs/designq/internal/providers"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CallbackService is the only writer of fine-grained progress. The agent
// calls these operations mid-run; the worker never touches currentStep.
type CallbackService interface {
	UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.UpdateStatusResponse, error)
	SaveArtifact(ctx context.Context, req domain.SaveArtifactRequest) (*domain.SaveArtifactResponse, error)
}

type callbackService struct {
	statuses  repository.StatusRepository
	artifacts repository.ArtifactRepository
	uploader  providers.Uploader
	logger    *slog.Logger
	now       func() time.Time
}

func NewCallbackService(statuses repository.StatusRepository, artifacts repository.ArtifactRepository, uploader providers.Uploader, logger *slog.Logger, now func() time.Time) CallbackService {
	if now == nil {
		now = time.Now
	}
	return &callbackService{statuses: statuses, artifacts: artifacts, uploader: uploader, logger: logger, now: now}
}

func (s *callbackService) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.UpdateStatusResponse, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrValidation)
	}

	ctx, span := otel.Tracer("designq/callback").Start(ctx, "designq.callback.update_status",
		trace.WithAttributes(attribute.String("designq.task_id", req.TaskID)),
	)
	defer span.End()

	upd := domain.StatusUpdate{
		Status:       req.Status,
		TrafficLight: req.TrafficLight,
		CurrentStep:  req.CurrentStep,
		TotalSteps:   req.TotalSteps,
		Message:      req.Message,
		PDFRef:       req.PDFURL,
	}
	applied, err := s.statuses.Apply(ctx, req.TaskID, upd, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec, err := s.statuses.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	if !applied {
		// Already terminal: absorbed. The agent gets success either way.
		metrics.TerminalConflictTotal.Inc()
		metrics.CallbackUpdatesTotal.WithLabelValues("terminal_conflict").Inc()
		s.logger.Info("status update absorbed by terminal state",
			"taskId", req.TaskID, "status", rec.Status, "trafficLight", rec.TrafficLight)
	} else {
		metrics.CallbackUpdatesTotal.WithLabelValues("applied").Inc()
		if req.Status != nil && req.Status.Terminal() {
			metrics.TaskCompletedTotal.WithLabelValues(string(rec.Status), string(rec.TrafficLight)).Inc()
			if d := rec.UpdatedAt.Sub(rec.CreatedAt).Seconds(); d >= 0 {
				metrics.TaskProcessingLatencySeconds.WithLabelValues(string(rec.Status)).Observe(d)
			}
		}
	}

	return &domain.UpdateStatusResponse{
		Success:   true,
		TaskID:    rec.TaskID,
		Status:    rec.Status,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *callbackService) SaveArtifact(ctx context.Context, req domain.SaveArtifactRequest) (*domain.SaveArtifactResponse, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.ArtifactType) == "" {
		return nil, fmt.Errorf("%w: artifactType is required", domain.ErrValidation)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if _, err := s.statuses.Get(ctx, req.TaskID); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("designq/callback").Start(ctx, "designq.callback.save_artifact",
		trace.WithAttributes(
			attribute.String("designq.task_id", req.TaskID),
			attribute.String("designq.artifact_type", req.ArtifactType),
		),
	)
	defer span.End()

	data, err := decodeContent(req)
	if err != nil {
		return nil, err
	}
	objPath := path.Join("tasks", req.TaskID, filenameFor(req))
	ref, err := s.uploader.UploadBytes(ctx, objPath, req.ContentType, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upload artifact: %w", err)
	}

	rec := domain.ArtifactRecord{
		TaskID:       req.TaskID,
		ArtifactType: req.ArtifactType,
		StoreKey:     ref,
		ContentType:  req.ContentType,
		CreatedAt:    s.now(),
	}
	if err := s.artifacts.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.ArtifactBytesTotal.WithLabelValues(req.ArtifactType).Add(float64(len(data)))

	// Only the report PDF becomes the record's primary artifact reference.
	if req.ArtifactType == domain.ArtifactTypePDF {
		if _, err := s.statuses.Apply(ctx, req.TaskID, domain.StatusUpdate{PDFRef: &ref}, ""); err != nil {
			return nil, err
		}
	}

	s.logger.Info("artifact saved", "taskId", req.TaskID, "artifactType", req.ArtifactType, "bytes", len(data))
	return &domain.SaveArtifactResponse{
		Success:      true,
		ArtifactRef:  ref,
		ArtifactType: req.ArtifactType,
	}, nil
}

// decodeContent honors the request's declared encoding. Guessing is not an
// option here: plain text whose bytes happen to form valid base64 would be
// silently mangled.
func decodeContent(req domain.SaveArtifactRequest) ([]byte, error) {
	if !strings.EqualFold(req.Encoding, "base64") {
		return []byte(req.Content), nil
	}
	trimmed := strings.TrimSpace(req.Content)
	if data, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	// Some agents post unpadded base64.
	data, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: content is not valid base64", domain.ErrValidation)
	}
	return data, nil
}

func filenameFor(req domain.SaveArtifactRequest) string {
	if name := strings.TrimSpace(req.Filename); name != "" {
		return path.Base(name)
	}
	switch req.ArtifactType {
	case domain.ArtifactTypePDF:
		return "report.pdf"
	case domain.ArtifactTypeBOM:
		return "bom.csv"
	default:
		return req.ArtifactType + ".dat"
	}
}
