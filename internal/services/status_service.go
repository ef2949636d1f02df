package services

import (
	"context"

	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"
)

// StatusService is the read-only projection for polling clients. It never
// mutates state and is safe for unbounded concurrent use.
type StatusService interface {
	Get(ctx context.Context, taskID string) (*domain.TaskView, error)
	Artifacts(ctx context.Context, taskID string) ([]domain.ArtifactRecord, error)
}

type statusService struct {
	statuses  repository.StatusRepository
	artifacts repository.ArtifactRepository
}

func NewStatusService(statuses repository.StatusRepository, artifacts repository.ArtifactRepository) StatusService {
	return &statusService{statuses: statuses, artifacts: artifacts}
}

func (s *statusService) Get(ctx context.Context, taskID string) (*domain.TaskView, error) {
	rec, err := s.statuses.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return domain.NewTaskView(rec), nil
}

func (s *statusService) Artifacts(ctx context.Context, taskID string) ([]domain.ArtifactRecord, error) {
	if _, err := s.statuses.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.artifacts.List(ctx, taskID)
}
