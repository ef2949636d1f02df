package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepos(t *testing.T) (repository.StatusRepository, repository.ArtifactRepository, *miniredis.Miniredis) {
	return setupReposWithClock(t, time.Now)
}

func setupReposWithClock(t *testing.T, now func() time.Time) (repository.StatusRepository, repository.ArtifactRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	statuses := repository.NewStatusRepository(rdb, time.UTC, now)
	artifacts := repository.NewArtifactRepository(rdb)
	return statuses, artifacts, mr
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []*domain.JobPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueJob(ctx context.Context, payload *domain.JobPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeUploader struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{saved: map[string][]byte{}}
}

func (f *fakeUploader) UploadBytes(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved[objectPath] = data
	return "file:///artifacts/" + objectPath, nil
}

func validSubmitRequest() domain.SubmitRequest {
	return domain.SubmitRequest{
		ProjectID:   "proj-1",
		ProjectType: "warehouse",
		HazardClass: "ordinary-hazard-2",
		InputFiles: []domain.InputFileRef{
			{S3URI: "s3://uploads/proj-1/floorplan.pdf", FileType: "floorplan"},
		},
		BuildingInfo: map[string]any{"floors": float64(2)},
		Priority:     "normal",
	}
}

func seedTask(t *testing.T, repo repository.StatusRepository, taskID, projectID string) {
	t.Helper()
	now := time.Now()
	rec := &domain.TaskRecord{
		TaskID:       taskID,
		ProjectID:    projectID,
		Status:       domain.StatusQueued,
		TrafficLight: domain.LightPending,
		TotalSteps:   domain.TotalPipelineSteps,
		Message:      "Task queued for processing",
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	payload := &domain.JobPayload{
		TaskID:      taskID,
		ProjectID:   projectID,
		ProjectType: "warehouse",
		HazardClass: "ordinary-hazard-2",
		InputFiles:  []domain.InputFileRef{{S3URI: "s3://uploads/x.pdf"}},
	}
	if err := repo.Create(context.Background(), rec, payload); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}
