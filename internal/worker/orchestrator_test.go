package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hydrantlabs/designq/internal/agent"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type fakeAgent struct {
	fn    func(ctx context.Context, req agent.InvokeRequest, onChunk func(string)) error
	calls int
}

func (f *fakeAgent) Invoke(ctx context.Context, req agent.InvokeRequest, onChunk func(string)) error {
	f.calls++
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, req, onChunk)
}

func setupOrchestrator(t *testing.T, fa *fakeAgent) (*Orchestrator, repository.StatusRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := repository.NewStatusRepository(rdb, time.UTC, time.Now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(repo, fa, logger, "http://localhost:8080", time.Minute, time.Now), repo
}

func seedJob(t *testing.T, repo repository.StatusRepository, taskID, projectID string) *asynq.Task {
	t.Helper()
	now := time.Now()
	payload := &domain.JobPayload{
		TaskID:      taskID,
		ProjectID:   projectID,
		ProjectType: "warehouse",
		HazardClass: "ordinary-hazard-2",
		InputFiles:  []domain.InputFileRef{{S3URI: "s3://uploads/plan.pdf"}},
	}
	rec := &domain.TaskRecord{
		TaskID:       taskID,
		ProjectID:    projectID,
		Status:       domain.StatusQueued,
		TrafficLight: domain.LightPending,
		TotalSteps:   domain.TotalPipelineSteps,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := repo.Create(context.Background(), rec, payload); err != nil {
		t.Fatalf("seed: %v", err)
	}
	b, _ := json.Marshal(payload)
	return asynq.NewTask("design:run", b)
}

func TestHandleDesignJobFallbackCompletion(t *testing.T) {
	fa := &fakeAgent{}
	o, repo := setupOrchestrator(t, fa)
	task := seedJob(t, repo, "job-1", "proj-1")

	if err := o.HandleDesignJob(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if fa.calls != 1 {
		t.Fatalf("expected 1 agent invocation, got %d", fa.calls)
	}

	rec, err := repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusCompleted || rec.TrafficLight != domain.LightGreen {
		t.Fatalf("expected COMPLETED/GREEN fallback, got %s/%s", rec.Status, rec.TrafficLight)
	}
	if rec.CurrentStep != domain.TotalPipelineSteps {
		t.Fatalf("fallback must advance to the final step, got %d", rec.CurrentStep)
	}
}

func TestHandleDesignJobAgentVerdictWins(t *testing.T) {
	var repo repository.StatusRepository
	fa := &fakeAgent{}
	fa.fn = func(ctx context.Context, req agent.InvokeRequest, onChunk func(string)) error {
		// The agent reports its own terminal verdict mid-run.
		failed := domain.StatusFailed
		red := domain.LightRed
		msg := "Water supply insufficient for remote area demand"
		if _, err := repo.Apply(ctx, req.TaskID, domain.StatusUpdate{
			Status: &failed, TrafficLight: &red, Message: &msg,
		}, msg); err != nil {
			return err
		}
		return nil
	}
	o, r := setupOrchestrator(t, fa)
	repo = r
	task := seedJob(t, repo, "job-2", "proj-1")

	if err := o.HandleDesignJob(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec, err := repo.Get(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusFailed || rec.TrafficLight != domain.LightRed {
		t.Fatalf("fallback must not override the agent verdict, got %s/%s", rec.Status, rec.TrafficLight)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], "Water supply") {
		t.Fatalf("agent error not preserved: %v", rec.Errors)
	}
}

func TestHandleDesignJobInvocationFailure(t *testing.T) {
	fa := &fakeAgent{fn: func(ctx context.Context, req agent.InvokeRequest, onChunk func(string)) error {
		return errors.New("agent endpoint unreachable")
	}}
	o, repo := setupOrchestrator(t, fa)
	task := seedJob(t, repo, "job-3", "proj-1")

	err := o.HandleDesignJob(context.Background(), task)
	if err == nil {
		t.Fatal("expected handler to surface the failure for redelivery")
	}

	rec, err := repo.Get(context.Background(), "job-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusFailed || rec.TrafficLight != domain.LightRed {
		t.Fatalf("expected FAILED/RED, got %s/%s", rec.Status, rec.TrafficLight)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], "unreachable") {
		t.Fatalf("invocation error not appended: %v", rec.Errors)
	}

	// Redelivery after the failure write finds a terminal record and acks.
	if err := o.HandleDesignJob(context.Background(), task); err != nil {
		t.Fatalf("redelivery must be absorbed: %v", err)
	}
	if fa.calls != 1 {
		t.Fatalf("terminal task must not re-invoke the agent, got %d calls", fa.calls)
	}
}

func TestHandleDesignJobTimeoutSurfacesFailure(t *testing.T) {
	// The agent call blows the run deadline: by the time Invoke returns the
	// handler context is canceled. The terminal write must still land.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fa := &fakeAgent{}
	fa.fn = func(c context.Context, req agent.InvokeRequest, onChunk func(string)) error {
		cancel()
		return context.DeadlineExceeded
	}
	o, repo := setupOrchestrator(t, fa)
	task := seedJob(t, repo, "job-6", "proj-6")

	if err := o.HandleDesignJob(ctx, task); err == nil {
		t.Fatal("expected the timeout to surface for redelivery")
	}

	rec, err := repo.Get(context.Background(), "job-6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusFailed || rec.TrafficLight != domain.LightRed {
		t.Fatalf("timed out run must end FAILED/RED, got %s/%s", rec.Status, rec.TrafficLight)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], "deadline") {
		t.Fatalf("timeout error not appended: %v", rec.Errors)
	}

	// The lock release also outlives the canceled context.
	ok, err := repo.AcquireProjectLock(context.Background(), "proj-6", "next-task", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock must be free after the timed out run: ok=%v err=%v", ok, err)
	}
}

func TestHandleDesignJobProjectLockContention(t *testing.T) {
	fa := &fakeAgent{}
	o, repo := setupOrchestrator(t, fa)
	task := seedJob(t, repo, "job-4", "proj-shared")

	ok, err := repo.AcquireProjectLock(context.Background(), "proj-shared", "other-task", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}

	if err := o.HandleDesignJob(context.Background(), task); err == nil {
		t.Fatal("expected contention to defer the job via an error")
	}
	if fa.calls != 0 {
		t.Fatal("deferred job must not invoke the agent")
	}

	rec, err := repo.Get(context.Background(), "job-4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusQueued {
		t.Fatalf("deferred job must stay QUEUED, got %s", rec.Status)
	}

	// Lock released by the other run: the redelivery proceeds.
	if err := repo.ReleaseProjectLock(context.Background(), "proj-shared", "other-task"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := o.HandleDesignJob(context.Background(), task); err != nil {
		t.Fatalf("redelivery after release: %v", err)
	}
	rec, _ = repo.Get(context.Background(), "job-4")
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED after redelivery, got %s", rec.Status)
	}
}

func TestHandleDesignJobReleasesLock(t *testing.T) {
	fa := &fakeAgent{}
	o, repo := setupOrchestrator(t, fa)
	task := seedJob(t, repo, "job-5", "proj-5")

	if err := o.HandleDesignJob(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ok, err := repo.AcquireProjectLock(context.Background(), "proj-5", "next-task", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("lock must be released after the run")
	}
}

func TestHandleDesignJobUnknownTaskDropped(t *testing.T) {
	fa := &fakeAgent{}
	o, _ := setupOrchestrator(t, fa)

	b, _ := json.Marshal(&domain.JobPayload{TaskID: "ghost", ProjectID: "proj-x"})
	if err := o.HandleDesignJob(context.Background(), asynq.NewTask("design:run", b)); err != nil {
		t.Fatalf("reclaimed task must be acked, got %v", err)
	}
	if fa.calls != 0 {
		t.Fatal("unknown task must not invoke the agent")
	}
}

func TestHandleDesignJobCorruptPayload(t *testing.T) {
	fa := &fakeAgent{}
	o, _ := setupOrchestrator(t, fa)

	err := o.HandleDesignJob(context.Background(), asynq.NewTask("design:run", []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("corrupt payload must skip retry, got %v", err)
	}
}
