package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupStatusRepo(t *testing.T) (context.Context, *miniredis.Miniredis, *redis.Client, StatusRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := NewStatusRepository(rdb, time.UTC, time.Now)
	return context.Background(), mr, rdb, repo
}

func newRecord(id string) (*domain.TaskRecord, *domain.JobPayload) {
	now := time.Now().UTC()
	rec := &domain.TaskRecord{
		TaskID:       id,
		ProjectID:    "P1",
		Status:       domain.StatusQueued,
		TrafficLight: domain.LightPending,
		CurrentStep:  0,
		TotalSteps:   domain.TotalPipelineSteps,
		Message:      "queued",
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	payload := &domain.JobPayload{
		TaskID:      id,
		ProjectID:   "P1",
		ProjectType: "new_design",
		HazardClass: "Light",
		InputFiles:  []domain.InputFileRef{{S3URI: "s3://in/plan.pdf", FileType: "pdf"}},
	}
	return rec, payload
}

func strPtr(s string) *string                          { return &s }
func intPtr(n int) *int                                { return &n }
func statusPtr(s domain.TaskStatus) *domain.TaskStatus { return &s }
func lightPtr(l domain.TrafficLight) *domain.TrafficLight {
	return &l
}

func TestCreateAndGet(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-1")
	if err := repo.Create(ctx, rec, payload); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusQueued || got.TrafficLight != domain.LightPending {
		t.Fatalf("unexpected lifecycle fields: %s/%s", got.Status, got.TrafficLight)
	}
	if got.CurrentStep != 0 || got.TotalSteps != 12 {
		t.Fatalf("unexpected steps: %d/%d", got.CurrentStep, got.TotalSteps)
	}
	p, err := repo.GetPayload(ctx, "t-1")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.HazardClass != "Light" || len(p.InputFiles) != 1 {
		t.Fatalf("payload snapshot lost: %+v", p)
	}
}

func TestGetUnknownTask(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	if _, err := repo.Get(ctx, "nope"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Apply(ctx, "nope", domain.StatusUpdate{Message: strPtr("x")}, ""); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound from apply, got %v", err)
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-2")
	if err := repo.Create(ctx, rec, payload); err != nil {
		t.Fatalf("create: %v", err)
	}
	applied, err := repo.Apply(ctx, "t-2", domain.StatusUpdate{
		Status:      statusPtr(domain.StatusProcessing),
		CurrentStep: intPtr(3),
		Message:     strPtr("routing paths"),
	}, "")
	if err != nil || !applied {
		t.Fatalf("apply: applied=%v err=%v", applied, err)
	}
	got, _ := repo.Get(ctx, "t-2")
	if got.Status != domain.StatusProcessing || got.CurrentStep != 3 || got.Message != "routing paths" {
		t.Fatalf("partial update not applied: %+v", got)
	}
	if got.TrafficLight != domain.LightPending {
		t.Fatalf("omitted field must be untouched, got %s", got.TrafficLight)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Fatalf("updatedAt must be >= createdAt")
	}
}

func TestCurrentStepMonotonic(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-3")
	_ = repo.Create(ctx, rec, payload)

	if _, err := repo.Apply(ctx, "t-3", domain.StatusUpdate{CurrentStep: intPtr(7)}, ""); err != nil {
		t.Fatalf("apply 7: %v", err)
	}
	if _, err := repo.Apply(ctx, "t-3", domain.StatusUpdate{CurrentStep: intPtr(4)}, ""); err != nil {
		t.Fatalf("apply 4: %v", err)
	}
	got, _ := repo.Get(ctx, "t-3")
	if got.CurrentStep != 7 {
		t.Fatalf("currentStep regressed: got %d, want 7", got.CurrentStep)
	}
	if _, err := repo.Apply(ctx, "t-3", domain.StatusUpdate{CurrentStep: intPtr(9)}, ""); err != nil {
		t.Fatalf("apply 9: %v", err)
	}
	got, _ = repo.Get(ctx, "t-3")
	if got.CurrentStep != 9 {
		t.Fatalf("currentStep must still advance: got %d", got.CurrentStep)
	}
}

func TestCurrentStepBoundedByTotalSteps(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-8")
	_ = repo.Create(ctx, rec, payload)

	// A runaway step count is clamped to the pipeline length.
	if _, err := repo.Apply(ctx, "t-8", domain.StatusUpdate{CurrentStep: intPtr(50)}, ""); err != nil {
		t.Fatalf("apply 50: %v", err)
	}
	got, _ := repo.Get(ctx, "t-8")
	if got.CurrentStep != got.TotalSteps {
		t.Fatalf("currentStep must be clamped to totalSteps, got %d/%d", got.CurrentStep, got.TotalSteps)
	}
	if got.ProgressPercent() != 100 {
		t.Fatalf("progress past 100: %d", got.ProgressPercent())
	}

	// totalSteps cannot drop below the stored currentStep.
	if _, err := repo.Apply(ctx, "t-8", domain.StatusUpdate{TotalSteps: intPtr(3)}, ""); err != nil {
		t.Fatalf("apply total 3: %v", err)
	}
	got, _ = repo.Get(ctx, "t-8")
	if got.TotalSteps != domain.TotalPipelineSteps {
		t.Fatalf("totalSteps shrank below currentStep: %d", got.TotalSteps)
	}

	// Raising totalSteps opens room for further progress.
	if _, err := repo.Apply(ctx, "t-8", domain.StatusUpdate{TotalSteps: intPtr(15), CurrentStep: intPtr(14)}, ""); err != nil {
		t.Fatalf("apply total 15: %v", err)
	}
	got, _ = repo.Get(ctx, "t-8")
	if got.TotalSteps != 15 || got.CurrentStep != 14 {
		t.Fatalf("raised total not honored: %d/%d", got.CurrentStep, got.TotalSteps)
	}
}

func TestTerminalStateSticky(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-4")
	_ = repo.Create(ctx, rec, payload)

	applied, err := repo.Apply(ctx, "t-4", domain.StatusUpdate{
		Status:       statusPtr(domain.StatusFailed),
		TrafficLight: lightPtr(domain.LightRed),
	}, "agent error")
	if err != nil || !applied {
		t.Fatalf("terminal apply: applied=%v err=%v", applied, err)
	}

	// Late fallback write must be absorbed without changing anything.
	applied, err = repo.Apply(ctx, "t-4", domain.StatusUpdate{
		Status:       statusPtr(domain.StatusCompleted),
		TrafficLight: lightPtr(domain.LightGreen),
		CurrentStep:  intPtr(12),
	}, "")
	if err != nil {
		t.Fatalf("late apply: %v", err)
	}
	if applied {
		t.Fatalf("write after terminal state must be a no-op")
	}
	got, _ := repo.Get(ctx, "t-4")
	if got.Status != domain.StatusFailed || got.TrafficLight != domain.LightRed {
		t.Fatalf("terminal state overwritten: %s/%s", got.Status, got.TrafficLight)
	}
	if len(got.Errors) != 1 || got.Errors[0] != "agent error" {
		t.Fatalf("expected single error entry, got %v", got.Errors)
	}
}

func TestApplyRemovesFromQueuedIndex(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-5")
	_ = repo.Create(ctx, rec, payload)

	ids, err := repo.StuckQueued(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("stuck queued: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t-5" {
		t.Fatalf("expected queued index entry, got %v", ids)
	}

	if _, err := repo.Apply(ctx, "t-5", domain.StatusUpdate{Status: statusPtr(domain.StatusProcessing)}, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ids, _ = repo.StuckQueued(ctx, time.Now().Add(time.Hour), 10)
	if len(ids) != 0 {
		t.Fatalf("processing task still in queued index: %v", ids)
	}
}

func TestProjectLock(t *testing.T) {
	ctx, _, _, repo := setupStatusRepo(t)
	ok, err := repo.AcquireProjectLock(ctx, "P1", "w1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.AcquireProjectLock(ctx, "P1", "w2", time.Minute)
	if ok {
		t.Fatalf("second acquire on same project must fail")
	}
	// Release by non-owner is a no-op.
	if err := repo.ReleaseProjectLock(ctx, "P1", "w2"); err != nil {
		t.Fatalf("release non-owner: %v", err)
	}
	ok, _ = repo.AcquireProjectLock(ctx, "P1", "w3", time.Minute)
	if ok {
		t.Fatalf("lock must survive a non-owner release")
	}
	if err := repo.ReleaseProjectLock(ctx, "P1", "w1"); err != nil {
		t.Fatalf("release owner: %v", err)
	}
	ok, _ = repo.AcquireProjectLock(ctx, "P1", "w3", time.Minute)
	if !ok {
		t.Fatalf("lock must be free after owner release")
	}
}

func TestReclaimExpired(t *testing.T) {
	ctx, _, rdb, repo := setupStatusRepo(t)
	rec, payload := newRecord("t-6")
	rec.ExpiresAt = time.Now().Add(-time.Hour)
	_ = repo.Create(ctx, rec, payload)
	rec2, payload2 := newRecord("t-7")
	_ = repo.Create(ctx, rec2, payload2)

	n, err := repo.ReclaimExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}
	if _, err := repo.Get(ctx, "t-6"); err != domain.ErrNotFound {
		t.Fatalf("expected reclaimed task to be gone, got %v", err)
	}
	if _, err := repo.Get(ctx, "t-7"); err != nil {
		t.Fatalf("live task must survive reclaim: %v", err)
	}
	if n, _ := rdb.Exists(ctx, keyErrors("t-6")).Result(); n != 0 {
		t.Fatalf("errors list must be reclaimed")
	}
}
