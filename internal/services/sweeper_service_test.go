package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hydrantlabs/designq/pkg/domain"
)

func TestRequeueStuckReenqueuesOldQueuedTasks(t *testing.T) {
	// The shared clock sits an hour past record creation, so the bump after
	// a re-enqueue re-scores the index at "now" and not in the past.
	future := func() time.Time { return time.Now().Add(time.Hour) }
	statuses, _, _ := setupReposWithClock(t, future)
	enq := &fakeEnqueuer{}
	seedTask(t, statuses, "sw-1", "proj-1")

	svc := NewSweeperService(statuses, enq, testLogger(), future, 10*time.Minute, 100)

	n, err := svc.RequeueStuck(context.Background())
	if err != nil {
		t.Fatalf("requeue stuck: %v", err)
	}
	if n != 1 || enq.count() != 1 {
		t.Fatalf("expected 1 re-enqueue, got n=%d enqueued=%d", n, enq.count())
	}
	if enq.payloads[0].TaskID != "sw-1" {
		t.Fatalf("wrong payload re-enqueued: %s", enq.payloads[0].TaskID)
	}

	// The bumped index score keeps the same task out of the next sweep.
	n, err = svc.RequeueStuck(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no re-enqueue on second sweep, got %d", n)
	}
}

func TestRequeueStuckSkipsRecentAndNonQueued(t *testing.T) {
	statuses, _, _ := setupRepos(t)
	enq := &fakeEnqueuer{}
	seedTask(t, statuses, "sw-2", "proj-1")
	seedTask(t, statuses, "sw-3", "proj-2")

	// sw-3 moved to PROCESSING, so it left the queued index.
	processing := domain.StatusProcessing
	if _, err := statuses.Apply(context.Background(), "sw-3", domain.StatusUpdate{Status: &processing}, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}

	svc := NewSweeperService(statuses, enq, testLogger(), time.Now, 10*time.Minute, 100)
	n, err := svc.RequeueStuck(context.Background())
	if err != nil {
		t.Fatalf("requeue stuck: %v", err)
	}
	if n != 0 || enq.count() != 0 {
		t.Fatalf("fresh and non-queued tasks must not be swept, got n=%d", n)
	}
}

func TestReclaimExpiredRemovesRecords(t *testing.T) {
	statuses, _, _ := setupRepos(t)
	enq := &fakeEnqueuer{}
	seedTask(t, statuses, "sw-4", "proj-1")

	// Past the 24h retention window.
	future := func() time.Time { return time.Now().Add(25 * time.Hour) }
	svc := NewSweeperService(statuses, enq, testLogger(), future, 10*time.Minute, 100)

	n, err := svc.ReclaimExpired(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed record, got %d", n)
	}
	if _, err := statuses.Get(context.Background(), "sw-4"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after reclaim, got %v", err)
	}
}
