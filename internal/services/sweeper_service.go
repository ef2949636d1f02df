package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hydrantlabs/designq/internal/metrics"
	"github.com/hydrantlabs/designq/internal/queue"
	"github.com/hydrantlabs/designq/internal/repository"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/robfig/cron/v3"
)

// SweeperService reconciles the two lazy paths the request/response flow
// leaves behind: tasks stuck in QUEUED because an enqueue failed after the
// record write, and records past their retention deadline.
type SweeperService interface {
	RequeueStuck(ctx context.Context) (int, error)
	ReclaimExpired(ctx context.Context) (int, error)
	Register(c *cron.Cron, schedule string) error
}

type sweeperService struct {
	repo       repository.StatusRepository
	enqueuer   queue.Enqueuer
	logger     *slog.Logger
	now        func() time.Time
	stuckAfter time.Duration
	batchLimit int
}

func NewSweeperService(repo repository.StatusRepository, enqueuer queue.Enqueuer, logger *slog.Logger, now func() time.Time, stuckAfter time.Duration, batchLimit int) SweeperService {
	if now == nil {
		now = time.Now
	}
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 500
	}
	return &sweeperService{
		repo:       repo,
		enqueuer:   enqueuer,
		logger:     logger,
		now:        now,
		stuckAfter: stuckAfter,
		batchLimit: batchLimit,
	}
}

func (s *sweeperService) RequeueStuck(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.stuckAfter)
	ids, err := s.repo.StuckQueued(ctx, cutoff, s.batchLimit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, id := range ids {
		payload, err := s.repo.GetPayload(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return requeued, err
		}
		// Dedup by taskId makes this safe when the original enqueue did
		// land and the job is simply waiting out a backlog.
		if err := s.enqueuer.EnqueueJob(ctx, payload); err != nil {
			s.logger.Error("sweep re-enqueue failed", "taskId", id, "err", err)
			continue
		}
		if err := s.repo.BumpQueued(ctx, id); err != nil {
			s.logger.Warn("bump queued index failed", "taskId", id, "err", err)
		}
		metrics.SweepRequeuedTotal.Inc()
		s.logger.Info("stuck task re-enqueued", "taskId", id, "queuedSince", cutoff)
		requeued++
	}
	return requeued, nil
}

func (s *sweeperService) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := s.repo.ReclaimExpired(ctx, s.now(), s.batchLimit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SweepReclaimedTotal.Add(float64(n))
		s.logger.Info("expired task records reclaimed", "count", n)
	}
	return n, nil
}

func (s *sweeperService) Register(c *cron.Cron, schedule string) error {
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RequeueStuck(ctx); err != nil {
			s.logger.Error("stuck-queue sweep failed", "err", err)
		}
		if _, err := s.ReclaimExpired(ctx); err != nil {
			s.logger.Error("retention sweep failed", "err", err)
		}
	})
	return err
}
