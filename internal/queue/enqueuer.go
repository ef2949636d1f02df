package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/hibiken/asynq"
)

// TypeDesignJob is the task type every JobPayload is enqueued under.
const TypeDesignJob = "design:run"

// Enqueuer places immutable JobPayloads on the work queue. Delivery is
// at-least-once; enqueues are deduplicated by taskId for the retention
// window, so re-submitting the same task is a no-op.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, payload *domain.JobPayload) error
	Close() error
}

type Options struct {
	QueueName  string
	MaxRetry   int
	JobTimeout time.Duration
	Retention  time.Duration
}

type asynqEnqueuer struct {
	client *asynq.Client
	opts   Options
}

func NewEnqueuer(redisOpt asynq.RedisClientOpt, opts Options) Enqueuer {
	if opts.QueueName == "" {
		opts.QueueName = "designs"
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &asynqEnqueuer{client: asynq.NewClient(redisOpt), opts: opts}
}

// QueueFor maps the submission priority tag to a queue name. The worker
// weights the high queue above the default one.
func QueueFor(base, priority string) string {
	if priority == "high" {
		return base + "-high"
	}
	return base
}

func (e *asynqEnqueuer) EnqueueJob(ctx context.Context, payload *domain.JobPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	task := asynq.NewTask(TypeDesignJob, b)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.TaskID),
		asynq.Queue(QueueFor(e.opts.QueueName, payload.Priority)),
		asynq.MaxRetry(e.opts.MaxRetry),
		asynq.Timeout(e.opts.JobTimeout),
		asynq.Retention(e.opts.Retention),
	)
	if err != nil {
		// The same taskId within the retention window is a duplicate
		// submission; the first enqueue already covers it.
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (e *asynqEnqueuer) Close() error { return e.client.Close() }
