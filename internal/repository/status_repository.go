package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/redis/go-redis/v9"
)

// StatusRepository is the single source of truth for task lifecycle. All
// writers go through Apply, which is field-scoped and guarded: terminal
// states are sticky and currentStep never decreases nor exceeds totalSteps,
// so concurrent callback and worker writes cannot clobber each other.
type StatusRepository interface {
	Create(ctx context.Context, rec *domain.TaskRecord, payload *domain.JobPayload) error
	Get(ctx context.Context, taskID string) (*domain.TaskRecord, error)
	GetPayload(ctx context.Context, taskID string) (*domain.JobPayload, error)

	// Apply performs a guarded partial update, optionally appending one
	// error string. Returns false when the record is already terminal and
	// the write was absorbed as a no-op.
	Apply(ctx context.Context, taskID string, upd domain.StatusUpdate, errMsg string) (bool, error)

	AcquireProjectLock(ctx context.Context, projectID, owner string, ttl time.Duration) (bool, error)
	ReleaseProjectLock(ctx context.Context, projectID, owner string) error

	StuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	BumpQueued(ctx context.Context, taskID string) error
	ReclaimExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type statusRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
	now func() time.Time
}

func NewStatusRepository(rdb *redis.Client, tz *time.Location, now func() time.Time) StatusRepository {
	if now == nil {
		now = time.Now
	}
	return &statusRedisRepo{rdb: rdb, tz: tz, now: now}
}

func keyTask(id string) string      { return "designq:task:" + id }
func keyErrors(id string) string    { return "designq:task:" + id + ":errors" }
func keyArtifacts(id string) string { return "designq:artifacts:" + id }
func keyTTLIndex() string           { return "designq:tasks:ttl" }
func keyQueuedIndex() string        { return "designq:tasks:queued" }
func keyProjectLock(p string) string {
	return "designq:plock:" + p
}

const artifactFieldPrefix = "artifact:"

// applyScript performs the guarded, field-scoped update atomically.
//
// Terminal statuses are sticky: once the hash carries COMPLETED or FAILED
// no further write is applied. currentStep only ever increases and is
// clamped to totalSteps; a totalSteps write below the stored currentStep
// is dropped. A status write leaving QUEUED drops the task from the
// stuck-QUEUED index.
//
// KEYS[1] = task hash
// KEYS[2] = errors list
// KEYS[3] = queued index zset
// ARGV[1] = updatedAt
// ARGV[2] = error message to append ("" = none)
// ARGV[3] = task id
// ARGV[4..] = field/value pairs
var applyScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status == "COMPLETED" or status == "FAILED" then
  return 0
end
local cur = tonumber(redis.call("HGET", KEYS[1], "currentStep")) or 0
local total = tonumber(redis.call("HGET", KEYS[1], "totalSteps")) or 0
for i = 4, #ARGV, 2 do
  if ARGV[i] == "totalSteps" then
    local nt = tonumber(ARGV[i+1]) or 0
    if nt >= cur then
      redis.call("HSET", KEYS[1], "totalSteps", nt)
      total = nt
    end
  end
end
for i = 4, #ARGV, 2 do
  local field = ARGV[i]
  local value = ARGV[i+1]
  if field == "currentStep" then
    local nv = tonumber(value) or 0
    if total > 0 and nv > total then
      nv = total
    end
    if nv > cur then
      redis.call("HSET", KEYS[1], "currentStep", nv)
      cur = nv
    end
  elseif field ~= "totalSteps" then
    redis.call("HSET", KEYS[1], field, value)
    if field == "status" and value ~= "QUEUED" then
      redis.call("ZREM", KEYS[3], ARGV[3])
    end
  end
end
if ARGV[2] ~= "" then
  redis.call("RPUSH", KEYS[2], ARGV[2])
end
redis.call("HSET", KEYS[1], "updatedAt", ARGV[1])
return 1
`)

// releaseLockScript deletes the project lock only if still held by owner.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *statusRedisRepo) nowIn() time.Time { return r.now().In(r.tz) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (r *statusRedisRepo) Create(ctx context.Context, rec *domain.TaskRecord, payload *domain.JobPayload) error {
	pj, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	fields := map[string]any{
		"taskId":       rec.TaskID,
		"projectId":    rec.ProjectID,
		"status":       rec.Status,
		"trafficLight": rec.TrafficLight,
		"currentStep":  rec.CurrentStep,
		"totalSteps":   rec.TotalSteps,
		"message":      rec.Message,
		"payload":      string(pj),
		"createdAt":    fmtTime(rec.CreatedAt),
		"updatedAt":    fmtTime(rec.UpdatedAt),
		"expiresAt":    fmtTime(rec.ExpiresAt),
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keyTask(rec.TaskID), fields)
	pipe.ZAdd(ctx, keyTTLIndex(), redis.Z{Score: float64(rec.ExpiresAt.UTC().Unix()), Member: rec.TaskID})
	pipe.ZAdd(ctx, keyQueuedIndex(), redis.Z{Score: float64(rec.CreatedAt.UTC().Unix()), Member: rec.TaskID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create task: %w", err)
	}
	return nil
}

func (r *statusRedisRepo) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	h, err := r.rdb.HGetAll(ctx, keyTask(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL task: %w", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrNotFound
	}
	rec := &domain.TaskRecord{
		TaskID:       h["taskId"],
		ProjectID:    h["projectId"],
		Status:       domain.TaskStatus(h["status"]),
		TrafficLight: domain.TrafficLight(h["trafficLight"]),
		Message:      h["message"],
		CreatedAt:    parseTime(h["createdAt"]),
		UpdatedAt:    parseTime(h["updatedAt"]),
		ExpiresAt:    parseTime(h["expiresAt"]),
	}
	rec.CurrentStep, _ = strconv.Atoi(h["currentStep"])
	rec.TotalSteps, _ = strconv.Atoi(h["totalSteps"])
	for f, v := range h {
		if strings.HasPrefix(f, artifactFieldPrefix) {
			if rec.ArtifactRefs == nil {
				rec.ArtifactRefs = map[string]string{}
			}
			rec.ArtifactRefs[strings.TrimPrefix(f, artifactFieldPrefix)] = v
		}
	}
	errs, err := r.rdb.LRange(ctx, keyErrors(taskID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis LRANGE errors: %w", err)
	}
	rec.Errors = errs
	return rec, nil
}

func (r *statusRedisRepo) GetPayload(ctx context.Context, taskID string) (*domain.JobPayload, error) {
	js, err := r.rdb.HGet(ctx, keyTask(taskID), "payload").Result()
	if errors.Is(err, redis.Nil) || js == "" {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET payload: %w", err)
	}
	var p domain.JobPayload
	if err := json.Unmarshal([]byte(js), &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &p, nil
}

func (r *statusRedisRepo) Apply(ctx context.Context, taskID string, upd domain.StatusUpdate, errMsg string) (bool, error) {
	args := []any{fmtTime(r.nowIn()), errMsg, taskID}
	if upd.Status != nil {
		args = append(args, "status", string(*upd.Status))
	}
	if upd.TrafficLight != nil {
		args = append(args, "trafficLight", string(*upd.TrafficLight))
	}
	if upd.CurrentStep != nil {
		args = append(args, "currentStep", strconv.Itoa(*upd.CurrentStep))
	}
	if upd.TotalSteps != nil {
		args = append(args, "totalSteps", strconv.Itoa(*upd.TotalSteps))
	}
	if upd.Message != nil {
		args = append(args, "message", *upd.Message)
	}
	if upd.PDFRef != nil {
		args = append(args, artifactFieldPrefix+domain.ArtifactTypePDF, *upd.PDFRef)
	}

	keys := []string{keyTask(taskID), keyErrors(taskID), keyQueuedIndex()}
	res, err := applyScript.Run(ctx, r.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("apply script: %w", err)
	}
	switch res {
	case -1:
		return false, domain.ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (r *statusRedisRepo) AcquireProjectLock(ctx context.Context, projectID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, keyProjectLock(projectID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX project lock: %w", err)
	}
	return ok, nil
}

func (r *statusRedisRepo) ReleaseProjectLock(ctx context.Context, projectID, owner string) error {
	if err := releaseLockScript.Run(ctx, r.rdb, []string{keyProjectLock(projectID)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release project lock: %w", err)
	}
	return nil
}

func (r *statusRedisRepo) StuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	maxTS := strconv.FormatInt(olderThan.UTC().Unix(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, keyQueuedIndex(), &redis.ZRangeBy{
		Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ZRANGEBYSCORE queued: %w", err)
	}
	return ids, nil
}

func (r *statusRedisRepo) BumpQueued(ctx context.Context, taskID string) error {
	// Re-score so a task the sweep just re-enqueued is not picked up again
	// before the queue has had a chance to deliver it.
	err := r.rdb.ZAddXX(ctx, keyQueuedIndex(), redis.Z{
		Score:  float64(r.now().UTC().Unix()),
		Member: taskID,
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ZADD XX queued: %w", err)
	}
	return nil
}

func (r *statusRedisRepo) ReclaimExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	maxTS := strconv.FormatInt(before.UTC().Unix(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, keyTTLIndex(), &redis.ZRangeBy{
		Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("ZRANGEBYSCORE ttl: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := r.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, keyTask(id), keyErrors(id), keyArtifacts(id))
		pipe.ZRem(ctx, keyTTLIndex(), id)
		pipe.ZRem(ctx, keyQueuedIndex(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reclaim pipeline: %w", err)
	}
	return len(ids), nil
}
