package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/redis/go-redis/v9"
)

// ArtifactRepository tracks artifact references per (taskId, artifactType).
// Re-saving the same pair replaces the reference; blobs are never touched.
type ArtifactRepository interface {
	Save(ctx context.Context, rec domain.ArtifactRecord) error
	Get(ctx context.Context, taskID, artifactType string) (*domain.ArtifactRecord, error)
	List(ctx context.Context, taskID string) ([]domain.ArtifactRecord, error)
}

type artifactRedisRepo struct {
	rdb *redis.Client
}

func NewArtifactRepository(rdb *redis.Client) ArtifactRepository {
	return &artifactRedisRepo{rdb: rdb}
}

func (r *artifactRedisRepo) Save(ctx context.Context, rec domain.ArtifactRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal artifact record: %w", err)
	}
	if err := r.rdb.HSet(ctx, keyArtifacts(rec.TaskID), rec.ArtifactType, string(b)).Err(); err != nil {
		return fmt.Errorf("redis HSET artifact: %w", err)
	}
	return nil
}

func (r *artifactRedisRepo) Get(ctx context.Context, taskID, artifactType string) (*domain.ArtifactRecord, error) {
	js, err := r.rdb.HGet(ctx, keyArtifacts(taskID), artifactType).Result()
	if errors.Is(err, redis.Nil) || js == "" {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET artifact: %w", err)
	}
	var rec domain.ArtifactRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal artifact record: %w", err)
	}
	return &rec, nil
}

func (r *artifactRedisRepo) List(ctx context.Context, taskID string) ([]domain.ArtifactRecord, error) {
	h, err := r.rdb.HGetAll(ctx, keyArtifacts(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL artifacts: %w", err)
	}
	out := make([]domain.ArtifactRecord, 0, len(h))
	for _, js := range h {
		var rec domain.ArtifactRecord
		if err := json.Unmarshal([]byte(js), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
