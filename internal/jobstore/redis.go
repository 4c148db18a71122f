package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// Redis is a shared Store for multi-instance deployments. Records are stored
// as JSON values under a common prefix with a TTL backstop, so even if the
// retention sweep never runs, Redis eventually evicts stale jobs itself.
//
// Update runs its read-modify-write under WATCH so the terminal check and
// the write commit as one unit even when the owning worker and a watchdog
// sweep race to finalize the same job.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption customises a Redis store.
type RedisOption func(*Redis)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL overrides the per-key TTL backstop.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis constructs a Redis-backed store.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "exportjobs:",
		ttl:    48 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(jobID string) string {
	return r.prefix + jobID
}

func (r *Redis) Set(ctx context.Context, job model.ExportJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(job.ID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, jobID string) (model.ExportJob, error) {
	b, err := r.rdb.Get(ctx, r.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.ExportJob{}, ErrNotFound
		}
		return model.ExportJob{}, fmt.Errorf("load job: %w", err)
	}
	var job model.ExportJob
	if err := json.Unmarshal(b, &job); err != nil {
		return model.ExportJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (r *Redis) Update(ctx context.Context, jobID string, patch Patch) error {
	key := r.key(jobID)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}
		var job model.ExportJob
		if err := json.Unmarshal(b, &job); err != nil {
			return fmt.Errorf("decode job: %w", err)
		}
		if job.Status.Terminal() {
			return ErrTerminal
		}
		out, err := json.Marshal(patch.Apply(job))
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update job: %w", redis.TxFailedErr)
}

func (r *Redis) Delete(ctx context.Context, jobID string) error {
	if err := r.rdb.Del(ctx, r.key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (r *Redis) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue // evicted between SCAN and GET
		}
		var job model.ExportJob
		if err := json.Unmarshal(b, &job); err != nil {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			if err := r.rdb.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan jobs: %w", err)
	}
	return removed, nil
}

func (r *Redis) Size(ctx context.Context) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}
	return n, nil
}
