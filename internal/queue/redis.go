package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable Queue backend. Waiting, delayed and active jobs
// live in sorted sets, per-job bookkeeping in a hash, and the dedup index in
// plain keys, so jobs survive a process restart. Delivery is at-least-once:
// a crash between ZPOPMIN and the verdict re-runs the job via the timeout
// reaper, which the worker's idempotent lifecycle application absorbs.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		prefix: "moderation",
		stop:   make(chan struct{}),
	}
}

func (q *RedisQueue) key(suffix string) string {
	return q.prefix + ":" + suffix
}

func (q *RedisQueue) jobKey(jobID string) string {
	return q.key("job:" + jobID)
}

func (q *RedisQueue) dedupKey(photoID uuid.UUID) string {
	return q.key("photo:" + photoID.String())
}

// waitingScore orders the waiting set: priority rank in the high digits,
// an enqueue sequence number in the low ones. Ranks stay below float64
// precision loss.
func waitingScore(priority Priority, seq int64) float64 {
	return float64(int64(priority)*1e15 + seq)
}

func (q *RedisQueue) Enqueue(ctx context.Context, req ScanRequest) (string, error) {
	req, err := normalize(req)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < 2; attempt++ {
		jobID := uuid.New().String()
		set, err := q.client.SetNX(ctx, q.dedupKey(req.PhotoID), jobID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("failed to reserve dedup key: %w", err)
		}
		if !set {
			existing, err := q.client.Get(ctx, q.dedupKey(req.PhotoID)).Result()
			if err == redis.Nil {
				continue // reservation vanished under us, re-reserve
			}
			if err != nil {
				return "", fmt.Errorf("failed to read dedup key: %w", err)
			}
			exists, err := q.client.Exists(ctx, q.jobKey(existing)).Result()
			if err != nil {
				return "", fmt.Errorf("failed to verify deduped job: %w", err)
			}
			if exists > 0 {
				// A non-terminal job already exists for this photo.
				return existing, nil
			}
			// Orphaned reservation: a crash between reserving and writing
			// the job left a dedup key with nothing behind it. Heal it.
			log.Printf("⚠️  Clearing orphaned dedup key for photo %s (job %s gone)", req.PhotoID, existing)
			q.client.Del(ctx, q.dedupKey(req.PhotoID))
			continue
		}

		data, err := json.Marshal(req)
		if err != nil {
			q.client.Del(ctx, q.dedupKey(req.PhotoID))
			return "", fmt.Errorf("failed to marshal scan request: %w", err)
		}

		seq, err := q.client.Incr(ctx, q.key("seq")).Result()
		if err != nil {
			q.client.Del(ctx, q.dedupKey(req.PhotoID))
			return "", fmt.Errorf("failed to allocate sequence: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.jobKey(jobID), map[string]interface{}{
			"data":       data,
			"state":      string(StateWaiting),
			"attempts":   0,
			"token":      0,
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{Score: waitingScore(req.Priority, seq), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			// Without this the reservation outlives the failed write and
			// every later enqueue returns a job that does not exist.
			q.client.Del(ctx, q.dedupKey(req.PhotoID))
			return "", fmt.Errorf("failed to enqueue job: %w", err)
		}
		return jobID, nil
	}
	return "", fmt.Errorf("failed to reserve enqueue slot for photo %s", req.PhotoID)
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Lease, error) {
	for {
		select {
		case <-q.stop:
			return nil, ErrClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.promoteDelayed(ctx)
		q.reapTimeouts(ctx)

		paused, err := q.client.Exists(ctx, q.key("paused")).Result()
		if err == nil && paused == 0 {
			popped, err := q.client.ZPopMin(ctx, q.key("waiting"), 1).Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("failed to pop waiting job: %w", err)
			}
			if len(popped) > 0 {
				jobID := popped[0].Member.(string)
				lease, err := q.claim(ctx, jobID)
				if err != nil {
					log.Printf("⚠️  Failed to claim job %s: %v", jobID, err)
					continue
				}
				return lease, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.stop:
			return nil, ErrClosed
		case <-time.After(q.opts.TickInterval):
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, jobID string) (*Lease, error) {
	data, err := q.client.HGet(ctx, q.jobKey(jobID), "data").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job data: %w", err)
	}
	var req ScanRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	token, err := q.client.HIncrBy(ctx, q.jobKey(jobID), "token", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fence lease: %w", err)
	}
	attempts, err := q.client.HIncrBy(ctx, q.jobKey(jobID), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count attempt: %w", err)
	}

	deadline := time.Now().UTC().Add(q.opts.JobTimeout)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), "state", string(StateActive))
	pipe.ZAdd(ctx, q.key("active"), redis.Z{Score: float64(deadline.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to activate job: %w", err)
	}

	return &Lease{JobID: jobID, Token: uint64(token), Attempt: int(attempts), Request: req}, nil
}

func (q *RedisQueue) Complete(ctx context.Context, lease *Lease) error {
	if !q.Valid(ctx, lease) {
		return ErrStaleLease
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("active"), lease.JobID)
	pipe.Del(ctx, q.dedupKey(lease.Request.PhotoID))
	pipe.HSet(ctx, q.jobKey(lease.JobID),
		"state", string(StateCompleted),
		"completed_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: lease.JobID})
	pipe.Expire(ctx, q.jobKey(lease.JobID), q.opts.CompletedRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	q.trimHistory(ctx, q.key("completed"), q.opts.CompletedMax, q.opts.CompletedRetention)
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, lease *Lease, cause error) error {
	if !q.Valid(ctx, lease) {
		return ErrStaleLease
	}
	if err := q.client.ZRem(ctx, q.key("active"), lease.JobID).Err(); err != nil {
		return fmt.Errorf("failed to deactivate job: %w", err)
	}
	return q.failJob(ctx, lease.JobID, lease.Request.PhotoID, lease.Attempt, cause)
}

func (q *RedisQueue) failJob(ctx context.Context, jobID string, photoID uuid.UUID, attempts int, cause error) error {
	fields := map[string]interface{}{}
	if cause != nil {
		fields["last_error"] = cause.Error()
	}

	if attempts >= q.opts.MaxAttempts {
		fields["state"] = string(StateFailed)
		fields["completed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.jobKey(jobID), fields)
		pipe.Del(ctx, q.dedupKey(photoID))
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
		pipe.Expire(ctx, q.jobKey(jobID), q.opts.FailedRetention)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to park job in failed history: %w", err)
		}
		q.trimHistory(ctx, q.key("failed"), q.opts.FailedMax, q.opts.FailedRetention)
		return nil
	}

	readyAt := time.Now().UTC().Add(q.opts.backoffDelay(attempts))
	fields["state"] = string(StateDelayed)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), fields)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

func (q *RedisQueue) Valid(ctx context.Context, lease *Lease) bool {
	vals, err := q.client.HMGet(ctx, q.jobKey(lease.JobID), "state", "token").Result()
	if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return false
	}
	state, _ := vals[0].(string)
	tokenStr, _ := vals[1].(string)
	token, err := strconv.ParseUint(tokenStr, 10, 64)
	if err != nil {
		return false
	}
	return state == string(StateActive) && token == lease.Token
}

// promoteDelayed moves due retries back into the waiting set.
func (q *RedisQueue) promoteDelayed(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64), Count: 100,
	}).Result()
	if err != nil || len(due) == 0 {
		return
	}

	for _, jobID := range due {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), jobID).Result()
		if err != nil || removed == 0 {
			continue // another instance promoted it
		}
		data, err := q.client.HGet(ctx, q.jobKey(jobID), "data").Result()
		if err != nil {
			continue
		}
		var req ScanRequest
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			continue
		}
		seq, err := q.client.Incr(ctx, q.key("seq")).Result()
		if err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.jobKey(jobID), "state", string(StateWaiting))
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{Score: waitingScore(req.Priority, seq), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("⚠️  Failed to promote delayed job %s: %v", jobID, err)
		}
	}
}

// reapTimeouts fails active jobs past their processing ceiling. Claiming a
// job bumps its lease token, so the stuck worker's eventual result is
// fenced out.
func (q *RedisQueue) reapTimeouts(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	expired, err := q.client.ZRangeByScore(ctx, q.key("active"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64), Count: 100,
	}).Result()
	if err != nil || len(expired) == 0 {
		return
	}

	for _, jobID := range expired {
		removed, err := q.client.ZRem(ctx, q.key("active"), jobID).Result()
		if err != nil || removed == 0 {
			continue
		}
		// Bump the token so the stale lease can no longer Complete/Fail.
		if err := q.client.HIncrBy(ctx, q.jobKey(jobID), "token", 1).Err(); err != nil {
			continue
		}
		vals, err := q.client.HMGet(ctx, q.jobKey(jobID), "data", "attempts").Result()
		if err != nil || len(vals) != 2 || vals[0] == nil {
			continue
		}
		var req ScanRequest
		if err := json.Unmarshal([]byte(vals[0].(string)), &req); err != nil {
			continue
		}
		attempts := 0
		if s, ok := vals[1].(string); ok {
			attempts, _ = strconv.Atoi(s)
		}
		log.Printf("⚠️  Job %s exceeded processing ceiling, re-queueing (attempt %d)", jobID, attempts)
		if err := q.failJob(ctx, jobID, req.PhotoID, attempts, errTimeout); err != nil {
			log.Printf("❌ Failed to re-queue timed out job %s: %v", jobID, err)
		}
	}
}

func (q *RedisQueue) trimHistory(ctx context.Context, key string, max int, retention time.Duration) {
	cutoff := float64(time.Now().Add(-retention).UnixMilli())
	pipe := q.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-max-1))
	_, _ = pipe.Exec(ctx)
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.TxPipeline()
	waiting := pipe.ZCard(ctx, q.key("waiting"))
	active := pipe.ZCard(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Delayed:   int(delayed.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.key("paused"), "1", 0).Err()
}

func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.key("paused")).Err()
}

// Drain discards every waiting and delayed job. In-flight jobs keep running.
func (q *RedisQueue) Drain(ctx context.Context) error {
	for _, key := range []string{q.key("waiting"), q.key("delayed")} {
		jobIDs, err := q.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to list jobs for drain: %w", err)
		}
		for _, jobID := range jobIDs {
			data, err := q.client.HGet(ctx, q.jobKey(jobID), "data").Result()
			if err == nil {
				var req ScanRequest
				if json.Unmarshal([]byte(data), &req) == nil {
					q.client.Del(ctx, q.dedupKey(req.PhotoID))
				}
			}
			q.client.Del(ctx, q.jobKey(jobID))
			q.client.ZRem(ctx, key, jobID)
		}
	}
	return nil
}

func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return nil
}
