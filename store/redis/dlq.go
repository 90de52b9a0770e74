package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// PushDLQ adds a failed job entry to the failed list.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	jID := entry.JobID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, failedKey(jID))
	pipe.HSet(ctx, failedKey(jID), dlqToMap(entry))
	pipe.ZAdd(ctx, failedIndexKey, goredis.Z{Score: float64(entry.FailedAt.UnixMicro()), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: push failed: %w", err)
	}
	return nil
}

// ListDLQ returns entries, most recently failed first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, failedIndexKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list failed: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, jID := range ids {
		vals, getErr := s.client.HGetAll(ctx, failedKey(jID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves the failed entry for a job.
func (s *Store) GetDLQ(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, failedKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// DeleteDLQ removes the failed entry for a job.
func (s *Store) DeleteDLQ(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, failedKey(jID))
	pipe.ZRem(ctx, failedIndexKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete failed: %w", err)
	}
	if del.Val() == 0 {
		return herald.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, failedIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: purge failed range: %w", err)
	}
	return s.removeFailed(ctx, ids)
}

// TrimDLQ keeps the keep most recent entries.
func (s *Store) TrimDLQ(ctx context.Context, keep int) (int64, error) {
	n, err := s.client.ZCard(ctx, failedIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: trim failed card: %w", err)
	}
	excess := n - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	ids, err := s.client.ZRange(ctx, failedIndexKey, 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: trim failed range: %w", err)
	}
	return s.removeFailed(ctx, ids)
}

func (s *Store) removeFailed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, jID := range ids {
		keys[i] = failedKey(jID)
		members[i] = jID
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	removed := pipe.ZRem(ctx, failedIndexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("herald/redis: remove failed: %w", err)
	}
	return removed.Val(), nil
}

// CountDLQ returns the number of failed entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, failedIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count failed: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	return map[string]interface{}{
		"job_id":       e.JobID.String(),
		"payload":      marshalJSON(job.Payload{Type: e.Type, Email: e.Email, Data: e.Data}),
		"priority":     strconv.Itoa(int(e.Priority)),
		"attempts":     strconv.Itoa(e.Attempts),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"error":        e.Error,
		"enqueued_at":  e.EnqueuedAt.Format(time.RFC3339Nano),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
	}
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse failed job id: %w", err)
	}

	var p job.Payload
	if err := json.Unmarshal([]byte(m["payload"]), &p); err != nil {
		return nil, fmt.Errorf("herald/redis: decode failed payload: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])               //nolint:errcheck // best-effort parse from trusted Redis data
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		JobID:       jobID,
		Type:        p.Type,
		Email:       p.Email,
		Data:        p.Data,
		Priority:    job.Priority(priority),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Error:       m["error"],
		EnqueuedAt:  enqueuedAt,
		FailedAt:    failedAt,
	}, nil
}
