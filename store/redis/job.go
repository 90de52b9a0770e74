package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// rankStride separates priority tiers in the waiting set's score space.
const rankStride = 1e13

// dequeueScript promotes due delayed jobs into waiting (in RunAt order),
// then pops the lowest-scored waiting job and marks it active.
//
// KEYS: waiting, delayed, active, seq
// ARGV: now (ms), job key prefix, worker id, now (RFC3339Nano)
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, jid in ipairs(due) do
  local key = ARGV[2] .. jid
  local rank = tonumber(redis.call('HGET', key, 'priority')) or 2
  local seq = redis.call('INCR', KEYS[4])
  redis.call('ZREM', KEYS[2], jid)
  redis.call('ZADD', KEYS[1], string.format('%.0f', rank * 1e13 + seq), jid)
  redis.call('HSET', key, 'state', 'waiting')
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local jid = popped[1]
redis.call('SADD', KEYS[3], jid)
redis.call('HSET', ARGV[2] .. jid,
  'state', 'active',
  'worker_id', ARGV[3],
  'started_at', ARGV[4],
  'heartbeat_at', ARGV[4],
  'updated_at', ARGV[4])
return jid
`)

// EnqueueJob stores the job as a Hash and indexes it as waiting or delayed.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return herald.ErrJobAlreadyExists
	}

	if j.RunAt.After(time.Now()) {
		j.State = job.StateDelayed
	} else {
		j.State = job.StateWaiting
	}

	var seq int64
	if j.State == job.StateWaiting {
		if seq, err = s.client.Incr(ctx, seqKey).Result(); err != nil {
			return fmt.Errorf("herald/redis: enqueue seq: %w", err)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	s.index(ctx, pipe, j, seq)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJob promotes due delayed jobs and claims the next waiting job.
func (s *Store) DequeueJob(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	now := time.Now().UTC()
	jID, err := dequeueScript.Run(ctx, s.client,
		[]string{waitingKey, delayedKey, activeKey, seqKey},
		now.UnixMilli(), jobKeyPrefix, workerID.String(), now.Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("herald/redis: dequeue: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and re-indexes it for its
// state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	switch j.State {
	case job.StateWaiting, job.StateActive, job.StateDelayed:
	default:
		return herald.ErrInvalidState
	}

	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	var seq int64
	if j.State == job.StateWaiting {
		if seq, err = s.client.Incr(ctx, seqKey).Result(); err != nil {
			return fmt.Errorf("herald/redis: update seq: %w", err)
		}
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if j.State != job.StateWaiting {
		pipe.ZRem(ctx, waitingKey, jID)
	}
	pipe.ZRem(ctx, delayedKey, jID)
	pipe.SRem(ctx, activeKey, jID)
	s.index(ctx, pipe, j, seq)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update job: %w", err)
	}
	return nil
}

// index adds the job to the structure for its state. A job already
// waiting keeps its position.
func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, seq int64) {
	jID := j.ID.String()
	switch j.State {
	case job.StateWaiting:
		pipe.ZAddNX(ctx, waitingKey, goredis.Z{Score: waitingScore(j.Priority, seq), Member: jID})
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jID})
	case job.StateActive:
		pipe.SAdd(ctx, activeKey, jID)
	}
}

// CompleteJob removes a job and increments the completed counter.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID) error {
	return s.removeJob(ctx, jobID, true)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return s.removeJob(ctx, jobID, false)
}

func (s *Store) removeJob(ctx context.Context, jobID id.JobID, completed bool) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: delete job exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, waitingKey, jID)
	pipe.ZRem(ctx, delayedKey, jID)
	pipe.SRem(ctx, activeKey, jID)
	if completed {
		pipe.Incr(ctx, completedKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete job: %w", err)
	}
	return nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns waiting, active, delayed and completed counts.
func (s *Store) CountJobs(ctx context.Context) (job.Counts, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, waitingKey)
	active := pipe.SCard(ctx, activeKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	completed := pipe.Get(ctx, completedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return job.Counts{}, fmt.Errorf("herald/redis: count jobs: %w", err)
	}

	c := job.Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}
	if n, err := completed.Int64(); err == nil {
		c.Completed = n
	}
	return c, nil
}

// ── helpers ──

// waitingScore orders waiting jobs by rank, then by sequence within a rank.
// Lower score = dequeued first.
func waitingScore(p job.Priority, seq int64) float64 {
	return float64(p)*rankStride + float64(seq)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"payload":      marshalJSON(j.Payload()),
		"priority":     strconv.Itoa(int(j.Priority)),
		"state":        string(j.State),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    "",
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
		"started_at":   "",
		"heartbeat_at": "",
	}
	if !j.WorkerID.IsNil() {
		m["worker_id"] = j.WorkerID.String()
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse job id: %w", err)
	}

	var p job.Payload
	if err := json.Unmarshal([]byte(m["payload"]), &p); err != nil {
		return nil, fmt.Errorf("herald/redis: decode payload for %s: %w", m["id"], err)
	}

	priority, _ := strconv.Atoi(m["priority"])        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:          jID,
		Type:        p.Type,
		Email:       p.Email,
		Data:        p.Data,
		Priority:    job.Priority(priority),
		State:       job.State(m["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       runAt,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for job payloads
	return string(b)
}
