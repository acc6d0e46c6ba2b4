// Package queue implements the debounced notification job queue: a
// Redis sorted set of due jobs plus a per-(dialog,user) debounce index
// so repeated activity collapses into one notification.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dueSetKey    = "jobs:due"
	jobKeyPrefix = "job:"
	pendingPrefix = "pending:"
)

// Job is a pending notification for one (dialog, user) pair, carrying
// the most recent message that triggered it.
type Job struct {
	ID        string    `json:"id"`
	DialogID  string    `json:"dialog_id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	RunAt     time.Time `json:"run_at"`
}

func pendingKey(dialogID, userID string) string {
	return fmt.Sprintf("%s%s:%s", pendingPrefix, dialogID, userID)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Queue wraps a Redis client with the due-set/debounce-index scheme.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
	delay  time.Duration
}

func New(client *redis.Client, logger *zap.Logger, delay time.Duration) *Queue {
	return &Queue{client: client, logger: logger, delay: delay}
}

// Enqueue schedules a notification job to fire after the configured
// delay, debounced: if a job for this (dialog, user) pair is already
// pending, its due time is pushed back instead of a second job being
// created. This is what turns a burst of messages into one
// notification fired after the sender goes quiet.
func (q *Queue) Enqueue(ctx context.Context, dialogID, userID, newMessageID string) error {
	pKey := pendingKey(dialogID, userID)

	// The job id is deterministic per (dialog, user), not derived from
	// the message: that's what lets a debounce just overwrite the
	// existing due-set entry and job payload in place, always pointing
	// at newMessageID, rather than leaving a stale job behind.
	jobID := dialogID + ":" + userID

	job := Job{ID: jobID, DialogID: dialogID, UserID: userID, MessageID: newMessageID, RunAt: time.Now().Add(q.delay)}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, pKey, jobID, q.delay+time.Minute)
	pipe.Set(ctx, jobKey(jobID), payload, q.delay+time.Minute)
	pipe.ZAdd(ctx, dueSetKey, redis.Z{Score: float64(job.RunAt.Unix()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimDue pops up to limit jobs whose run-at has passed, removing
// them from the due set so no other worker claims the same job.
func (q *Queue) ClaimDue(ctx context.Context, limit int64) ([]Job, error) {
	now := float64(time.Now().Unix())
	ids, err := q.client.ZRangeByScore(ctx, dueSetKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%f", now),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan due jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		// ZREM removes 0 members when another poller claimed this id
		// first; only the caller whose ZREM removed it owns the job.
		removed, err := q.client.ZRem(ctx, dueSetKey, id).Result()
		if err != nil {
			q.logger.Warn("claim due job failed", zap.String("jobId", id), zap.Error(err))
			continue
		}
		if removed == 0 {
			continue
		}
		raw, err := q.client.Get(ctx, jobKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			q.logger.Warn("load claimed job failed", zap.String("jobId", id), zap.Error(err))
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn("unmarshal claimed job failed", zap.String("jobId", id), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
		q.client.Del(ctx, jobKey(id), pendingKey(job.DialogID, job.UserID))
	}
	return jobs, nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
