package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

// Lane names the three work-distribution channels of the pipeline.
type Lane string

const (
	LaneSync      Lane = "sync"
	LaneRawEvents Lane = "raw_events"
	LaneNormalize Lane = "normalize"
)

// Lanes lists every lane a worker should drain.
var Lanes = []Lane{LaneSync, LaneRawEvents, LaneNormalize}

// LaneQueue coordinates ready, in-flight, and scheduled task sets in Redis,
// one independent set per lane. Delivery is at-least-once: a task stays in the
// in-flight set under a visibility timeout until acked or reclaimed.
type LaneQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
	dlqKey        string
}

// NewLaneQueue builds a queue client from config.
func NewLaneQueue(cfg config.Config) *LaneQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewLaneQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewLaneQueueWithClient wraps an existing Redis client (used by tests).
func NewLaneQueueWithClient(client *redis.Client, visibility time.Duration) *LaneQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &LaneQueue{
		client:        client,
		visibilityTTL: visibility,
		dlqKey:        "lane:dlq",
	}
}

func readyKey(lane Lane) string     { return fmt.Sprintf("lane:ready:%s", lane) }
func scheduledKey(lane Lane) string { return fmt.Sprintf("lane:scheduled:%s", lane) }
func inflightKey(lane Lane) string  { return fmt.Sprintf("lane:inflight:%s", lane) }
func taskKey(taskID string) string  { return "lane:task:" + taskID }

// Enqueue serializes a task onto a lane's ready list. The payload and attempt
// counter live in the task meta hash so retries survive worker crashes.
func (q *LaneQueue) Enqueue(ctx context.Context, lane Lane, taskType string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}
	task := models.Task{ID: uuid.New().String(), Type: taskType, Payload: body}
	encoded, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(task.ID), "task", encoded, "attempts", 0, "lane", string(lane))
	pipe.RPush(ctx, readyKey(lane), task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", lane, err)
	}
	return task.ID, nil
}

// Schedule moves an existing task into the lane's scheduled set for deferred
// redelivery (retry backoff).
func (q *LaneQueue) Schedule(ctx context.Context, lane Lane, taskID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, scheduledKey(lane), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: taskID,
	}).Err()
}

// PromoteScheduled moves due scheduled tasks back onto the ready list.
func (q *LaneQueue) PromoteScheduled(ctx context.Context, lane Lane, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey(lane), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey(lane), id)
		pipe.RPush(ctx, readyKey(lane), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops one task from the lane's ready list and places it into
// the in-flight set under the visibility timeout. Returns ok=false when the
// lane is empty.
func (q *LaneQueue) DequeueWithLease(ctx context.Context, lane Lane) (models.Task, int, bool, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{readyKey(lane), inflightKey(lane)},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return models.Task{}, 0, false, nil
	}
	if err != nil {
		return models.Task{}, 0, false, err
	}
	taskID, ok := res.(string)
	if !ok {
		return models.Task{}, 0, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	vals, err := q.client.HMGet(ctx, taskKey(taskID), "task", "attempts").Result()
	if err != nil {
		return models.Task{}, 0, false, fmt.Errorf("load task %s: %w", taskID, err)
	}
	raw, _ := vals[0].(string)
	if raw == "" {
		// Meta vanished (acked elsewhere or expired); drop the lease.
		_ = q.client.ZRem(ctx, inflightKey(lane), taskID).Err()
		return models.Task{}, 0, false, nil
	}
	var task models.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return models.Task{}, 0, false, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	attempts := 0
	if s, ok := vals[1].(string); ok {
		fmt.Sscanf(s, "%d", &attempts)
	}
	return task, attempts, true, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
func (q *LaneQueue) ExtendLease(ctx context.Context, lane Lane, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey(lane), redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a completed task from in-flight tracking and deletes its meta.
func (q *LaneQueue) Ack(ctx context.Context, lane Lane, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(lane), taskID)
	pipe.Del(ctx, taskKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RecordFailure bumps the attempt counter for a task and releases its lease.
// The caller decides between Schedule (retry) and DeadLetter.
func (q *LaneQueue) RecordFailure(ctx context.Context, lane Lane, taskID string) (int, error) {
	attempts, err := q.client.HIncrBy(ctx, taskKey(taskID), "attempts", 1).Result()
	if err != nil {
		return 0, err
	}
	if err := q.client.ZRem(ctx, inflightKey(lane), taskID).Err(); err != nil {
		return int(attempts), err
	}
	return int(attempts), nil
}

// RequeueExpired reclaims in-flight tasks whose lease timed out.
func (q *LaneQueue) RequeueExpired(ctx context.Context, lane Lane, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey(lane), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey(lane), id)
		pipe.RPush(ctx, readyKey(lane), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeadLetter moves an exhausted task to the DLQ list and clears its meta.
func (q *LaneQueue) DeadLetter(ctx context.Context, lane Lane, task models.Task) error {
	entry, err := json.Marshal(map[string]any{
		"lane": string(lane),
		"task": task,
	})
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.dlqKey, entry)
	pipe.ZRem(ctx, inflightKey(lane), task.ID)
	pipe.Del(ctx, taskKey(task.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// DLQPeek reads up to count dead-lettered entries for operational inspection.
func (q *LaneQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the total ready length across all lanes.
func (q *LaneQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(Lanes))
	for _, lane := range Lanes {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(lane)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// Client exposes the underlying Redis client for shared consumers (sync guard,
// stage-history cache, token bucket).
func (q *LaneQueue) Client() *redis.Client {
	return q.client
}

var dequeueScript = redis.NewScript(`
local task = redis.call('LPOP', KEYS[1])
if task then
  redis.call('ZADD', KEYS[2], ARGV[1], task)
  return task
end
return nil
`)
