package queue

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

func newTestQueue(t *testing.T) *LaneQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLaneQueueWithClient(client, 30*time.Second)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id, err := q.Enqueue(ctx, LaneSync, models.TaskFullSync, models.SyncPayload{ConnectorID: "c1", SyncType: "full"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, attempts, ok, err := q.DequeueWithLease(ctx, LaneSync)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if task.ID != id || task.Type != models.TaskFullSync || attempts != 0 {
		t.Fatalf("got task=%+v attempts=%d", task, attempts)
	}
	var p models.SyncPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil || p.ConnectorID != "c1" {
		t.Fatalf("payload = %+v err=%v", p, err)
	}

	// Lane is drained while the task is leased.
	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneSync); ok {
		t.Fatalf("expected empty lane while task in flight")
	}

	if err := q.Ack(ctx, LaneSync, task.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// Meta is gone after ack.
	exists, _ := q.client.Exists(ctx, taskKey(task.ID)).Result()
	if exists != 0 {
		t.Fatalf("task meta survived ack")
	}
}

func TestLanesAreIndependent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Enqueue(ctx, LaneNormalize, models.TaskNormalizeApp, map[string]any{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneSync); ok {
		t.Fatalf("sync lane should be empty")
	}
	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneRawEvents); ok {
		t.Fatalf("raw events lane should be empty")
	}
	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneNormalize); !ok {
		t.Fatalf("normalize lane should have the task")
	}
}

func TestRetrySchedulingAndPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id, _ := q.Enqueue(ctx, LaneRawEvents, models.TaskRawPage, models.RawPagePayload{ConnectorID: "c1", Page: 1})
	task, _, ok, _ := q.DequeueWithLease(ctx, LaneRawEvents)
	if !ok {
		t.Fatalf("expected task")
	}

	attempts, err := q.RecordFailure(ctx, LaneRawEvents, task.ID)
	if err != nil || attempts != 1 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
	if err := q.Schedule(ctx, LaneRawEvents, task.ID, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	promoted, err := q.PromoteScheduled(ctx, LaneRawEvents, time.Now(), 10)
	if err != nil || promoted != 1 {
		t.Fatalf("promoted=%d err=%v", promoted, err)
	}

	again, attempts, ok, err := q.DequeueWithLease(ctx, LaneRawEvents)
	if err != nil || !ok {
		t.Fatalf("redelivery: ok=%v err=%v", ok, err)
	}
	if again.ID != id || attempts != 1 {
		t.Fatalf("redelivered id=%s attempts=%d", again.ID, attempts)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id, _ := q.Enqueue(ctx, LaneSync, models.TaskDeltaSync, models.SyncPayload{ConnectorID: "c1", SyncType: "delta"})
	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneSync); !ok {
		t.Fatalf("expected task")
	}

	// Lease has not expired yet.
	if ids, _ := q.RequeueExpired(ctx, LaneSync, time.Now(), 10); len(ids) != 0 {
		t.Fatalf("unexpired lease reclaimed: %v", ids)
	}

	ids, err := q.RequeueExpired(ctx, LaneSync, time.Now().Add(time.Minute), 10)
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
	if _, _, ok, _ := q.DequeueWithLease(ctx, LaneSync); !ok {
		t.Fatalf("reclaimed task not redeliverable")
	}
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _ = q.Enqueue(ctx, LaneNormalize, models.TaskNormalizeApp, map[string]any{"k": "v"})
	task, _, ok, _ := q.DequeueWithLease(ctx, LaneNormalize)
	if !ok {
		t.Fatalf("expected task")
	}

	if err := q.DeadLetter(ctx, LaneNormalize, task); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	items, err := q.DLQPeek(ctx, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("dlq items=%v err=%v", items, err)
	}
	if !strings.Contains(items[0], task.ID) || !strings.Contains(items[0], string(LaneNormalize)) {
		t.Fatalf("dlq entry = %s", items[0])
	}
	exists, _ := q.client.Exists(ctx, taskKey(task.ID)).Result()
	if exists != 0 {
		t.Fatalf("task meta survived dead-letter")
	}
}

func TestReadyDepthAcrossLanes(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _ = q.Enqueue(ctx, LaneSync, models.TaskFullSync, models.SyncPayload{})
	_, _ = q.Enqueue(ctx, LaneNormalize, models.TaskNormalizeApp, map[string]any{})
	_, _ = q.Enqueue(ctx, LaneNormalize, models.TaskNormalizeApp, map[string]any{})

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("depth=%d err=%v", depth, err)
	}
}
