package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
)

type recordingArchiver struct {
	pages int
	err   error
}

func (a *recordingArchiver) StorePage(_ context.Context, _ string, _ int, _ []map[string]any) error {
	a.pages++
	return a.err
}

func newFanOutFixture(t *testing.T, arch *recordingArchiver) (*FanOut, *queue.LaneQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewLaneQueueWithClient(client, 30*time.Second)
	return NewFanOut(q, arch, zap.NewNop().Sugar()), q
}

func TestHandleRawPageFansOutPerRecord(t *testing.T) {
	ctx := context.Background()
	arch := &recordingArchiver{}
	f, q := newFanOutFixture(t, arch)

	page := models.RawPagePayload{
		ConnectorID: "c1",
		Page:        2,
		RawApplications: []map[string]any{
			{"id": "a"},
			{"id": "b"},
			{"id": "c"},
		},
	}
	n, err := f.HandleRawPage(ctx, page)
	if err != nil || n != 3 {
		t.Fatalf("enqueued=%d err=%v", n, err)
	}
	if arch.pages != 1 {
		t.Fatalf("archive called %d times", arch.pages)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		task, _, ok, err := q.DequeueWithLease(ctx, queue.LaneNormalize)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		if task.Type != models.TaskNormalizeApp {
			t.Fatalf("task type = %q", task.Type)
		}
		var p models.NormalizePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.ConnectorID != "c1" {
			t.Fatalf("connector = %q", p.ConnectorID)
		}
		seen[p.Application["id"].(string)] = true
	}
	if !seen["a"] || !seen["b"] || !seen["c"] {
		t.Fatalf("missing applications: %v", seen)
	}
}

func TestHandleRawPageArchiveFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	arch := &recordingArchiver{err: errors.New("bucket down")}
	f, _ := newFanOutFixture(t, arch)

	n, err := f.HandleRawPage(ctx, models.RawPagePayload{
		ConnectorID:     "c1",
		Page:            1,
		RawApplications: []map[string]any{{"id": "a"}},
	})
	if err != nil || n != 1 {
		t.Fatalf("enqueued=%d err=%v", n, err)
	}
}

func TestHandleRawPageEmptyPage(t *testing.T) {
	ctx := context.Background()
	f, _ := newFanOutFixture(t, &recordingArchiver{})

	n, err := f.HandleRawPage(ctx, models.RawPagePayload{ConnectorID: "c1", Page: 1})
	if err != nil || n != 0 {
		t.Fatalf("enqueued=%d err=%v", n, err)
	}
}
