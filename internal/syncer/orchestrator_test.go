package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
)

func newGuardedOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewLaneQueueWithClient(client, 30*time.Second)

	cfg := config.Config{SyncGuardTTL: time.Minute}
	return NewOrchestrator(cfg, nil, q, nil, nil, zap.NewNop().Sugar())
}

func TestSyncGuardSingleFlight(t *testing.T) {
	ctx := context.Background()
	o := newGuardedOrchestrator(t)

	release, err := o.acquireGuard(ctx, "conn-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := o.acquireGuard(ctx, "conn-1"); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	// A different connector is unaffected.
	release2, err := o.acquireGuard(ctx, "conn-2")
	if err != nil {
		t.Fatalf("second connector acquire: %v", err)
	}
	release2()

	release()
	if _, err := o.acquireGuard(ctx, "conn-1"); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestDeltaCursor(t *testing.T) {
	full := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	delta := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	if got := deltaCursor(models.Connector{}); !got.Equal(time.Unix(0, 0).UTC()) {
		t.Fatalf("empty cursor = %s", got)
	}
	if got := deltaCursor(models.Connector{LastFullSyncAt: &full}); !got.Equal(full) {
		t.Fatalf("full-only cursor = %s", got)
	}
	if got := deltaCursor(models.Connector{LastFullSyncAt: &full, LastDeltaSyncAt: &delta}); !got.Equal(delta) {
		t.Fatalf("delta cursor = %s", got)
	}
}

func TestClassifyProbe(t *testing.T) {
	if s := classifyProbe(nil); !s.OK || s.Status != 200 {
		t.Fatalf("nil error = %+v", s)
	}

	s := classifyProbe(&provider.APIError{Status: 401})
	if s.OK || s.Status != 401 || s.Message != "authentication failed, check the API key" {
		t.Fatalf("401 = %+v", s)
	}
	s = classifyProbe(&provider.APIError{Status: 404})
	if s.OK || s.Status != 404 || s.Message != "endpoint not found, check the subdomain" {
		t.Fatalf("404 = %+v", s)
	}
	s = classifyProbe(&provider.APIError{Status: 500})
	if s.OK || s.Status != 500 {
		t.Fatalf("500 = %+v", s)
	}

	s = classifyProbe(errors.New("dial tcp: no route"))
	if s.OK || s.Status != 0 {
		t.Fatalf("network = %+v", s)
	}
}

func TestJobExternalID(t *testing.T) {
	withChild := provider.Record{"job": map[string]any{"id": float64(7)}}
	if got := jobExternalID(withChild); got != "7" {
		t.Fatalf("child id = %q", got)
	}
	flat := provider.Record{"jobOpeningId": "55"}
	if got := jobExternalID(flat); got != "55" {
		t.Fatalf("flat id = %q", got)
	}
	if got := jobExternalID(provider.Record{}); got != "" {
		t.Fatalf("empty id = %q", got)
	}
}

func TestJoinName(t *testing.T) {
	if got := joinName("Ada", "Lovelace"); got != "Ada Lovelace" {
		t.Fatalf("joinName = %q", got)
	}
	if got := joinName("Ada", ""); got != "Ada" {
		t.Fatalf("joinName first-only = %q", got)
	}
	if got := joinName("", "Lovelace"); got != "Lovelace" {
		t.Fatalf("joinName last-only = %q", got)
	}
	if got := joinName("", ""); got != "" {
		t.Fatalf("joinName empty = %q", got)
	}
}
