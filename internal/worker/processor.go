package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// Handler executes one task of a given type.
type Handler func(ctx context.Context, task models.Task) error

// Processor drives the consumption loop over all queue lanes. Each iteration
// promotes due scheduled tasks, reclaims expired leases, then drains each lane
// in order. A failing task is rescheduled with exponential backoff until the
// attempt cap, after which it moves to the DLQ.
type Processor struct {
	cfg      config.Config
	queue    *queue.LaneQueue
	handlers map[string]Handler
	logger   *zap.SugaredLogger
}

func NewProcessor(cfg config.Config, q *queue.LaneQueue, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a task type.
func (p *Processor) RegisterHandler(taskType string, handler Handler) {
	if taskType == "" || handler == nil {
		return
	}
	p.handlers[taskType] = handler
}

// Run starts the worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		busy := false
		for _, lane := range queue.Lanes {
			_, _ = p.queue.PromoteScheduled(ctx, lane, now, 100)
			// The gauge is per process and balanced by drainOne's Inc/Dec;
			// a reclaimed lease belongs to a dead peer whose Inc this
			// process never saw.
			if reclaimed, _ := p.queue.RequeueExpired(ctx, lane, now, 100); len(reclaimed) > 0 {
				p.logger.Warnw("requeued expired leases", "lane", lane, "count", len(reclaimed))
			}
			if p.drainOne(ctx, lane) {
				busy = true
			}
		}

		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		if !busy {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// drainOne leases and executes at most one task from the lane. Returns true
// when a task was available.
func (p *Processor) drainOne(ctx context.Context, lane queue.Lane) bool {
	task, attempts, ok, err := p.queue.DequeueWithLease(ctx, lane)
	if err != nil {
		p.logger.Errorw("dequeue failed", "lane", lane, "err", err)
		return false
	}
	if !ok {
		return false
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	if err := p.runTask(ctx, task); err != nil {
		p.fail(ctx, lane, task, attempts, err)
		return true
	}
	if err := p.queue.Ack(ctx, lane, task.ID); err != nil {
		p.logger.Errorw("ack failed", "lane", lane, "task_id", task.ID, "err", err)
	}
	return true
}

func (p *Processor) fail(ctx context.Context, lane queue.Lane, task models.Task, attempts int, taskErr error) {
	attempts++
	if _, err := p.queue.RecordFailure(ctx, lane, task.ID); err != nil {
		p.logger.Errorw("failed to record task failure", "lane", lane, "task_id", task.ID, "err", err)
	}

	if attempts >= p.cfg.LaneMaxAttempts {
		if err := p.queue.DeadLetter(ctx, lane, task); err != nil {
			p.logger.Errorw("dead-letter failed", "lane", lane, "task_id", task.ID, "err", err)
			return
		}
		telemetry.TaskDeadLetter.Inc()
		p.logger.Errorw("task dead-lettered", "lane", lane, "task_id", task.ID,
			"type", task.Type, "attempts", attempts, "err", taskErr)
		return
	}

	backoff := backoffWithJitter(p.cfg.LaneBackoffBase, p.cfg.VisibilityTimeout, attempts)
	if err := p.queue.Schedule(ctx, lane, task.ID, time.Now().Add(backoff)); err != nil {
		p.logger.Errorw("retry scheduling failed", "lane", lane, "task_id", task.ID, "err", err)
		return
	}
	telemetry.TaskRetries.Inc()
	p.logger.Warnw("task retry scheduled", "lane", lane, "task_id", task.ID,
		"type", task.Type, "attempts", attempts, "backoff", backoff, "err", taskErr)
}

func (p *Processor) runTask(ctx context.Context, task models.Task) error {
	handler, ok := p.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for type %q", task.Type)
	}
	return handler(ctx, task)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
