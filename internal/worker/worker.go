// Package worker executes run requests received over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/job"
)

// Runner executes one run request.
type Runner interface {
	Execute(ctx context.Context, req domain.RunRequest) (*job.Result, error)
}

// Worker subscribes to run requests and answers each with a RunEvent.
// Requests are executed one at a time.
type Worker struct {
	bus    domain.EventBus
	runner Runner

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a worker.
func New(bus domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to domain.TopicRunRequested.
func (w *Worker) Start() error {
	if w.bus == nil {
		return eris.New("worker needs an event bus")
	}
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handle)
	if err != nil {
		return eris.Wrap(err, "failed to subscribe to run requests")
	}
	w.subscriptions = append(w.subscriptions, sub)

	zap.L().Info("worker started", zap.String("topic", domain.TopicRunRequested))
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) ([]byte, error) {
	start := time.Now()

	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		err = eris.Wrapf(domain.ErrInvalidInput, "run request %s: %v", msg.ID, err)
		return reply(domain.RunEvent{
			Status:    domain.RunStatusFailed,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}), err
	}

	zap.L().Info("run requested",
		zap.String("message_id", msg.ID),
		zap.Strings("inputs", req.Inputs),
	)

	result, err := w.runner.Execute(ctx, req)
	if err != nil {
		w.failed.Add(1)
		return reply(domain.RunEvent{
			Status:    domain.RunStatusFailed,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}), err
	}

	w.completed.Add(1)
	zap.L().Info("run finished",
		zap.String("run_id", result.Report.RunID),
		zap.Bool("cached", result.Cached),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return reply(domain.RunEvent{
		RunID:     result.Report.RunID,
		Status:    domain.RunStatusCompleted,
		Cached:    result.Cached,
		Stats:     result.Report.Stats,
		Summary:   result.Report.Summary,
		Timestamp: time.Now().UTC(),
	}), nil
}

func reply(event domain.RunEvent) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to encode run event", zap.Error(err))
		return nil
	}
	return data
}

// Stop unsubscribes and cancels in-flight runs.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			zap.L().Error("failed to unsubscribe",
				zap.String("topic", sub.Topic()),
				zap.Error(err),
			)
		}
	}
	w.subscriptions = nil

	zap.L().Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Completed         int64    `json:"completed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Completed:         w.completed.Load(),
		Failed:            w.failed.Load(),
	}
}
