// Package worker consumes comparison events from the EventBus and keeps the
// audit trail.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// ComparisonStore persists comparison records.
type ComparisonStore interface {
	SaveComparison(ctx context.Context, record *domain.ComparisonRecord) error
}

// Worker records completed comparisons published on the EventBus.
type Worker struct {
	bus   domain.EventBus
	store ComparisonStore

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	recorded atomic.Int64
	failed   atomic.Int64
}

// NewWorker creates an audit worker.
func NewWorker(bus domain.EventBus, store ComparisonStore) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to completed comparisons.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicComparisonCompleted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicComparisonCompleted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("audit worker started",
		"topic", domain.TopicComparisonCompleted,
	)
	return nil
}

// handleMessage persists one comparison record.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var record domain.ComparisonRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse comparison message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.store.SaveComparison(ctx, &record); err != nil {
		w.failed.Add(1)
		slog.Error("failed to save comparison",
			"comparison_id", record.ID,
			"error", err,
		)
		return err
	}

	w.recorded.Add(1)
	slog.Debug("comparison recorded",
		"comparison_id", record.ID,
		"mode", record.Request.Mode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.cancel()

	slog.Info("audit worker stopped",
		"recorded", w.recorded.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Recorded          int64    `json:"recorded"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Recorded:          w.recorded.Load(),
		Failed:            w.failed.Load(),
	}
}
