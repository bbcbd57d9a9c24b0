// Package worker provides async run processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// Run actions accepted on the run-requested topic.
const (
	ActionGenerate = "generate"
	ActionTrain    = "train"
)

// RunRequest is the message payload for an asynchronous pipeline run.
type RunRequest struct {
	Action string `json:"action"`
	Mode   string `json:"mode"`
	Seed   int64  `json:"seed"`
}

// Cache keys invalidated after a successful run, matching the API's
// read-side keys.
var staleKeys = []string{"entities", "clusters", "alerts", "metrics"}

// Worker executes pipeline runs requested over the EventBus. Runs are
// serialized so at most one training pass holds the dataset at a time.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Service
	cache    domain.Cache
	logger   *slog.Logger

	runMu         sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. The cache may be nil.
func NewWorker(bus domain.EventBus, svc *pipeline.Service, cache domain.Cache, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: svc,
		cache:    cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the run-requested topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", domain.TopicRunRequested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicRunRequested)
	return nil
}

// handleMessage processes one run request.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.Mode == "" {
		req.Mode = domain.ModeDemo
	}

	w.logger.Debug("processing run request",
		"message_id", msg.ID,
		"action", req.Action,
		"mode", req.Mode,
		"seed", req.Seed,
	)

	w.runMu.Lock()
	defer w.runMu.Unlock()

	var err error
	switch req.Action {
	case ActionGenerate:
		_, err = w.pipeline.Generate(ctx, req.Mode, req.Seed)
	case ActionTrain:
		_, err = w.pipeline.Train(ctx, req.Mode, req.Seed)
	default:
		err = fmt.Errorf("unknown run action %q", req.Action)
	}
	if err != nil {
		w.logger.Error("run request failed",
			"message_id", msg.ID,
			"action", req.Action,
			"error", err,
		)
		return err
	}

	if w.cache != nil {
		for _, key := range staleKeys {
			if err := w.cache.Delete(ctx, key); err != nil {
				w.logger.Warn("failed to invalidate cache", "key", key, "error", err)
			}
		}
	}

	w.logger.Info("run request processed",
		"message_id", msg.ID,
		"action", req.Action,
		"mode", req.Mode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
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
	}
}
