// Package worker runs background consumers of bus events.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"lumo/internal/model"
	"lumo/internal/repository"
	"lumo/internal/transport/nats"
)

const driftQueue = "wallet_drift_group"

// Subscriber registers queue-group consumers.
type Subscriber interface {
	QueueSubscribe(topic, queue string, handler func(data []byte)) (nats.Subscription, error)
}

// DriftChecker compares a user's cached balance with their ledger sum.
type DriftChecker interface {
	Drift(ctx context.Context, userID string) (cached, ledger int64, err error)
}

// DriftWorker listens for issued rewards and reports users whose cached
// wallet balance no longer matches the ledger. It never rewrites balances.
type DriftWorker struct {
	bus    Subscriber
	ledger DriftChecker
}

func NewDriftWorker(bus Subscriber, ledger DriftChecker) *DriftWorker {
	return &DriftWorker{bus: bus, ledger: ledger}
}

// Run subscribes to reward events and blocks until ctx is cancelled.
func (w *DriftWorker) Run(ctx context.Context) error {
	sub, err := w.bus.QueueSubscribe(repository.TopicRewardIssued, driftQueue, func(data []byte) {
		w.handle(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe: %w", err)
	}

	slog.Info("Wallet drift worker is running")
	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

// handle reports whether the balance matched the ledger.
func (w *DriftWorker) handle(ctx context.Context, data []byte) bool {
	var evt model.RewardIssued
	if err := json.Unmarshal(data, &evt); err != nil {
		slog.Error("worker: failed to unmarshal reward event", "error", err)
		return false
	}
	if evt.UserID == "" {
		slog.Error("worker: reward event without user", "transaction_id", evt.TransactionID)
		return false
	}

	cached, ledger, err := w.ledger.Drift(ctx, evt.UserID)
	if err != nil {
		slog.Error("worker: drift check failed", "user_id", evt.UserID, "error", err)
		return false
	}
	if cached != ledger {
		slog.Warn("worker: wallet balance drifted from ledger",
			"user_id", evt.UserID,
			"transaction_id", evt.TransactionID,
			"cached", cached,
			"ledger", ledger,
		)
		return false
	}
	slog.Debug("worker: wallet balance consistent", "user_id", evt.UserID, "balance", cached)
	return true
}

func (w *DriftWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop is a no-op; shutdown is driven by ctx.
func (w *DriftWorker) Stop(ctx context.Context) error {
	return nil
}
