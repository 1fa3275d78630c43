package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lumo/internal/model"
	"lumo/internal/repository"
	"lumo/internal/transport/nats"
)

type mockSubscription struct {
	drained bool
}

func (m *mockSubscription) Drain() error {
	m.drained = true
	return nil
}

type mockBus struct {
	mu      sync.Mutex
	topic   string
	queue   string
	handler func([]byte)
	sub     *mockSubscription
	ready   chan struct{}
}

func (m *mockBus) QueueSubscribe(topic, queue string, handler func([]byte)) (nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic, m.queue, m.handler = topic, queue, handler
	m.sub = &mockSubscription{}
	close(m.ready)
	return m.sub, nil
}

type mockLedger struct {
	cached, ledger int64
	err            error
	users          []string
}

func (m *mockLedger) Drift(ctx context.Context, userID string) (int64, int64, error) {
	m.users = append(m.users, userID)
	return m.cached, m.ledger, m.err
}

func event(t *testing.T, userID string) []byte {
	t.Helper()
	data, err := json.Marshal(model.RewardIssued{TransactionID: "tx1", UserID: userID, Amount: 10})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDriftWorker_Handle(t *testing.T) {
	tests := []struct {
		name   string
		ledger *mockLedger
		data   []byte
		want   bool
	}{
		{"consistent", &mockLedger{cached: 20, ledger: 20}, event(t, "u1"), true},
		{"drifted", &mockLedger{cached: 10, ledger: 20}, event(t, "u1"), false},
		{"store error", &mockLedger{err: errors.New("timeout")}, event(t, "u1"), false},
		{"bad payload", &mockLedger{}, []byte("{"), false},
		{"missing user", &mockLedger{}, event(t, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewDriftWorker(nil, tt.ledger)
			if got := w.handle(context.Background(), tt.data); got != tt.want {
				t.Fatalf("handle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDriftWorker_RunSubscribesAndDrains(t *testing.T) {
	bus := &mockBus{ready: make(chan struct{})}
	ledger := &mockLedger{cached: 10, ledger: 10}
	w := NewDriftWorker(bus, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-bus.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never subscribed")
	}
	if bus.topic != repository.TopicRewardIssued || bus.queue != driftQueue {
		t.Fatalf("subscribed to %q/%q", bus.topic, bus.queue)
	}

	bus.handler(event(t, "u42"))
	if len(ledger.users) != 1 || ledger.users[0] != "u42" {
		t.Fatalf("drift checked for %v", ledger.users)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bus.sub.drained {
		t.Fatal("subscription was not drained")
	}
}
