package repository

import (
	"context"
	"errors"

	"lumo/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type EventStore interface {
	// GetEvent returns ErrNotFound when no event has the id.
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
}

type CheckInStore interface {
	// InsertCheckIn returns ErrDuplicate when the (user, event) pair already
	// has a check-in. Callers must not check for existence beforehand.
	InsertCheckIn(ctx context.Context, c model.CheckIn) error
}

type RewardRuleStore interface {
	// ActiveRule returns the first active rule for trigger, or ErrNotFound.
	ActiveRule(ctx context.Context, trigger string) (*model.RewardRule, error)
}

type LedgerStore interface {
	// AppendTransaction inserts an immutable ledger row. A repeated
	// ReferenceID returns ErrDuplicate.
	AppendTransaction(ctx context.Context, tx model.LedgerTransaction) error

	// IncrementBalance adds amount to the user's cached balance, creating
	// the row when absent. It must be a single atomic statement: a
	// read-then-write here loses currency when two rewards for one user
	// land concurrently.
	IncrementBalance(ctx context.Context, userID string, amount int64) error

	// GetBalance returns ErrNotFound when the user has no wallet row.
	GetBalance(ctx context.Context, userID string) (*model.WalletBalance, error)

	// LedgerSum returns the authoritative balance computed from the ledger.
	LedgerSum(ctx context.Context, userID string) (int64, error)
}

// Store is everything the check-in pipeline needs from persistence.
type Store interface {
	EventStore
	CheckInStore
	RewardRuleStore
	LedgerStore
	Ping(ctx context.Context) error
	Close() error
}
