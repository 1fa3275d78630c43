// Package ledger appends currency movements and keeps the per-user balance
// cache in step with them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lumo/internal/apperr"
	"lumo/internal/model"
	"lumo/internal/repository"
)

// Credit describes one reward to append.
type Credit struct {
	UserID      string
	Amount      int64
	Source      string
	Reason      string
	ReferenceID string
	Metadata    map[string]any
}

type Writer struct {
	store repository.LedgerStore
	now   func() time.Time
}

func NewWriter(store repository.LedgerStore) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Credit appends a credit transaction and then bumps the balance cache.
// Only the append decides the outcome: a failed append is a ledger write
// error, a failed cache update is logged and the transaction is still
// returned.
func (w *Writer) Credit(ctx context.Context, c Credit) (*model.LedgerTransaction, error) {
	if c.Amount <= 0 {
		return nil, apperr.LedgerWrite(fmt.Errorf("credit amount must be positive, got %d", c.Amount))
	}
	tx := model.LedgerTransaction{
		ID:          uuid.NewString(),
		UserID:      c.UserID,
		Amount:      c.Amount,
		Type:        model.TransactionCredit,
		Source:      c.Source,
		Reason:      c.Reason,
		Metadata:    c.Metadata,
		ReferenceID: c.ReferenceID,
		CreatedAt:   w.now().UTC(),
	}
	if err := w.store.AppendTransaction(ctx, tx); err != nil {
		return nil, apperr.LedgerWrite(err)
	}

	if err := w.store.IncrementBalance(ctx, tx.UserID, tx.Amount); err != nil {
		slog.Error("ledger: wallet balance update failed, cache behind ledger",
			"user_id", tx.UserID,
			"transaction_id", tx.ID,
			"amount", tx.Amount,
			"error", err,
		)
	}
	return &tx, nil
}

// Balance reads the cached wallet balance. A user without a wallet row has
// a balance of zero.
func (w *Writer) Balance(ctx context.Context, userID string) (int64, error) {
	wb, err := w.store.GetBalance(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wb.Balance, nil
}

// Drift compares the cached balance with the ledger sum.
func (w *Writer) Drift(ctx context.Context, userID string) (cached, ledger int64, err error) {
	cached, err = w.Balance(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("read wallet balance: %w", err)
	}
	ledger, err = w.store.LedgerSum(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("sum ledger: %w", err)
	}
	return cached, ledger, nil
}
