// Package postgres implements the check-in and ledger stores on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lumo/internal/model"
	"lumo/internal/repository"
)

// uniqueViolation is SQLSTATE unique_violation.
const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var e model.Event
	err := s.pool.QueryRow(ctx,
		`SELECT id, latitude, longitude, qr_secret FROM events WHERE id = $1`,
		eventID,
	).Scan(&e.ID, &e.Latitude, &e.Longitude, &e.QRSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select event: %w", err)
	}
	return &e, nil
}

func (s *Store) InsertCheckIn(ctx context.Context, c model.CheckIn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkins (id, user_id, event_id, latitude, longitude, validated_radius, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.EventID, c.Latitude, c.Longitude, c.ValidatedRadius, string(c.Source), c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

func (s *Store) ActiveRule(ctx context.Context, trigger string) (*model.RewardRule, error) {
	var r model.RewardRule
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, trigger_event, amount, active, created_at
		FROM reward_rules
		WHERE trigger_event = $1 AND active
		ORDER BY created_at, id
		LIMIT 1`,
		trigger,
	).Scan(&r.ID, &r.TriggerEvent, &r.Amount, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reward rule: %w", err)
	}
	return &r, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx model.LedgerTransaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var ref *string
	if tx.ReferenceID != "" {
		ref = &tx.ReferenceID
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_transactions (id, user_id, amount, type, source, reason, metadata, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.UserID, tx.Amount, string(tx.Type), tx.Source, tx.Reason, metadata, ref, tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

func (s *Store) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallet_balances.balance + EXCLUDED.balance,
		    updated_at = now()`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("upsert wallet balance: %w", err)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*model.WalletBalance, error) {
	var w model.WalletBalance
	err := s.pool.QueryRow(ctx,
		`SELECT user_id::text, balance, updated_at FROM wallet_balances WHERE user_id = $1`,
		userID,
	).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select wallet balance: %w", err)
	}
	return &w, nil
}

func (s *Store) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::bigint FROM ledger_transactions WHERE user_id = $1`,
		userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ repository.Store = (*Store)(nil)
