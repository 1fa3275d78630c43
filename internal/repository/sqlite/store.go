// Package sqlite provides an embedded SQLite implementation of the check-in
// and ledger stores, used for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"lumo/internal/model"
	"lumo/internal/repository"
)

type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := repository.OpenSQL(repository.DialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := repository.RunMigrations(ctx, sqlDB, repository.DialectSQLite, "up"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB exposes the handle for seeding tables owned by other subsystems.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var (
		e        model.Event
		lat, lon sql.NullFloat64
		secret   sql.NullString
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, qr_secret FROM events WHERE id = ?`,
		eventID,
	).Scan(&e.ID, &lat, &lon, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select event: %w", err)
	}
	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lon.Valid {
		e.Longitude = &lon.Float64
	}
	if secret.Valid {
		e.QRSecret = &secret.String
	}
	return &e, nil
}

// PutEvent upserts an event row. Events belong to the event management
// subsystem; this is its write path on single-node deployments.
func (s *Store) PutEvent(ctx context.Context, e model.Event) error {
	var lat, lon sql.NullFloat64
	var secret sql.NullString
	if e.Latitude != nil {
		lat = sql.NullFloat64{Float64: *e.Latitude, Valid: true}
	}
	if e.Longitude != nil {
		lon = sql.NullFloat64{Float64: *e.Longitude, Valid: true}
	}
	if e.QRSecret != nil {
		secret = sql.NullString{String: *e.QRSecret, Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO events (id, latitude, longitude, qr_secret, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET latitude = excluded.latitude, longitude = excluded.longitude, qr_secret = excluded.qr_secret`,
		e.ID, lat, lon, secret, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// PutRewardRule inserts or replaces a reward rule by id.
func (s *Store) PutRewardRule(ctx context.Context, r model.RewardRule) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO reward_rules (id, trigger_event, amount, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET trigger_event = excluded.trigger_event, amount = excluded.amount, active = excluded.active`,
		r.ID, r.TriggerEvent, r.Amount, r.Active, toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("upsert reward rule: %w", err)
	}
	return nil
}

func (s *Store) InsertCheckIn(ctx context.Context, c model.CheckIn) error {
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO checkins (id, user_id, event_id, latitude, longitude, validated_radius, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.EventID, c.Latitude, c.Longitude, c.ValidatedRadius, string(c.Source), toMillis(c.CreatedAt),
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
	var (
		r         model.RewardRule
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, trigger_event, amount, active, created_at
		FROM reward_rules
		WHERE trigger_event = ? AND active = 1
		ORDER BY created_at, id
		LIMIT 1`,
		trigger,
	).Scan(&r.ID, &r.TriggerEvent, &r.Amount, &r.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reward rule: %w", err)
	}
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx model.LedgerTransaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var ref sql.NullString
	if tx.ReferenceID != "" {
		ref = sql.NullString{String: tx.ReferenceID, Valid: true}
	}
	_, err = s.sqlDB.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, amount, type, source, reason, metadata, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount, string(tx.Type), tx.Source, tx.Reason, string(metadata), ref, toMillis(tx.CreatedAt),
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
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO wallet_balances (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallet_balances.balance + excluded.balance,
		    updated_at = excluded.updated_at`,
		userID, amount, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert wallet balance: %w", err)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*model.WalletBalance, error) {
	var (
		w         model.WalletBalance
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, balance, updated_at FROM wallet_balances WHERE user_id = ?`,
		userID,
	).Scan(&w.UserID, &w.Balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select wallet balance: %w", err)
	}
	w.UpdatedAt = fromMillis(updatedAt)
	return &w, nil
}

func (s *Store) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE user_id = ?`,
		userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// Transactions lists a user's ledger rows oldest first.
func (s *Store) Transactions(ctx context.Context, userID string) ([]model.LedgerTransaction, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, amount, type, source, reason, metadata, COALESCE(reference_id, ''), created_at
		FROM ledger_transactions
		WHERE user_id = ?
		ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger transactions: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerTransaction
	for rows.Next() {
		var (
			tx        model.LedgerTransaction
			txType    string
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &txType, &tx.Source, &tx.Reason, &metadata, &tx.ReferenceID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger transaction: %w", err)
		}
		tx.Type = model.TransactionType(txType)
		tx.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(metadata), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CountCheckIns returns the number of check-ins stored for (user, event).
func (s *Store) CountCheckIns(ctx context.Context, userID, eventID string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkins WHERE user_id = ? AND event_id = ?`,
		userID, eventID,
	).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ repository.Store = (*Store)(nil)
