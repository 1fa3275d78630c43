package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lumo/internal/repository"
)

func connectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// migratePostgres applies pending migrations over a short-lived
// database/sql handle; the pool itself stays pgx-native.
func migratePostgres(ctx context.Context, dsn string) error {
	sqlDB, err := repository.OpenSQL(repository.DialectPostgres, dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()
	return repository.RunMigrations(ctx, sqlDB, repository.DialectPostgres, "up")
}
