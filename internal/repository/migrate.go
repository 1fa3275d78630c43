package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var embedMigrations embed.FS

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// OpenSQL opens a database/sql handle for the dialect's driver.
func OpenSQL(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectPostgres:
		return sql.Open("pgx", dsn)
	case DialectSQLite:
		return sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
}

// NewMigrator returns a goose provider over the embedded migrations for
// dialect.
func NewMigrator(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	var gd goose.Dialect
	switch dialect {
	case DialectPostgres:
		gd = goose.DialectPostgres
	case DialectSQLite:
		gd = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	fsys, err := fs.Sub(embedMigrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	return goose.NewProvider(gd, db, fsys)
}

// RunMigrations executes one migration command: up, down, reset or status.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, command string) error {
	migrationCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	p, err := NewMigrator(db, dialect)
	if err != nil {
		return err
	}

	slog.Info("running migrations", "command", command, "dialect", dialect)

	switch command {
	case "up":
		results, err := p.Up(migrationCtx)
		logResults(results)
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case "down":
		result, err := p.Down(migrationCtx)
		if result != nil {
			logResults([]*goose.MigrationResult{result})
		}
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	case "reset":
		results, err := p.DownTo(migrationCtx, 0)
		logResults(results)
		if err != nil {
			return fmt.Errorf("goose reset: %w", err)
		}
	case "status":
		statuses, err := p.Status(migrationCtx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, s := range statuses {
			slog.Info("migration", "version", s.Source.Version, "path", s.Source.Path, "state", s.State, "applied_at", s.AppliedAt)
		}
	default:
		return fmt.Errorf("unknown migration command %q (up|down|reset|status)", command)
	}
	return nil
}

func logResults(results []*goose.MigrationResult) {
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"direction", r.Direction,
			"duration", r.Duration,
		)
	}
}
