package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lumo/internal/config"
	"lumo/internal/repository"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command]")
		fmt.Println("Commands: up, down, status, reset")
		os.Exit(1)
	}

	command := args[0]

	dialect, dsn := repository.DialectPostgres, cfg.DSN()
	if cfg.StoreDriver == config.StoreSQLite {
		dialect, dsn = repository.DialectSQLite, cfg.SQLitePath
	}

	db, err := repository.OpenSQL(dialect, dsn)
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Printf("Starting migration: %s (%s)", command, dialect)

	if err := repository.RunMigrations(ctx, db, dialect, command); err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	fmt.Println("Migration finished successfully")
}
