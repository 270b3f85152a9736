package main

import (
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/persistence"
	"TreasuryLedger/migrations"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-dsn DSN] [-dir DIR] <up|down>")
	fmt.Fprintln(os.Stderr, "  up   - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down - roll back the last migration")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  TREASURY_POSTGRES_DSN            - Postgres connection string")
	fmt.Fprintln(os.Stderr, "  TREASURY_POSTGRES_MIGRATIONS_DIR - read migrations from DIR instead of the embedded set")
}

func main() {
	dsn := flag.String("dsn", envOr("TREASURY_POSTGRES_DSN", "postgres://localhost:5432/treasury?sslmode=disable"), "Postgres DSN")
	dir := flag.String("dir", os.Getenv("TREASURY_POSTGRES_MIGRATIONS_DIR"), "migrations directory override")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrations.Source(*dir), logger)

	switch flag.Arg(0) {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if !rolled {
			logger.Info().Msg("nothing to roll back")
			return
		}
		logger.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", flag.Arg(0))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
