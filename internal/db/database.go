package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type DatabaseConnection struct {
	*pgxpool.Pool
}

const migrationsDir = "sql/migrations"

// retryDelay grows by the golden ratio per attempt, starting at zero.
func retryDelay(attempt int) time.Duration {
	return time.Duration(float64(attempt) * 1.61803398875 * float64(time.Second))
}

// NewDatabaseConnection wraps pool once it answers a ping. It makes at most
// retries attempts.
func NewDatabaseConnection(ctx context.Context, pool *pgxpool.Pool, retries int) (*DatabaseConnection, error) {
	retries = max(retries, 1)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if lastErr = pool.Ping(ctx); lastErr == nil {
			return &DatabaseConnection{pool}, nil
		}

		wait := retryDelay(attempt)
		slog.Warn("could not ping the database", "error", lastErr, "attempt", attempt+1, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", retries, lastErr)
}

// Close closes the database connection
func (db *DatabaseConnection) Close() {
	db.Pool.Close()
}

func (db *DatabaseConnection) Queries(ctx context.Context) *Queries {
	return New(db)
}

// NewWithTX begins a transaction and returns queries bound to it. The caller
// commits or rolls back tx.
func (db *DatabaseConnection) NewWithTX(ctx context.Context, opts pgx.TxOptions) (*Queries, pgx.Tx, error) {
	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return db.Queries(ctx).WithTx(tx), tx, nil
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

// migrationTarget reads GOOSE_DOWN_TO or GOOSE_UP_TO. Without either the
// schema is migrated up to the latest version.
func migrationTarget(lookup func(string) (string, bool)) (version int64, down bool, err error) {
	if raw, ok := lookup("GOOSE_DOWN_TO"); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse GOOSE_DOWN_TO version: %w", err)
		}
		return version, true, nil
	}
	if raw, ok := lookup("GOOSE_UP_TO"); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse GOOSE_UP_TO version: %w", err)
		}
		return version, false, nil
	}
	return goose.MaxVersion, false, nil
}

// Migrate applies the embedded asset schema migrations.
func (db *DatabaseConnection) Migrate(ctx context.Context) error {
	target, down, err := migrationTarget(os.LookupEnv)
	if err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	stdDb := stdlib.OpenDBFromPool(db.Pool)
	defer stdDb.Close()

	current, err := goose.GetDBVersionContext(ctx, stdDb)
	if err != nil {
		return err
	}

	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		slog.Info("migration embedded", "source", m.Source, "version", m.Version, "applied", m.Version <= current)
	}

	if down {
		slog.Info("migrating assets schema down", "from", current, "to", target)
		return goose.DownToContext(ctx, stdDb, migrationsDir, target)
	}
	if current >= target {
		return nil
	}
	slog.Info("migrating assets schema up", "from", current, "to", target)
	return goose.UpToContext(ctx, stdDb, migrationsDir, target)
}
