package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"thirdcoast.systems/allthethings/internal/application"
	"thirdcoast.systems/allthethings/internal/config"
	"thirdcoast.systems/allthethings/internal/db"
)

func main() {
	slog.Info("Starting database migrator service")

	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadDatabaseConfig(startupCtx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Connect to database with retry logic
	pool, err := application.OpenDBPoolWithRetry(startupCtx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Database pool connection established")

	databaseConnection, err := db.NewDatabaseConnection(startupCtx, pool, conf.DatabaseRetries)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer databaseConnection.Close()

	if err := databaseConnection.Migrate(startupCtx); err != nil {
		slog.Error("failed to run PostgreSQL migrations", "error", err)
		os.Exit(1)
	}

	ok, err := databaseConnection.Queries(startupCtx).AssetsTableExists(startupCtx)
	if err != nil || !ok {
		slog.Error("assets table missing after migration", "error", err)
		os.Exit(1)
	}

	slog.Info("Database migrations completed successfully")
}
