package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPgxPool creates a new PostgreSQL connection pool and checks that the database answers.
func NewPgxPool(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	// pgxpool.ParseConfig automatically reads environment variables like PGHOST, PGUSER, etc.
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config from URL: %w", err)
	}
	config.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close() // Close the pool if ping fails
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL database.", slog.String("database", config.ConnConfig.Database))
	return pool, nil
}

// ClosePgxPool closes the PostgreSQL connection pool.
func ClosePgxPool(pool *pgxpool.Pool, logger *slog.Logger) {
	if pool != nil {
		pool.Close()
		logger.Info("PostgreSQL connection pool closed.")
	}
}
