package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/llm-governance-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adopts an existing pool, e.g. one opened by a test harness
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Schema is the gateway's PostgreSQL schema
const Schema = `
	CREATE TABLE IF NOT EXISTS usage_records (
		request_id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		project_id VARCHAR(255),
		provider VARCHAR(100) NOT NULL,
		model VARCHAR(100) NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost NUMERIC(12, 6) NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(50) NOT NULL,
		trace_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS gateway_audit_events (
		id UUID PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		trace_id VARCHAR(64),
		user_id VARCHAR(255),
		project_id VARCHAR(255),
		provider VARCHAR(100),
		model VARCHAR(100),
		stage VARCHAR(50) NOT NULL,
		outcome VARCHAR(50) NOT NULL,
		reason_code VARCHAR(100),
		duration_ms BIGINT NOT NULL DEFAULT 0,
		cost NUMERIC(12, 6) NOT NULL DEFAULT 0,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_project_created ON usage_records(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_gateway_audit_events_request_id ON gateway_audit_events(request_id);
	CREATE INDEX IF NOT EXISTS idx_gateway_audit_events_created_at ON gateway_audit_events(created_at);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
