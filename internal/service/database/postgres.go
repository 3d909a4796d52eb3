package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresService struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func NewPostgresService(cfg PostgresConfig, logger *zap.Logger) (*PostgresService, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &PostgresService{
		db:     db,
		logger: logger,
	}, nil
}

func (ps *PostgresService) GetDB() *sql.DB {
	return ps.db
}

func (ps *PostgresService) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

func (ps *PostgresService) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

// schema is idempotent. Users and their keys are written by the account
// service; this process only reads them and records research runs.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		email       TEXT UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token_hash  TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_api_keys (
		user_id     TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		search_key  TEXT NOT NULL DEFAULT '',
		llm_key     TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS research_runs (
		id                    TEXT PRIMARY KEY,
		user_id               TEXT NOT NULL,
		subject_name          TEXT NOT NULL,
		mode                  TEXT NOT NULL,
		status                TEXT NOT NULL,
		total_videos_found    INTEGER NOT NULL DEFAULT 0,
		videos_analyzed_count INTEGER NOT NULL DEFAULT 0,
		error_message         TEXT NOT NULL DEFAULT '',
		report                JSONB,
		started_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at           TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_research_runs_user ON research_runs(user_id, started_at DESC)`,
}

// EnsureSchema creates the tables this service needs.
func (ps *PostgresService) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	ps.logger.Info("Database schema ready", zap.Int("statements", len(schema)))
	return nil
}
