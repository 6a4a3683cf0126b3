package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Ragudos/chat-server/config"
	"github.com/jackc/pgx/v4/pgxpool"
)

// InitDatabase connects to Postgres and makes sure the tables the chat core
// reads and writes exist.
func InitDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 5 * time.Minute
	}
	if poolConfig.HealthCheckPeriod == 0 {
		poolConfig.HealthCheckPeriod = time.Minute
	}

	conn, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := CreateTables(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("Connected to database %s on %s", poolConfig.ConnConfig.Database, poolConfig.ConnConfig.Host)
	return conn, nil
}

// CreateTables runs the idempotent schema bootstrap.
func CreateTables(ctx context.Context, pool *pgxpool.Pool) error {
	sqlQueries := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,

		`DO $$ BEGIN
			CREATE TYPE gender AS ENUM ('male', 'female', 'other');
		EXCEPTION
			WHEN duplicate_object THEN NULL;
		END $$`,

		// Owned by the registration subsystem; the chat core only reads it.
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL UNIQUE,
			display_image TEXT,
			gender gender NOT NULL DEFAULT 'other',
			creation_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES users(id),
			receiver_id BIGINT NOT NULL REFERENCES users(id),
			receiver_display_name VARCHAR(255) NOT NULL,
			body TEXT NOT NULL CHECK (body <> ''),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS messages_sender_receiver_idx
			ON messages (sender_id, receiver_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS messages_receiver_sender_idx
			ON messages (receiver_id, sender_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS messages_receiver_display_name_trgm_idx
			ON messages USING GIN (receiver_display_name gin_trgm_ops)`,
	}

	for _, query := range sqlQueries {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %v", err)
		}
	}
	return nil
}
