package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_item (
		id               TEXT PRIMARY KEY,
		url              TEXT NOT NULL,
		brand            TEXT NOT NULL DEFAULT '',
		name             TEXT NOT NULL DEFAULT '',
		price_label      TEXT NOT NULL DEFAULT '',
		price            TEXT NOT NULL DEFAULT '',
		sizes            JSONB NOT NULL DEFAULT '{}',
		available_sizes  JSONB NOT NULL DEFAULT '[]',
		colors           JSONB NOT NULL DEFAULT '[]',
		attribute_groups JSONB NOT NULL DEFAULT '{}',
		last_run_id      TEXT NOT NULL DEFAULT '',
		scraped_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		run_id         TEXT NOT NULL CHECK (run_id <> ''),
		aggregate_type TEXT NOT NULL CHECK (aggregate_type <> ''),
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL CHECK (event_type <> ''),
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_event_run_item
		ON outbox_event (run_id, aggregate_type, aggregate_id, event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (aggregate_type, status, next_retry_at, created_at)`,
}

// Migrate creates the mirror tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
