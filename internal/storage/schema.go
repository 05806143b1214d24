package storage

import (
	"context"
	"fmt"
)

// Owned tables are bootstrapped on startup; the listings table belongs to
// the acquisition side and is never created here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS comps (
        model_key TEXT NOT NULL,
        median_final_price NUMERIC(12,2) NOT NULL,
        mean_final_price NUMERIC(12,2) NOT NULL,
        samples INTEGER NOT NULL,
        computed_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
    );`,

	`CREATE OR REPLACE VIEW latest_comps AS
        SELECT DISTINCT ON (model_key)
               model_key, median_final_price, mean_final_price, samples, computed_at
        FROM comps
        ORDER BY model_key, computed_at DESC;`,

	`CREATE TABLE IF NOT EXISTS roi_snapshots (
        id BIGSERIAL PRIMARY KEY,
        external_id TEXT NOT NULL,
        source TEXT NOT NULL,
        model_key TEXT,
        current_price NUMERIC(12,2) NOT NULL,
        roi_estimate NUMERIC(8,4) NOT NULL,
        profit_estimate NUMERIC(12,2) NOT NULL,
        ends_at TIMESTAMPTZ,
        time_left_s INTEGER,
        created_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
    );`,

	`CREATE TABLE IF NOT EXISTS roi_alert_markers (
        external_id TEXT NOT NULL,
        marker TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
        PRIMARY KEY (external_id, marker)
    );`,

	`CREATE TABLE IF NOT EXISTS alerts (
        id SERIAL PRIMARY KEY,
        external_id TEXT UNIQUE NOT NULL,
        score DOUBLE PRECISION,
        max_bid NUMERIC,
        created_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
        sent_at TIMESTAMPTZ
    );`,

	`CREATE TABLE IF NOT EXISTS alert_state (
        name TEXT PRIMARY KEY,
        last_sent_at TIMESTAMPTZ NOT NULL
    );`,
}

// EnsureSchema creates the owned tables and the latest_comps view if they
// do not exist yet. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}
