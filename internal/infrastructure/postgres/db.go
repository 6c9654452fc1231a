package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// schemaDDL creates the two tables the engine needs if they are not
// already present. Cascade delete on scheduled_tasks implements invariant 5
// (deleting a task removes its execution history).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id              UUID PRIMARY KEY,
	slug            TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	next_run_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS executed_tasks (
	id          UUID PRIMARY KEY,
	task_id     UUID NOT NULL REFERENCES scheduled_tasks(id) ON DELETE CASCADE,
	executed_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executed_tasks_task_id_executed_at
	ON executed_tasks (task_id, executed_at);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email      TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS magic_tokens (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the engine's tables if absent. Run once at boot,
// before Recovery loads any rows.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
