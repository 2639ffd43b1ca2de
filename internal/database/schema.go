package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the canonical DDL for the worker's tables. Production deployments
// manage migrations externally; Migrate is used by dev environments and the
// integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	kind         TEXT        NOT NULL,
	payload      JSONB       NOT NULL,
	status       TEXT        NOT NULL DEFAULT 'queued',
	next_run     TIMESTAMPTZ,
	last_run     TIMESTAMPTZ,
	continuation TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (kind, payload)
);

CREATE INDEX IF NOT EXISTS jobs_eligible_idx
	ON jobs (next_run) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS streams (
	stream_id   TEXT        PRIMARY KEY,
	platform    TEXT        NOT NULL,
	channel_id  TEXT        NOT NULL,
	title       TEXT        NOT NULL DEFAULT '',
	status      TEXT        NOT NULL DEFAULT 'scheduled',
	schedule_time TIMESTAMPTZ,
	start_time  TIMESTAMPTZ,
	end_time    TIMESTAMPTZ,
	like_max    BIGINT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stream_viewer_stats (
	stream_id TEXT        NOT NULL REFERENCES streams (stream_id) ON DELETE CASCADE,
	bucket    TIMESTAMPTZ NOT NULL,
	value     BIGINT      NOT NULL,
	PRIMARY KEY (stream_id, bucket)
);

CREATE TABLE IF NOT EXISTS stream_chat_stats (
	stream_id    TEXT        NOT NULL REFERENCES streams (stream_id) ON DELETE CASCADE,
	bucket       TIMESTAMPTZ NOT NULL,
	count        BIGINT      NOT NULL DEFAULT 0,
	from_members BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (stream_id, bucket)
);

CREATE TABLE IF NOT EXISTS stream_events (
	event_id   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	stream_id  TEXT        NOT NULL REFERENCES streams (stream_id) ON DELETE CASCADE,
	time       TIMESTAMPTZ NOT NULL,
	kind       TEXT        NOT NULL,
	value      JSONB       NOT NULL
);

CREATE INDEX IF NOT EXISTS stream_events_stream_idx
	ON stream_events (stream_id, time);
`

// Migrate applies the canonical schema to the given pool
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}
