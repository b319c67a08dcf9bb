// internal/db/db.go
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func Open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return conn, nil
}

// Migrate creates the four tables the core owns plus the log archive. Payload
// columns are opaque serialized text; the core never interprets them beyond
// the merge-on-error pattern.
func Migrate(conn *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS notification_requests (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			template_id    TEXT NOT NULL,
			request_data   TEXT NOT NULL DEFAULT '',
			priority       TEXT NOT NULL DEFAULT 'Normal',
			status         TEXT NOT NULL DEFAULT 'Pending',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at     TIMESTAMPTZ,
			callback_url   TEXT NOT NULL DEFAULT '',
			requested_by   TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS queued_messages (
			id           BIGSERIAL PRIMARY KEY,
			request_id   TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			channel      TEXT NOT NULL,
			content      TEXT NOT NULL,
			priority     INT NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'Queued',
			scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS message_deliveries (
			id                  BIGSERIAL PRIMARY KEY,
			queue_id            BIGINT,
			request_id          TEXT NOT NULL,
			recipient_id        TEXT NOT NULL,
			provider_id         TEXT NOT NULL,
			channel             TEXT NOT NULL,
			content             TEXT NOT NULL,
			status              TEXT NOT NULL DEFAULT 'Queued',
			attempt_count       INT NOT NULL DEFAULT 0,
			permanent           BOOLEAN NOT NULL DEFAULT FALSE,
			last_attempt_at     TIMESTAMPTZ,
			delivered_at        TIMESTAMPTZ,
			provider_response   TEXT NOT NULL DEFAULT '',
			provider_message_id TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS delivery_logs (
			id          BIGSERIAL PRIMARY KEY,
			delivery_id BIGINT,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id   TEXT NOT NULL DEFAULT '',
			event_type  TEXT NOT NULL,
			event_data  TEXT NOT NULL DEFAULT '',
			actor_id    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS delivery_logs_archive (
			id          BIGINT PRIMARY KEY,
			delivery_id BIGINT,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id   TEXT NOT NULL DEFAULT '',
			event_type  TEXT NOT NULL,
			event_data  TEXT NOT NULL DEFAULT '',
			actor_id    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_queued_messages_claim
			ON queued_messages (status, scheduled_at, priority DESC, created_at ASC);
		CREATE INDEX IF NOT EXISTS idx_queued_messages_request ON queued_messages (request_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_queue ON message_deliveries (queue_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON message_deliveries (status);
		CREATE INDEX IF NOT EXISTS idx_requests_status ON notification_requests (status);
		CREATE INDEX IF NOT EXISTS idx_logs_delivery ON delivery_logs (delivery_id);
		CREATE INDEX IF NOT EXISTS idx_logs_created ON delivery_logs (created_at);
	`
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
