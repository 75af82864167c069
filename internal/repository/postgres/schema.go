package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"library-circulation/internal/logger"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel the change trigger publishes on.
const DefaultNotifyChannel = "circulation_changes"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id               UUID PRIMARY KEY,
		title            TEXT NOT NULL,
		author           TEXT NOT NULL,
		publisher        TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		total_copies     INTEGER NOT NULL CHECK (total_copies >= 1),
		available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
		version          BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id           UUID PRIMARY KEY,
		name         TEXT NOT NULL,
		role         TEXT NOT NULL CHECK (role IN ('Student', 'Staff')),
		is_defaulter BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id          UUID PRIMARY KEY,
		book_id     UUID NOT NULL,
		user_id     UUID NOT NULL,
		borrow_date TIMESTAMPTZ NOT NULL,
		due_date    TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ,
		fine_amount NUMERIC(12, 2) NOT NULL DEFAULT 0 CHECK (fine_amount >= 0),
		CHECK (fine_amount = 0 OR (return_date IS NOT NULL AND return_date > due_date))
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_open_by_book ON transactions (book_id) WHERE return_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_by_user ON transactions (user_id)`,
}

func notifyStatements(channel string) []string {
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_circulation_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(%s, TG_TABLE_NAME);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, pq.QuoteLiteral(channel)),
		`DROP TRIGGER IF EXISTS books_changed ON books`,
		`CREATE TRIGGER books_changed AFTER INSERT OR UPDATE OR DELETE ON books
			FOR EACH STATEMENT EXECUTE FUNCTION notify_circulation_change()`,
		`DROP TRIGGER IF EXISTS users_changed ON users`,
		`CREATE TRIGGER users_changed AFTER INSERT OR UPDATE OR DELETE ON users
			FOR EACH STATEMENT EXECUTE FUNCTION notify_circulation_change()`,
		`DROP TRIGGER IF EXISTS transactions_changed ON transactions`,
		`CREATE TRIGGER transactions_changed AFTER INSERT OR UPDATE OR DELETE ON transactions
			FOR EACH STATEMENT EXECUTE FUNCTION notify_circulation_change()`,
	}
}

// EnsureSchema creates the tables and the change notification triggers if missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB, channel string) error {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	statements := append(append([]string{}, schemaStatements...), notifyStatements(channel)...)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	logger.Info("Schema ensured", "statements", len(statements), "notify_channel", channel)
	return nil
}
