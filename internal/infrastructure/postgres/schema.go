package postgres

import (
	"context"
	"fmt"
)

// ManualAccountChannel is the NOTIFY channel fired when a user's manual
// accounts change. The payload is {"user_id": "..."}.
const ManualAccountChannel = "manual_account_changed"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS manual_accounts (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        VARCHAR(255) NOT NULL,
		type        VARCHAR(50) NOT NULL,
		balance     NUMERIC(19, 4) NOT NULL DEFAULT 0,
		currency    CHAR(3) NOT NULL DEFAULT 'USD',
		institution VARCHAR(255),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_manual_accounts_user_id ON manual_accounts(user_id)`,
	`CREATE OR REPLACE FUNCTION notify_manual_account_changed() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + ManualAccountChannel + `',
			json_build_object('user_id', COALESCE(NEW.user_id, OLD.user_id))::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS manual_accounts_changed ON manual_accounts`,
	`CREATE TRIGGER manual_accounts_changed
		AFTER INSERT OR UPDATE OR DELETE ON manual_accounts
		FOR EACH ROW EXECUTE FUNCTION notify_manual_account_changed()`,
}

// EnsureSchema creates the manual-account table and its change trigger.
// Every statement is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema (%s): %w", extractSQLVerb(stmt), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
