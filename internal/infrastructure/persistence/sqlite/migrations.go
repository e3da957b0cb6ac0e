package sqlite

import "database/sql"

func RunMigrations(db *sql.DB) error {
	stmts := []string{

		`CREATE TABLE IF NOT EXISTS payment_attempts (
			payment_id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			ref_kind TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			polls INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS idx_payment_attempts_owner
			ON payment_attempts (owner, created_at);`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			owner TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			status TEXT NOT NULL,
			amount TEXT NOT NULL,
			expires_at DATETIME,
			synced_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS outbox_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			published INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
