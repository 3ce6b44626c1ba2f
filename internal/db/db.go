package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS members (
            user_id INT PRIMARY KEY,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            image TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            sender_id INT NOT NULL,
            recipient_id INT NOT NULL,
            text TEXT NOT NULL,
            created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            date_read TIMESTAMPTZ,
            sender_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            recipient_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            CHECK (sender_id <> recipient_id)
        );`,
		`CREATE INDEX IF NOT EXISTS messages_pair_created_idx
            ON messages (LEAST(sender_id, recipient_id), GREATEST(sender_id, recipient_id), created);`,
		`CREATE INDEX IF NOT EXISTS messages_inbox_idx
            ON messages (recipient_id, created DESC) WHERE recipient_deleted = FALSE;`,
		`CREATE INDEX IF NOT EXISTS messages_outbox_idx
            ON messages (sender_id, created DESC) WHERE sender_deleted = FALSE;`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx
            ON messages (recipient_id, sender_id) WHERE date_read IS NULL AND recipient_deleted = FALSE;`,
		`CREATE INDEX IF NOT EXISTS messages_purgeable_idx
            ON messages (id) WHERE sender_deleted AND recipient_deleted;`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
