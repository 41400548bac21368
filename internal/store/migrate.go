package store

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema_v1.sql
var schemaV1 string

// Schema version tracking:
// 0 - Empty database
// 1 - Baseline tables
// 2 - Float and petty-cash columns on shifts
// 3 - audit_log.shift_id, backfilled from details
// 4 - outbox and preferences
const currentSchemaVersion = 4

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "baseline",
		stmts:   []string{schemaV1},
	},
	{
		version: 2,
		name:    "shift float columns",
		stmts: []string{
			`ALTER TABLE shifts ADD COLUMN opening_float TEXT NOT NULL DEFAULT '0'`,
			`ALTER TABLE shifts ADD COLUMN closing_float TEXT`,
			`ALTER TABLE shifts ADD COLUMN float_withdrawn TEXT`,
			`ALTER TABLE shifts ADD COLUMN opening_petty TEXT NOT NULL DEFAULT '0'`,
			`ALTER TABLE shifts ADD COLUMN closing_petty TEXT`,
		},
	},
	{
		version: 3,
		name:    "audit shift column",
		stmts: []string{
			`ALTER TABLE audit_log ADD COLUMN shift_id TEXT NOT NULL DEFAULT ''`,
			`UPDATE audit_log
			 SET shift_id = COALESCE(json_extract(details, '$.shiftId'), '')
			 WHERE json_valid(details) AND json_type(details, '$.shiftId') = 'text'`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_action_shift ON audit_log(action, shift_id, ts)`,
		},
	},
	{
		version: 4,
		name:    "outbox and preferences",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS outbox (
				id              INTEGER PRIMARY KEY,
				action          TEXT NOT NULL,
				payload         TEXT NOT NULL,
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 1 CHECK (max_attempts >= 1),
				next_attempt_at INTEGER NOT NULL,
				last_error      TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'pending'
				                CHECK (status IN ('pending', 'sent', 'dropped')),
				created_at      INTEGER NOT NULL,
				sent_at         INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at, id)`,
			`CREATE TABLE IF NOT EXISTS preferences (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
	},
}

// migrate applies every migration newer than the database's user_version.
// Each migration runs in its own transaction together with the version bump,
// so a failed step leaves the database at the previous version.
func migrate(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the database's current user_version.
func (s *Store) SchemaVersion() (int, error) {
	return schemaVersion(s.db)
}
