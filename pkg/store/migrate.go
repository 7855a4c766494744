package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"keyfold/pkg/mnemonic"
	"keyfold/pkg/tags"
)

// Schema versions. The persisted version is a single monotonically
// increasing counter per store; migrations apply strictly in order and
// every step is idempotent, so re-running from any intermediate version
// converges on the same final schema.
const (
	// SchemaVersion1 creates the users and credentials tables.
	SchemaVersion1 = 1
	// SchemaVersion2 creates the sites and documents tables.
	SchemaVersion2 = 2
	// SchemaVersion3 adds canonical tag lists and backfills them from the
	// legacy free-form keywords column.
	SchemaVersion3 = 3
	// SchemaVersion4 adds recovery mnemonics and the must-change-password
	// flag, backfilling a fresh mnemonic for accounts that predate them.
	SchemaVersion4 = 4
	// CurrentSchemaVersion is the latest defined version.
	CurrentSchemaVersion = SchemaVersion4
)

// sqliteMigration is one versioned step of the relational backend. The
// version bump is written inside the same transaction as the step, so a
// failed step never leaves its version recorded.
type sqliteMigration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var sqliteMigrations = []sqliteMigration{
	{SchemaVersion1, "users and credentials", migrateSQLiteV1},
	{SchemaVersion2, "sites and documents", migrateSQLiteV2},
	{SchemaVersion3, "canonical tags", migrateSQLiteV3},
	{SchemaVersion4, "recovery mnemonics", migrateSQLiteV4},
}

// sqliteSchemaVersion returns the persisted schema version, 0 for a
// brand-new store.
func sqliteSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrateSQLite applies every migration with a version greater than the
// persisted one, strictly in order.
func migrateSQLite(db *sql.DB) error {
	version, err := sqliteSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range sqliteMigrations {
		if m.version <= version {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: migration %d (%s): begin: %w", m.version, m.name, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d (%s): %w", m.version, m.name, err)
		}
		if err := setSchemaVersionTx(tx, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: migration %d (%s): commit: %w", m.version, m.name, err)
		}
		version = m.version
	}
	return nil
}

func setSchemaVersionTx(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func migrateSQLiteV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			salt BLOB NOT NULL,
			verifier BLOB NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_name TEXT,
			avatar_mime TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			url TEXT,
			keywords TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}

	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner)"); err != nil {
		return fmt.Errorf("failed to create idx_credentials_owner: %w", err)
	}
	return nil
}

func migrateSQLiteV2(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			keywords TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sites table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			file_name TEXT,
			file_rel_path TEXT,
			file_size INTEGER,
			file_mime TEXT,
			file_sha256 TEXT,
			url TEXT,
			keywords TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_sites_owner ON sites(owner)",
		"CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner)",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create owner index: %w", err)
		}
	}
	return nil
}

// migrateSQLiteV3 adds the canonical tags column to each collection and
// converts the legacy free-form keywords text into tag lists.
func migrateSQLiteV3(tx *sql.Tx) error {
	for _, table := range []string{"credentials", "sites", "documents"} {
		columns, err := tableColumns(tx, table)
		if err != nil {
			return fmt.Errorf("failed to get %s columns: %w", table, err)
		}
		if !columns["tags"] {
			if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN tags TEXT", table)); err != nil {
				return fmt.Errorf("failed to add tags column to %s: %w", table, err)
			}
		}
		if err := backfillTags(tx, table); err != nil {
			return fmt.Errorf("failed to backfill tags on %s: %w", table, err)
		}
	}
	return nil
}

func backfillTags(tx *sql.Tx, table string) error {
	rows, err := tx.Query(fmt.Sprintf(
		"SELECT id, keywords FROM %s WHERE keywords IS NOT NULL AND keywords != '' AND (tags IS NULL OR tags = '')", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	type backfill struct {
		id   string
		tags []string
	}
	var pending []backfill
	for rows.Next() {
		var id, keywords string
		if err := rows.Scan(&id, &keywords); err != nil {
			return err
		}
		if list := tags.Split(keywords); len(list) > 0 {
			pending = append(pending, backfill{id: id, tags: list})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, b := range pending {
		encoded, err := json.Marshal(b.tags)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET tags = ?, keywords = NULL WHERE id = ?", table), string(encoded), b.id); err != nil {
			return err
		}
	}
	return nil
}

// migrateSQLiteV4 adds the mnemonic and must_change_password columns and
// generates a recovery phrase for accounts that never had one.
func migrateSQLiteV4(tx *sql.Tx) error {
	columns, err := tableColumns(tx, "users")
	if err != nil {
		return fmt.Errorf("failed to get users columns: %w", err)
	}
	if !columns["mnemonic"] {
		if _, err := tx.Exec("ALTER TABLE users ADD COLUMN mnemonic TEXT"); err != nil {
			return fmt.Errorf("failed to add mnemonic column: %w", err)
		}
	}
	if !columns["must_change_password"] {
		if _, err := tx.Exec("ALTER TABLE users ADD COLUMN must_change_password INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add must_change_password column: %w", err)
		}
	}

	rows, err := tx.Query("SELECT email FROM users WHERE mnemonic IS NULL OR mnemonic = ''")
	if err != nil {
		return err
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return err
		}
		missing = append(missing, email)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, email := range missing {
		phrase, err := mnemonic.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate mnemonic for %s: %w", email, err)
		}
		encoded, err := json.Marshal(phrase)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE users SET mnemonic = ? WHERE email = ?", string(encoded), email); err != nil {
			return err
		}
	}
	return nil
}

// tableColumns returns the set of column names for a table.
func tableColumns(tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
