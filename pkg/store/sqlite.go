package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	sqliteDBFile   = "keyfold.db"
	sqliteLockFile = "keyfold.lock"

	fileMode = 0600
	dirMode  = 0700
)

// sqliteStore is the embedded relational backend for the installed
// desktop runtime.
type sqliteStore struct {
	db   *sql.DB
	lock *dirLock
}

func openSQLite(dir string) (*sqliteStore, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create store directory: %w", err)
	}

	// Advisory lock keeps the design's single-writer assumption honest: a
	// second process opening the same store fails fast instead of racing
	// a bulk re-encryption.
	lock, err := acquireDirLock(filepath.Join(dir, sqliteLockFile))
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, sqliteDBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// Single-connection mode avoids "database is locked" within the
	// process; the engine is single-session anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		lock.release()
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if err := os.Chmod(dbPath, fileMode); err != nil {
		db.Close()
		lock.release()
		return nil, fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	return &sqliteStore{db: db, lock: lock}, nil
}

func (s *sqliteStore) Users() Users             { return sqliteUsers{s.db} }
func (s *sqliteStore) Credentials() Credentials { return sqliteCredentials{s.db} }
func (s *sqliteStore) Sites() Sites             { return sqliteSites{s.db} }
func (s *sqliteStore) Documents() Documents     { return sqliteDocuments{s.db} }

func (s *sqliteStore) Migrate(ctx context.Context) error {
	_ = ctx
	return migrateSQLite(s.db)
}

func (s *sqliteStore) Rotate(ctx context.Context, acct *Account, creds []Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: rotate: begin: %w", err)
	}
	defer tx.Rollback()

	if err := putAccountTx(ctx, tx, acct); err != nil {
		return fmt.Errorf("store: rotate: %w", err)
	}
	for i := range creds {
		c := &creds[i]
		res, err := tx.ExecContext(ctx,
			"UPDATE credentials SET secret = ?, updated_at = ? WHERE id = ?",
			c.Secret, c.UpdatedAt, c.ID)
		if err != nil {
			return fmt.Errorf("store: rotate credential %s: %w", c.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: rotate credential %s: %w", c.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("store: rotate credential %s: %w", c.ID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: rotate: commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) DeleteOwner(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete owner: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"credentials", "sites", "documents"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE owner = ?", table), email); err != nil {
			return fmt.Errorf("store: delete owner rows from %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("store: delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete owner: commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	err := s.db.Close()
	s.lock.release()
	return err
}

// --- users ---

type sqliteUsers struct{ db *sql.DB }

func (u sqliteUsers) Get(ctx context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)

	var acct Account
	var avatarName, avatarMime, mnemonicJSON sql.NullString
	var mustChange int
	err := u.db.QueryRowContext(ctx, `
		SELECT email, salt, verifier, display_name, avatar_name, avatar_mime,
		       mnemonic, must_change_password, created_at, updated_at
		FROM users WHERE email = ?`, email,
	).Scan(&acct.Email, &acct.Salt, &acct.Verifier, &acct.DisplayName,
		&avatarName, &avatarMime, &mnemonicJSON, &mustChange,
		&acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read account: %w", err)
	}

	acct.AvatarName = avatarName.String
	acct.AvatarMime = avatarMime.String
	acct.MustChangePassword = mustChange != 0
	if mnemonicJSON.Valid && mnemonicJSON.String != "" {
		if err := json.Unmarshal([]byte(mnemonicJSON.String), &acct.Mnemonic); err != nil {
			return nil, fmt.Errorf("store: corrupt mnemonic for %s: %w", email, err)
		}
	}
	return &acct, nil
}

func (u sqliteUsers) Put(ctx context.Context, acct *Account) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: put account: begin: %w", err)
	}
	defer tx.Rollback()

	if err := putAccountTx(ctx, tx, acct); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: put account: commit: %w", err)
	}
	return nil
}

func putAccountTx(ctx context.Context, tx *sql.Tx, acct *Account) error {
	if acct.Email == "" || len(acct.Salt) == 0 || len(acct.Verifier) == 0 {
		return fmt.Errorf("%w: account needs email, salt, and verifier", ErrInvalidRecord)
	}
	acct.Email = NormalizeEmail(acct.Email)

	mnemonicJSON, err := marshalStrings(acct.Mnemonic)
	if err != nil {
		return fmt.Errorf("store: failed to encode mnemonic: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (email, salt, verifier, display_name, avatar_name, avatar_mime,
		                   mnemonic, must_change_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			salt = excluded.salt,
			verifier = excluded.verifier,
			display_name = excluded.display_name,
			avatar_name = excluded.avatar_name,
			avatar_mime = excluded.avatar_mime,
			mnemonic = excluded.mnemonic,
			must_change_password = excluded.must_change_password,
			updated_at = excluded.updated_at
	`, acct.Email, acct.Salt, acct.Verifier, acct.DisplayName,
		nullable(acct.AvatarName), nullable(acct.AvatarMime),
		mnemonicJSON, boolToInt(acct.MustChangePassword),
		acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to save account: %w", err)
	}
	return nil
}

func (u sqliteUsers) Delete(ctx context.Context, email string) error {
	return execAffectingOne(ctx, u.db,
		"DELETE FROM users WHERE email = ?", NormalizeEmail(email))
}

// --- credentials ---

type sqliteCredentials struct{ db *sql.DB }

const credentialColumns = "id, owner, title, username, secret, url, tags, created_at, updated_at"

func (c sqliteCredentials) ListByOwner(ctx context.Context, owner string) ([]Credential, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE owner = ? ORDER BY created_at",
		NormalizeEmail(owner))
	if err != nil {
		return nil, fmt.Errorf("store: failed to query credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating credentials: %w", err)
	}
	return out, nil
}

func (c sqliteCredentials) Get(ctx context.Context, id string) (*Credential, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE id = ?", id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cred, err
}

func (c sqliteCredentials) Add(ctx context.Context, cred *Credential) error {
	if err := validateOwned(cred.ID, cred.Owner); err != nil {
		return err
	}
	cred.Owner = NormalizeEmail(cred.Owner)
	tagsJSON, err := marshalStrings(cred.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.Owner, cred.Title, cred.Username, cred.Secret,
		nullable(cred.URL), tagsJSON, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("store: failed to add credential: %w", err)
	}
	return nil
}

func (c sqliteCredentials) Put(ctx context.Context, cred *Credential) error {
	if err := validateOwned(cred.ID, cred.Owner); err != nil {
		return err
	}
	cred.Owner = NormalizeEmail(cred.Owner)
	tagsJSON, err := marshalStrings(cred.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	return execAffectingOne(ctx, c.db, `
		UPDATE credentials
		SET title = ?, username = ?, secret = ?, url = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		cred.Title, cred.Username, cred.Secret, nullable(cred.URL),
		tagsJSON, cred.UpdatedAt, cred.ID)
}

func (c sqliteCredentials) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, c.db, "DELETE FROM credentials WHERE id = ?", id)
}

func scanCredential(row scanner) (*Credential, error) {
	var cred Credential
	var url, tagsJSON sql.NullString
	err := row.Scan(&cred.ID, &cred.Owner, &cred.Title, &cred.Username,
		&cred.Secret, &url, &tagsJSON, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to scan credential: %w", err)
	}
	cred.URL = url.String
	cred.Tags, err = unmarshalStrings(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt tags on credential %s: %w", cred.ID, err)
	}
	return &cred, nil
}

// --- sites ---

type sqliteSites struct{ db *sql.DB }

const siteColumns = "id, owner, title, url, tags, created_at, updated_at"

func (s sqliteSites) ListByOwner(ctx context.Context, owner string) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+siteColumns+" FROM sites WHERE owner = ? ORDER BY created_at",
		NormalizeEmail(owner))
	if err != nil {
		return nil, fmt.Errorf("store: failed to query sites: %w", err)
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating sites: %w", err)
	}
	return out, nil
}

func (s sqliteSites) Get(ctx context.Context, id string) (*Site, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE id = ?", id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return site, err
}

func (s sqliteSites) Add(ctx context.Context, site *Site) error {
	if err := validateOwned(site.ID, site.Owner); err != nil {
		return err
	}
	site.Owner = NormalizeEmail(site.Owner)
	tagsJSON, err := marshalStrings(site.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (`+siteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.Owner, site.Title, site.URL, tagsJSON,
		site.CreatedAt, site.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("store: failed to add site: %w", err)
	}
	return nil
}

func (s sqliteSites) Put(ctx context.Context, site *Site) error {
	if err := validateOwned(site.ID, site.Owner); err != nil {
		return err
	}
	tagsJSON, err := marshalStrings(site.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE sites SET title = ?, url = ?, tags = ?, updated_at = ? WHERE id = ?`,
		site.Title, site.URL, tagsJSON, site.UpdatedAt, site.ID)
}

func (s sqliteSites) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db, "DELETE FROM sites WHERE id = ?", id)
}

func scanSite(row scanner) (*Site, error) {
	var site Site
	var tagsJSON sql.NullString
	err := row.Scan(&site.ID, &site.Owner, &site.Title, &site.URL,
		&tagsJSON, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to scan site: %w", err)
	}
	site.Tags, err = unmarshalStrings(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt tags on site %s: %w", site.ID, err)
	}
	return &site, nil
}

// --- documents ---

type sqliteDocuments struct{ db *sql.DB }

const documentColumns = "id, owner, title, kind, file_name, file_rel_path, file_size, file_mime, file_sha256, url, tags, created_at, updated_at"

func (d sqliteDocuments) ListByOwner(ctx context.Context, owner string) ([]Document, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE owner = ? ORDER BY created_at",
		NormalizeEmail(owner))
	if err != nil {
		return nil, fmt.Errorf("store: failed to query documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating documents: %w", err)
	}
	return out, nil
}

func (d sqliteDocuments) Get(ctx context.Context, id string) (*Document, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (d sqliteDocuments) Add(ctx context.Context, doc *Document) error {
	if err := validateOwned(doc.ID, doc.Owner); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	doc.Owner = NormalizeEmail(doc.Owner)
	tagsJSON, err := marshalStrings(doc.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	fileName, relPath, size, mime, sha := fileRefFields(doc.File)
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Owner, doc.Title, string(doc.Kind),
		fileName, relPath, size, mime, sha,
		nullable(doc.URL), tagsJSON, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("store: failed to add document: %w", err)
	}
	return nil
}

func (d sqliteDocuments) Put(ctx context.Context, doc *Document) error {
	if err := validateOwned(doc.ID, doc.Owner); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	tagsJSON, err := marshalStrings(doc.Tags)
	if err != nil {
		return fmt.Errorf("store: failed to encode tags: %w", err)
	}
	fileName, relPath, size, mime, sha := fileRefFields(doc.File)
	return execAffectingOne(ctx, d.db, `
		UPDATE documents
		SET title = ?, kind = ?, file_name = ?, file_rel_path = ?, file_size = ?,
		    file_mime = ?, file_sha256 = ?, url = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, string(doc.Kind), fileName, relPath, size, mime, sha,
		nullable(doc.URL), tagsJSON, doc.UpdatedAt, doc.ID)
}

func (d sqliteDocuments) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, d.db, "DELETE FROM documents WHERE id = ?", id)
}

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	var kind string
	var fileName, relPath, mime, sha, url, tagsJSON sql.NullString
	var size sql.NullInt64
	err := row.Scan(&doc.ID, &doc.Owner, &doc.Title, &kind,
		&fileName, &relPath, &size, &mime, &sha,
		&url, &tagsJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to scan document: %w", err)
	}
	doc.Kind = DocumentKind(kind)
	doc.URL = url.String
	if relPath.Valid && relPath.String != "" {
		doc.File = &FileRef{
			Name:    fileName.String,
			RelPath: relPath.String,
			Size:    size.Int64,
			Mime:    mime.String,
			SHA256:  sha.String,
		}
	}
	doc.Tags, err = unmarshalStrings(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt tags on document %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func fileRefFields(f *FileRef) (name, relPath any, size any, mime, sha any) {
	if f == nil {
		return nil, nil, nil, nil, nil
	}
	return f.Name, f.RelPath, f.Size, f.Mime, f.SHA256
}

// --- shared helpers ---

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func validateOwned(id, owner string) error {
	if id == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if owner == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidRecord)
	}
	return nil
}

func execAffectingOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: write failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: write failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalStrings(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint failure, without depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
