// Package store persists keyfold records behind one backend-neutral
// interface with owner-scoped collections and a versioned, forward-only
// migration engine.
//
// Two concrete backends implement the interface: an embedded relational
// engine (SQLite via modernc.org/sqlite) and an embedded object store
// (bbolt). Exactly one backend is constructed per process, selected once
// at startup from configuration; there is no live switching.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrExists indicates an Add collided with an existing record.
	ErrExists = errors.New("store: record already exists")

	// ErrInvalidRecord indicates a record failed validation before write.
	ErrInvalidRecord = errors.New("store: invalid record")

	// ErrLocked indicates another process holds the store open.
	ErrLocked = errors.New("store: store is locked by another process")

	// ErrUnknownBackend indicates an unrecognized backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Account is the per-user root record. Email is the unique, case-folded
// key; Salt and Verifier change only through password change or recovery.
type Account struct {
	Email              string    `json:"email"`
	Salt               []byte    `json:"salt"`
	Verifier           []byte    `json:"verifier"`
	DisplayName        string    `json:"displayName"`
	AvatarName         string    `json:"avatarName,omitempty"`
	AvatarMime         string    `json:"avatarMime,omitempty"`
	Mnemonic           []string  `json:"mnemonic,omitempty"`
	MustChangePassword bool      `json:"mustChangePassword"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Credential is an owner-scoped login entry. Secret is an opaque cipher
// blob produced by the crypto package; the store never sees plaintext.
type Credential struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Username  string    `json:"username"`
	Secret    string    `json:"secret"`
	URL       string    `json:"url,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Site is an owner-scoped bookmarked site.
type Site struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentKind tags the payload variant of a Document.
type DocumentKind string

const (
	// DocumentFile is a file-only document.
	DocumentFile DocumentKind = "file"
	// DocumentLink is a link-only document.
	DocumentLink DocumentKind = "link"
	// DocumentFileLink carries both a file and a link.
	DocumentFileLink DocumentKind = "file+link"
)

// FileRef describes an attachment blob referenced by a document. RelPath
// is always relative to the blob vault root.
type FileRef struct {
	Name    string `json:"name"`
	RelPath string `json:"relPath"`
	Size    int64  `json:"size"`
	Mime    string `json:"mime"`
	SHA256  string `json:"sha256"`
}

// Document is an owner-scoped document record with a tagged payload:
// file-only, link-only, or file+link.
type Document struct {
	ID        string       `json:"id"`
	Owner     string       `json:"owner"`
	Title     string       `json:"title"`
	Kind      DocumentKind `json:"kind"`
	File      *FileRef     `json:"file,omitempty"`
	URL       string       `json:"url,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Validate checks the payload variant against its kind.
func (d *Document) Validate() error {
	switch d.Kind {
	case DocumentFile:
		if d.File == nil {
			return fmt.Errorf("%w: file document without file payload", ErrInvalidRecord)
		}
	case DocumentLink:
		if d.URL == "" {
			return fmt.Errorf("%w: link document without url", ErrInvalidRecord)
		}
	case DocumentFileLink:
		if d.File == nil || d.URL == "" {
			return fmt.Errorf("%w: file+link document needs both payloads", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown document kind %q", ErrInvalidRecord, d.Kind)
	}
	return nil
}

// Users is the account table.
type Users interface {
	// Get returns the account for the given email or ErrNotFound.
	Get(ctx context.Context, email string) (*Account, error)
	// Put inserts or replaces the account.
	Put(ctx context.Context, acct *Account) error
	// Delete removes the account row only; use Store.DeleteOwner for the
	// full cascade.
	Delete(ctx context.Context, email string) error
}

// Credentials is the owner-scoped credential collection.
type Credentials interface {
	ListByOwner(ctx context.Context, owner string) ([]Credential, error)
	Get(ctx context.Context, id string) (*Credential, error)
	Add(ctx context.Context, c *Credential) error
	Put(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, id string) error
}

// Sites is the owner-scoped site collection.
type Sites interface {
	ListByOwner(ctx context.Context, owner string) ([]Site, error)
	Get(ctx context.Context, id string) (*Site, error)
	Add(ctx context.Context, s *Site) error
	Put(ctx context.Context, s *Site) error
	Delete(ctx context.Context, id string) error
}

// Documents is the owner-scoped document collection.
type Documents interface {
	ListByOwner(ctx context.Context, owner string) ([]Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	Add(ctx context.Context, d *Document) error
	Put(ctx context.Context, d *Document) error
	Delete(ctx context.Context, id string) error
}

// Store is the uniform persistence interface consumed by the rest of the
// engine.
type Store interface {
	Users() Users
	Credentials() Credentials
	Sites() Sites
	Documents() Documents

	// Migrate applies every pending schema migration strictly in order.
	// Safe to call on every startup; applied steps are no-ops.
	Migrate(ctx context.Context) error

	// Rotate persists a key rotation as one atomic swap: the updated
	// account (new salt/verifier) and every re-encrypted credential are
	// written in a single transaction, so an interruption leaves the
	// vault entirely under the old key or entirely under the new one.
	Rotate(ctx context.Context, acct *Account, creds []Credential) error

	// DeleteOwner removes the account and every credential, site, and
	// document row it owns in a single transaction.
	DeleteOwner(ctx context.Context, email string) error

	Close() error
}

// Options selects and configures the concrete backend.
type Options struct {
	// Backend is BackendSQLite or BackendBolt.
	Backend string
	// Dir is the directory holding the store files.
	Dir string
}

// Open constructs the configured backend. The choice is made exactly once
// per process; callers must not mix backends over one directory.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return openSQLite(opts.Dir)
	case BackendBolt:
		return openBolt(opts.Dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

var emailFolder = cases.Fold()

// NormalizeEmail canonicalizes an email for use as an account key:
// trimmed and Unicode case-folded. All store implementations apply it to
// incoming keys so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// Clock returns current UTC time truncated to microseconds, the common
// timestamp precision of both backends.
func Clock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
