package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"keyfold/pkg/mnemonic"
	"keyfold/pkg/tags"
)

const boltDBFile = "keyfold.bolt"

// Bucket names.
var (
	boltMetaBucket        = []byte("meta")
	boltUsersBucket       = []byte("users")
	boltCredentialsBucket = []byte("credentials")
	boltSitesBucket       = []byte("sites")
	boltDocumentsBucket   = []byte("documents")

	boltVersionKey = []byte("schema_version")
)

// boltStore is the embedded object-store backend, the role the
// browser-local store plays in the original design. Records are JSON
// values keyed by id (users by normalized email); owner scoping is a
// filtered scan, which is fine at local per-account scale.
type boltStore struct {
	db *bbolt.DB
}

func openBolt(dir string) (*boltStore, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(dir+string(os.PathSeparator)+boltDBFile, fileMode, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Users() Users             { return boltUsers{s.db} }
func (s *boltStore) Credentials() Credentials { return boltCredentials{s.db} }
func (s *boltStore) Sites() Sites             { return boltSites{s.db} }
func (s *boltStore) Documents() Documents     { return boltDocuments{s.db} }

// boltMigration is one versioned step of the object-store backend. Same
// ordering and idempotence contract as the relational steps; the version
// bump happens inside the same Update as the step.
type boltMigration struct {
	version int
	name    string
	apply   func(tx *bbolt.Tx) error
}

var boltMigrations = []boltMigration{
	{SchemaVersion1, "users and credentials", migrateBoltV1},
	{SchemaVersion2, "sites and documents", migrateBoltV2},
	{SchemaVersion3, "canonical tags", migrateBoltV3},
	{SchemaVersion4, "recovery mnemonics", migrateBoltV4},
}

func (s *boltStore) Migrate(ctx context.Context) error {
	_ = ctx
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range boltMigrations {
		if m.version <= version {
			continue
		}
		step := m
		err := s.db.Update(func(tx *bbolt.Tx) error {
			if err := step.apply(tx); err != nil {
				return err
			}
			meta, err := tx.CreateBucketIfNotExists(boltMetaBucket)
			if err != nil {
				return err
			}
			return meta.Put(boltVersionKey, []byte(strconv.Itoa(step.version)))
		})
		if err != nil {
			return fmt.Errorf("store: migration %d (%s): %w", m.version, m.name, err)
		}
		version = m.version
	}
	return nil
}

func (s *boltStore) schemaVersion() (int, error) {
	version := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(boltMetaBucket)
		if meta == nil {
			return nil
		}
		raw := meta.Get(boltVersionKey)
		if len(raw) == 0 {
			return nil
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt schema version %q", raw)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: failed to read schema version: %w", err)
	}
	return version, nil
}

func migrateBoltV1(tx *bbolt.Tx) error {
	for _, name := range [][]byte{boltUsersBucket, boltCredentialsBucket} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	return nil
}

func migrateBoltV2(tx *bbolt.Tx) error {
	for _, name := range [][]byte{boltSitesBucket, boltDocumentsBucket} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	return nil
}

// migrateBoltV3 converts the legacy free-form "keywords" field on stored
// records into the canonical tag list. Records written after v3 never
// carry keywords, so re-running is a no-op.
func migrateBoltV3(tx *bbolt.Tx) error {
	for _, name := range [][]byte{boltCredentialsBucket, boltSitesBucket, boltDocumentsBucket} {
		bucket := tx.Bucket(name)
		if bucket == nil {
			continue
		}

		type rewrite struct {
			key   []byte
			value []byte
		}
		var pending []rewrite

		err := bucket.ForEach(func(k, v []byte) error {
			var record map[string]any
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("corrupt record %q: %w", k, err)
			}
			raw, ok := record["keywords"].(string)
			if !ok || raw == "" {
				return nil
			}
			if _, has := record["tags"]; !has {
				if list := tags.Split(raw); len(list) > 0 {
					record["tags"] = list
				}
			}
			delete(record, "keywords")
			updated, err := json.Marshal(record)
			if err != nil {
				return err
			}
			pending = append(pending, rewrite{key: append([]byte(nil), k...), value: updated})
			return nil
		})
		if err != nil {
			return err
		}
		for _, r := range pending {
			if err := bucket.Put(r.key, r.value); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrateBoltV4 backfills a recovery mnemonic for accounts that predate
// them.
func migrateBoltV4(tx *bbolt.Tx) error {
	bucket := tx.Bucket(boltUsersBucket)
	if bucket == nil {
		return nil
	}

	type rewrite struct {
		key   []byte
		value []byte
	}
	var pending []rewrite

	err := bucket.ForEach(func(k, v []byte) error {
		var acct Account
		if err := json.Unmarshal(v, &acct); err != nil {
			return fmt.Errorf("corrupt account %q: %w", k, err)
		}
		if len(acct.Mnemonic) > 0 {
			return nil
		}
		phrase, err := mnemonic.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate mnemonic for %s: %w", acct.Email, err)
		}
		acct.Mnemonic = phrase
		updated, err := json.Marshal(&acct)
		if err != nil {
			return err
		}
		pending = append(pending, rewrite{key: append([]byte(nil), k...), value: updated})
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range pending {
		if err := bucket.Put(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *boltStore) Rotate(ctx context.Context, acct *Account, creds []Credential) error {
	_ = ctx
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := boltPutAccount(tx, acct); err != nil {
			return err
		}
		bucket := tx.Bucket(boltCredentialsBucket)
		if bucket == nil {
			return fmt.Errorf("missing credentials bucket")
		}
		for i := range creds {
			c := &creds[i]
			if bucket.Get([]byte(c.ID)) == nil {
				return fmt.Errorf("credential %s: %w", c.ID, ErrNotFound)
			}
			value, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(c.ID), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: rotate: %w", err)
	}
	return nil
}

func (s *boltStore) DeleteOwner(ctx context.Context, email string) error {
	_ = ctx
	email = NormalizeEmail(email)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(boltUsersBucket)
		if users == nil || users.Get([]byte(email)) == nil {
			return ErrNotFound
		}

		for _, name := range [][]byte{boltCredentialsBucket, boltSitesBucket, boltDocumentsBucket} {
			bucket := tx.Bucket(name)
			if bucket == nil {
				continue
			}
			var doomed [][]byte
			err := bucket.ForEach(func(k, v []byte) error {
				var rec struct {
					Owner string `json:"owner"`
				}
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("corrupt record %q: %w", k, err)
				}
				if rec.Owner == email {
					doomed = append(doomed, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range doomed {
				if err := bucket.Delete(k); err != nil {
					return err
				}
			}
		}
		return users.Delete([]byte(email))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: delete owner: %w", err)
	}
	return nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

// --- users ---

type boltUsers struct{ db *bbolt.DB }

func (u boltUsers) Get(ctx context.Context, email string) (*Account, error) {
	_ = ctx
	email = NormalizeEmail(email)

	var acct *Account
	err := u.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltUsersBucket)
		if bucket == nil {
			return ErrNotFound
		}
		raw := bucket.Get([]byte(email))
		if raw == nil {
			return ErrNotFound
		}
		acct = &Account{}
		return json.Unmarshal(raw, acct)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to read account: %w", err)
	}
	return acct, nil
}

func (u boltUsers) Put(ctx context.Context, acct *Account) error {
	_ = ctx
	err := u.db.Update(func(tx *bbolt.Tx) error {
		return boltPutAccount(tx, acct)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRecord) {
			return err
		}
		return fmt.Errorf("store: failed to save account: %w", err)
	}
	return nil
}

func boltPutAccount(tx *bbolt.Tx, acct *Account) error {
	if acct.Email == "" || len(acct.Salt) == 0 || len(acct.Verifier) == 0 {
		return fmt.Errorf("%w: account needs email, salt, and verifier", ErrInvalidRecord)
	}
	acct.Email = NormalizeEmail(acct.Email)

	bucket, err := tx.CreateBucketIfNotExists(boltUsersBucket)
	if err != nil {
		return err
	}
	value, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(acct.Email), value)
}

func (u boltUsers) Delete(ctx context.Context, email string) error {
	_ = ctx
	email = NormalizeEmail(email)
	err := u.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltUsersBucket)
		if bucket == nil || bucket.Get([]byte(email)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(email))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: failed to delete account: %w", err)
	}
	return nil
}

// --- generic owned-record helpers ---

func boltList[T any](db *bbolt.DB, bucketName []byte, owner string, ownerOf func(*T) string, createdAt func(*T) time.Time) ([]T, error) {
	owner = NormalizeEmail(owner)

	var out []T
	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec T
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %q: %w", k, err)
			}
			if ownerOf(&rec) == owner {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to list records: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return createdAt(&out[i]).Before(createdAt(&out[j]))
	})
	return out, nil
}

func boltGet[T any](db *bbolt.DB, bucketName []byte, id string) (*T, error) {
	var rec *T
	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return ErrNotFound
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		rec = new(T)
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to read record: %w", err)
	}
	return rec, nil
}

func boltWrite(db *bbolt.DB, bucketName []byte, id string, rec any, mustExist, mustNotExist bool) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		existing := bucket.Get([]byte(id))
		if mustExist && existing == nil {
			return ErrNotFound
		}
		if mustNotExist && existing != nil {
			return ErrExists
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), value)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
			return err
		}
		return fmt.Errorf("store: write failed: %w", err)
	}
	return nil
}

func boltDelete(db *bbolt.DB, bucketName []byte, id string) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: delete failed: %w", err)
	}
	return nil
}

// --- credentials ---

type boltCredentials struct{ db *bbolt.DB }

func (c boltCredentials) ListByOwner(ctx context.Context, owner string) ([]Credential, error) {
	_ = ctx
	return boltList(c.db, boltCredentialsBucket, owner,
		func(r *Credential) string { return r.Owner },
		func(r *Credential) time.Time { return r.CreatedAt })
}

func (c boltCredentials) Get(ctx context.Context, id string) (*Credential, error) {
	_ = ctx
	return boltGet[Credential](c.db, boltCredentialsBucket, id)
}

func (c boltCredentials) Add(ctx context.Context, cred *Credential) error {
	_ = ctx
	if err := validateOwned(cred.ID, cred.Owner); err != nil {
		return err
	}
	cred.Owner = NormalizeEmail(cred.Owner)
	return boltWrite(c.db, boltCredentialsBucket, cred.ID, cred, false, true)
}

func (c boltCredentials) Put(ctx context.Context, cred *Credential) error {
	_ = ctx
	if err := validateOwned(cred.ID, cred.Owner); err != nil {
		return err
	}
	cred.Owner = NormalizeEmail(cred.Owner)
	return boltWrite(c.db, boltCredentialsBucket, cred.ID, cred, true, false)
}

func (c boltCredentials) Delete(ctx context.Context, id string) error {
	_ = ctx
	return boltDelete(c.db, boltCredentialsBucket, id)
}

// --- sites ---

type boltSites struct{ db *bbolt.DB }

func (s boltSites) ListByOwner(ctx context.Context, owner string) ([]Site, error) {
	_ = ctx
	return boltList(s.db, boltSitesBucket, owner,
		func(r *Site) string { return r.Owner },
		func(r *Site) time.Time { return r.CreatedAt })
}

func (s boltSites) Get(ctx context.Context, id string) (*Site, error) {
	_ = ctx
	return boltGet[Site](s.db, boltSitesBucket, id)
}

func (s boltSites) Add(ctx context.Context, site *Site) error {
	_ = ctx
	if err := validateOwned(site.ID, site.Owner); err != nil {
		return err
	}
	site.Owner = NormalizeEmail(site.Owner)
	return boltWrite(s.db, boltSitesBucket, site.ID, site, false, true)
}

func (s boltSites) Put(ctx context.Context, site *Site) error {
	_ = ctx
	if err := validateOwned(site.ID, site.Owner); err != nil {
		return err
	}
	site.Owner = NormalizeEmail(site.Owner)
	return boltWrite(s.db, boltSitesBucket, site.ID, site, true, false)
}

func (s boltSites) Delete(ctx context.Context, id string) error {
	_ = ctx
	return boltDelete(s.db, boltSitesBucket, id)
}

// --- documents ---

type boltDocuments struct{ db *bbolt.DB }

func (d boltDocuments) ListByOwner(ctx context.Context, owner string) ([]Document, error) {
	_ = ctx
	return boltList(d.db, boltDocumentsBucket, owner,
		func(r *Document) string { return r.Owner },
		func(r *Document) time.Time { return r.CreatedAt })
}

func (d boltDocuments) Get(ctx context.Context, id string) (*Document, error) {
	_ = ctx
	return boltGet[Document](d.db, boltDocumentsBucket, id)
}

func (d boltDocuments) Add(ctx context.Context, doc *Document) error {
	_ = ctx
	if err := validateOwned(doc.ID, doc.Owner); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	doc.Owner = NormalizeEmail(doc.Owner)
	return boltWrite(d.db, boltDocumentsBucket, doc.ID, doc, false, true)
}

func (d boltDocuments) Put(ctx context.Context, doc *Document) error {
	_ = ctx
	if err := validateOwned(doc.ID, doc.Owner); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	doc.Owner = NormalizeEmail(doc.Owner)
	return boltWrite(d.db, boltDocumentsBucket, doc.ID, doc, true, false)
}

func (d boltDocuments) Delete(ctx context.Context, id string) error {
	_ = ctx
	return boltDelete(d.db, boltDocumentsBucket, id)
}
