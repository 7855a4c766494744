package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBackends = []string{BackendSQLite, BackendBolt}

func newTestStore(t *testing.T, backend string) Store {
	t.Helper()
	st, err := Open(Options{Backend: backend, Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func testAccount(email string) *Account {
	now := Clock()
	return &Account{
		Email:       email,
		Salt:        []byte("0123456789abcdef"),
		Verifier:    []byte("test-verifier"),
		DisplayName: "Test User",
		Mnemonic: []string{
			"apple", "brick", "cedar", "delta", "ember", "frost",
			"grove", "haste", "ivory", "jolly", "karma", "lunar",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testCredential(owner, title string) *Credential {
	now := Clock()
	return &Credential{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		Username:  "user",
		Secret:    "b64-cipher-blob",
		URL:       "https://example.com",
		Tags:      []string{"work", "email"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "redis", Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestUsersRoundTrip(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()
			users := st.Users()

			_, err := users.Get(ctx, "nobody@example.com")
			assert.ErrorIs(t, err, ErrNotFound)

			err = users.Put(ctx, &Account{Email: "a@example.com"})
			assert.ErrorIs(t, err, ErrInvalidRecord)

			acct := testAccount("Alice@Example.COM")
			require.NoError(t, users.Put(ctx, acct))

			// Lookups are case-insensitive.
			got, err := users.Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", got.Email)
			assert.Equal(t, acct.Salt, got.Salt)
			assert.Equal(t, acct.Verifier, got.Verifier)
			assert.Equal(t, acct.Mnemonic, got.Mnemonic)
			assert.False(t, got.MustChangePassword)

			got.Verifier = []byte("rotated")
			got.MustChangePassword = true
			require.NoError(t, users.Put(ctx, got))

			got2, err := users.Get(ctx, "ALICE@example.com")
			require.NoError(t, err)
			assert.Equal(t, []byte("rotated"), got2.Verifier)
			assert.True(t, got2.MustChangePassword)

			require.NoError(t, users.Delete(ctx, "alice@example.com"))
			assert.ErrorIs(t, users.Delete(ctx, "alice@example.com"), ErrNotFound)
		})
	}
}

func TestCredentialsLifecycle(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()
			creds := st.Credentials()

			assert.ErrorIs(t, creds.Add(ctx, &Credential{Owner: "a@b.c"}), ErrInvalidRecord)
			assert.ErrorIs(t, creds.Add(ctx, &Credential{ID: "x"}), ErrInvalidRecord)

			first := testCredential("alice@example.com", "first")
			second := testCredential("alice@example.com", "second")
			second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
			other := testCredential("bob@example.com", "bob's")

			require.NoError(t, creds.Add(ctx, first))
			require.NoError(t, creds.Add(ctx, second))
			require.NoError(t, creds.Add(ctx, other))
			assert.ErrorIs(t, creds.Add(ctx, first), ErrExists)

			list, err := creds.ListByOwner(ctx, "ALICE@example.com")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "first", list[0].Title)
			assert.Equal(t, "second", list[1].Title)

			got, err := creds.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, first.Secret, got.Secret)
			assert.Equal(t, []string{"work", "email"}, got.Tags)

			got.Title = "renamed"
			got.Secret = "new-blob"
			got.Tags = nil
			got.UpdatedAt = Clock()
			require.NoError(t, creds.Put(ctx, got))

			got2, err := creds.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "renamed", got2.Title)
			assert.Equal(t, "new-blob", got2.Secret)
			assert.Empty(t, got2.Tags)

			missing := testCredential("alice@example.com", "ghost")
			assert.ErrorIs(t, creds.Put(ctx, missing), ErrNotFound)

			require.NoError(t, creds.Delete(ctx, first.ID))
			_, err = creds.Get(ctx, first.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, creds.Delete(ctx, first.ID), ErrNotFound)
		})
	}
}

func TestSitesLifecycle(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()
			sites := st.Sites()

			now := Clock()
			site := &Site{
				ID:        uuid.NewString(),
				Owner:     "alice@example.com",
				Title:     "Search",
				URL:       "https://duckduckgo.com",
				Tags:      []string{"tools"},
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, sites.Add(ctx, site))
			assert.ErrorIs(t, sites.Add(ctx, site), ErrExists)

			got, err := sites.Get(ctx, site.ID)
			require.NoError(t, err)
			assert.Equal(t, "https://duckduckgo.com", got.URL)
			assert.Equal(t, []string{"tools"}, got.Tags)

			got.URL = "https://example.org"
			got.UpdatedAt = Clock()
			require.NoError(t, sites.Put(ctx, got))

			list, err := sites.ListByOwner(ctx, "alice@example.com")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "https://example.org", list[0].URL)

			require.NoError(t, sites.Delete(ctx, site.ID))
			assert.ErrorIs(t, sites.Delete(ctx, site.ID), ErrNotFound)
		})
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()
			docs := st.Documents()
			now := Clock()

			bad := &Document{
				ID: uuid.NewString(), Owner: "alice@example.com",
				Kind: DocumentFile, CreatedAt: now, UpdatedAt: now,
			}
			assert.ErrorIs(t, docs.Add(ctx, bad), ErrInvalidRecord)

			bad.Kind = DocumentLink
			assert.ErrorIs(t, docs.Add(ctx, bad), ErrInvalidRecord)

			bad.Kind = "note"
			assert.ErrorIs(t, docs.Add(ctx, bad), ErrInvalidRecord)

			fileDoc := &Document{
				ID:    uuid.NewString(),
				Owner: "alice@example.com",
				Title: "Tax return",
				Kind:  DocumentFile,
				File: &FileRef{
					Name:    "taxes.pdf",
					RelPath: "ab12cd-taxes.pdf",
					Size:    4096,
					Mime:    "application/pdf",
					SHA256:  "ab12cd",
				},
				Tags:      []string{"finance"},
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, docs.Add(ctx, fileDoc))

			linkDoc := &Document{
				ID:        uuid.NewString(),
				Owner:     "alice@example.com",
				Title:     "Manual",
				Kind:      DocumentLink,
				URL:       "https://example.com/manual",
				CreatedAt: now.Add(time.Millisecond),
				UpdatedAt: now.Add(time.Millisecond),
			}
			require.NoError(t, docs.Add(ctx, linkDoc))

			got, err := docs.Get(ctx, fileDoc.ID)
			require.NoError(t, err)
			require.NotNil(t, got.File)
			assert.Equal(t, "taxes.pdf", got.File.Name)
			assert.Equal(t, int64(4096), got.File.Size)
			assert.Equal(t, "ab12cd", got.File.SHA256)

			list, err := docs.ListByOwner(ctx, "alice@example.com")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Tax return", list[0].Title)
			assert.Nil(t, list[1].File)

			got.URL = "https://example.com/archive"
			got.Kind = DocumentFileLink
			got.UpdatedAt = Clock()
			require.NoError(t, docs.Put(ctx, got))

			got2, err := docs.Get(ctx, fileDoc.ID)
			require.NoError(t, err)
			assert.Equal(t, DocumentFileLink, got2.Kind)
			assert.Equal(t, "https://example.com/archive", got2.URL)

			require.NoError(t, docs.Delete(ctx, linkDoc.ID))
			assert.ErrorIs(t, docs.Delete(ctx, linkDoc.ID), ErrNotFound)
		})
	}
}

func TestRotate(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()

			acct := testAccount("alice@example.com")
			require.NoError(t, st.Users().Put(ctx, acct))

			var creds []Credential
			for i := 0; i < 3; i++ {
				c := testCredential("alice@example.com", fmt.Sprintf("entry-%d", i))
				require.NoError(t, st.Credentials().Add(ctx, c))
				creds = append(creds, *c)
			}

			acct.Salt = []byte("fedcba9876543210")
			acct.Verifier = []byte("new-verifier")
			acct.UpdatedAt = Clock()
			for i := range creds {
				creds[i].Secret = fmt.Sprintf("rotated-%d", i)
				creds[i].UpdatedAt = acct.UpdatedAt
			}
			require.NoError(t, st.Rotate(ctx, acct, creds))

			got, err := st.Users().Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, []byte("new-verifier"), got.Verifier)
			for i := range creds {
				c, err := st.Credentials().Get(ctx, creds[i].ID)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("rotated-%d", i), c.Secret)
			}
		})
	}
}

// A rotation that references a missing credential must leave the store
// untouched: no partial key swap.
func TestRotateAtomicity(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()

			acct := testAccount("alice@example.com")
			require.NoError(t, st.Users().Put(ctx, acct))
			cred := testCredential("alice@example.com", "real")
			require.NoError(t, st.Credentials().Add(ctx, cred))

			updated := *acct
			updated.Verifier = []byte("half-rotated")
			batch := []Credential{*cred, *testCredential("alice@example.com", "ghost")}
			batch[0].Secret = "should-not-land"

			err := st.Rotate(ctx, &updated, batch)
			assert.ErrorIs(t, err, ErrNotFound)

			got, err := st.Users().Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, []byte("test-verifier"), got.Verifier)

			c, err := st.Credentials().Get(ctx, cred.ID)
			require.NoError(t, err)
			assert.Equal(t, "b64-cipher-blob", c.Secret)
		})
	}
}

func TestDeleteOwner(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) {
			st := newTestStore(t, backend)
			ctx := context.Background()

			assert.ErrorIs(t, st.DeleteOwner(ctx, "ghost@example.com"), ErrNotFound)

			require.NoError(t, st.Users().Put(ctx, testAccount("alice@example.com")))
			require.NoError(t, st.Users().Put(ctx, testAccount("bob@example.com")))
			require.NoError(t, st.Credentials().Add(ctx, testCredential("alice@example.com", "hers")))
			bobCred := testCredential("bob@example.com", "his")
			require.NoError(t, st.Credentials().Add(ctx, bobCred))

			now := Clock()
			require.NoError(t, st.Sites().Add(ctx, &Site{
				ID: uuid.NewString(), Owner: "alice@example.com",
				URL: "https://a.example", CreatedAt: now, UpdatedAt: now,
			}))
			require.NoError(t, st.Documents().Add(ctx, &Document{
				ID: uuid.NewString(), Owner: "alice@example.com",
				Kind: DocumentLink, URL: "https://a.example/doc",
				CreatedAt: now, UpdatedAt: now,
			}))

			require.NoError(t, st.DeleteOwner(ctx, "Alice@Example.com"))

			_, err := st.Users().Get(ctx, "alice@example.com")
			assert.ErrorIs(t, err, ErrNotFound)
			for _, list := range []func() (int, error){
				func() (int, error) {
					l, err := st.Credentials().ListByOwner(ctx, "alice@example.com")
					return len(l), err
				},
				func() (int, error) {
					l, err := st.Sites().ListByOwner(ctx, "alice@example.com")
					return len(l), err
				},
				func() (int, error) {
					l, err := st.Documents().ListByOwner(ctx, "alice@example.com")
					return len(l), err
				},
			} {
				n, err := list()
				require.NoError(t, err)
				assert.Zero(t, n)
			}

			// Bob's records survive the cascade.
			_, err = st.Users().Get(ctx, "bob@example.com")
			require.NoError(t, err)
			c, err := st.Credentials().Get(ctx, bobCred.ID)
			require.NoError(t, err)
			assert.Equal(t, "his", c.Title)
		})
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Options{Backend: BackendSQLite, Dir: dir})
	require.NoError(t, err)
	defer st.Close()

	_, err = Open(Options{Backend: BackendSQLite, Dir: dir})
	assert.ErrorIs(t, err, ErrLocked)
}
