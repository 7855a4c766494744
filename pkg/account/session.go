package account

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"keyfold/pkg/crypto"
)

// Session is the unlocked state of one account: the normalized email and
// the raw derived key. It is created at login or registration and lives
// until logout; every vault operation takes it explicitly.
type Session struct {
	Email              string
	Key                []byte
	MustChangePassword bool
}

// Wipe zeroes the key material. The session is unusable afterwards.
func (s *Session) Wipe() {
	crypto.SecureWipe(s.Key)
	s.Key = nil
}

// ErrNoSession indicates no persisted session exists.
var ErrNoSession = errors.New("account: no active session")

// persistedSession is the on-disk form. Storing the raw key is a
// deliberate trade-off: it lets the vault unlock without a password on
// the next start, at the cost that anything able to read the file can
// read the vault. File permissions are the only guard.
type persistedSession struct {
	Email string `json:"email"`
	Key   string `json:"key"`
}

const sessionFileMode = 0600

// SaveSession persists the session to path so the next start can
// restore it without prompting.
func SaveSession(path string, sess *Session) error {
	raw, err := json.Marshal(persistedSession{
		Email: sess.Email,
		Key:   base64.StdEncoding.EncodeToString(sess.Key),
	})
	if err != nil {
		return fmt.Errorf("account: failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("account: failed to save session: %w", err)
	}
	if err := os.WriteFile(path, raw, sessionFileMode); err != nil {
		return fmt.Errorf("account: failed to save session: %w", err)
	}
	return nil
}

// LoadSession restores a persisted session, returning ErrNoSession when
// none exists. MustChangePassword is not persisted; callers refresh it
// from the account record.
func LoadSession(path string) (*Session, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to read session: %w", err)
	}

	var p persistedSession
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("account: corrupt session file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(p.Key)
	if err != nil {
		return nil, fmt.Errorf("account: corrupt session file: %w", err)
	}
	if p.Email == "" || len(key) != crypto.KeyLength {
		return nil, fmt.Errorf("account: corrupt session file: bad email or key")
	}
	return &Session{Email: p.Email, Key: key}, nil
}

// ClearSession removes the persisted session. Clearing an absent
// session is not an error.
func ClearSession(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("account: failed to clear session: %w", err)
	}
	return nil
}
