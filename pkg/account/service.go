// Package account implements the local account lifecycle: registration,
// login, password change, mnemonic recovery, and deletion. Every key
// rotation re-encrypts the account's credentials in one atomic store
// swap, so no record is ever left under a stale key.
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"keyfold/pkg/crypto"
	"keyfold/pkg/health"
	"keyfold/pkg/mnemonic"
	"keyfold/pkg/store"
)

// Sentinel errors.
var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("account: email already registered")

	// ErrInvalidCredentials indicates a failed email/password check. The
	// same error covers unknown accounts so callers cannot probe for
	// registered emails.
	ErrInvalidCredentials = errors.New("account: invalid email or password")

	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = errors.New("account: password does not meet the minimum length")

	// ErrInvalidEmail indicates an email that cannot serve as an account key.
	ErrInvalidEmail = errors.New("account: invalid email address")

	// ErrRecoveryMismatch indicates a failed mnemonic challenge.
	ErrRecoveryMismatch = errors.New("account: recovery answers do not match")
)

// Service drives the account lifecycle against one store.
type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// Register creates a new account and returns an unlocked session along
// with the recovery phrase. The phrase is shown exactly once; afterwards
// it is only reachable through RevealMnemonic. New accounts carry the
// must-change-password flag until the first password change.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*Session, []string, error) {
	email = store.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, ErrInvalidEmail
	}
	if !health.MeetsRequirement(password) {
		return nil, nil, ErrWeakPassword
	}

	if _, err := s.store.Users().Get(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("account: register: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, nil, fmt.Errorf("account: register: %w", err)
	}
	key := crypto.DeriveKey([]byte(password), salt)

	phrase, err := mnemonic.Generate()
	if err != nil {
		crypto.SecureWipe(key)
		return nil, nil, fmt.Errorf("account: register: %w", err)
	}

	now := store.Clock()
	acct := &store.Account{
		Email:              email,
		Salt:               salt,
		Verifier:           crypto.Verifier(key),
		DisplayName:        displayName,
		Mnemonic:           phrase,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Users().Put(ctx, acct); err != nil {
		crypto.SecureWipe(key)
		return nil, nil, fmt.Errorf("account: register: %w", err)
	}

	s.log.Info("account registered", zap.String("email", email))
	return &Session{Email: email, Key: key, MustChangePassword: true}, phrase, nil
}

// Login verifies the password against the stored verifier and returns an
// unlocked session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	acct, err := s.getAccount(ctx, email)
	if err != nil {
		return nil, err
	}

	key, err := s.verifyPassword(acct, password)
	if err != nil {
		s.log.Warn("failed login attempt", zap.String("email", acct.Email))
		return nil, err
	}

	s.log.Info("login", zap.String("email", acct.Email))
	return &Session{
		Email:              acct.Email,
		Key:                key,
		MustChangePassword: acct.MustChangePassword,
	}, nil
}

// ChangePassword verifies the current password, re-encrypts every
// credential under a key derived from the new one, and refreshes the
// session in place. If any credential fails to decrypt the whole
// operation aborts before writing anything.
func (s *Service) ChangePassword(ctx context.Context, sess *Session, oldPassword, newPassword string) error {
	acct, err := s.getAccount(ctx, sess.Email)
	if err != nil {
		return err
	}

	oldKey, err := s.verifyPassword(acct, oldPassword)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(oldKey)

	newKey, err := s.rotate(ctx, acct, oldKey, newPassword)
	if err != nil {
		return err
	}

	crypto.SecureWipe(sess.Key)
	sess.Key = newKey
	sess.MustChangePassword = false
	return nil
}

// NewRecoveryChallenge starts a mnemonic recovery for the given email.
func (s *Service) NewRecoveryChallenge(ctx context.Context, email string) (mnemonic.Challenge, error) {
	acct, err := s.getAccount(ctx, email)
	if err != nil {
		return mnemonic.Challenge{}, err
	}
	ch, err := mnemonic.NewChallenge(len(acct.Mnemonic))
	if err != nil {
		return mnemonic.Challenge{}, fmt.Errorf("account: recovery: %w", err)
	}
	return ch, nil
}

// Recover resets a forgotten password after a successful mnemonic
// challenge. Every challenged position must match; a single wrong word
// fails the whole challenge.
//
// The stored credentials are encrypted under the old key, which cannot
// be derived without the old password. oldKey therefore comes from a
// surviving persisted session when one exists; without it, recovery
// still succeeds for an empty vault but fails closed the moment a
// credential cannot be decrypted.
func (s *Service) Recover(ctx context.Context, email string, oldKey []byte, ch mnemonic.Challenge, answers []string, newPassword string) (*Session, error) {
	acct, err := s.getAccount(ctx, email)
	if err != nil {
		return nil, err
	}

	ok, err := ch.Verify(acct.Mnemonic, answers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryMismatch, err)
	}
	if !ok {
		s.log.Warn("failed recovery attempt", zap.String("email", acct.Email))
		return nil, ErrRecoveryMismatch
	}

	newKey, err := s.rotate(ctx, acct, oldKey, newPassword)
	if err != nil {
		return nil, err
	}

	s.log.Info("account recovered", zap.String("email", acct.Email))
	return &Session{Email: acct.Email, Key: newKey}, nil
}

// Delete removes the account and every record it owns after verifying
// the password. It returns the attachment references of the deleted
// documents so the caller can clean up the blob vault.
func (s *Service) Delete(ctx context.Context, sess *Session, password string) ([]store.FileRef, error) {
	acct, err := s.getAccount(ctx, sess.Email)
	if err != nil {
		return nil, err
	}
	key, err := s.verifyPassword(acct, password)
	if err != nil {
		return nil, err
	}
	crypto.SecureWipe(key)

	docs, err := s.store.Documents().ListByOwner(ctx, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("account: delete: %w", err)
	}
	var blobs []store.FileRef
	for i := range docs {
		if docs[i].File != nil {
			blobs = append(blobs, *docs[i].File)
		}
	}

	if err := s.store.DeleteOwner(ctx, acct.Email); err != nil {
		return nil, fmt.Errorf("account: delete: %w", err)
	}

	sess.Wipe()
	s.log.Info("account deleted", zap.String("email", acct.Email))
	return blobs, nil
}

// RevealMnemonic returns the stored recovery phrase after verifying the
// password.
func (s *Service) RevealMnemonic(ctx context.Context, sess *Session, password string) ([]string, error) {
	acct, err := s.getAccount(ctx, sess.Email)
	if err != nil {
		return nil, err
	}
	key, err := s.verifyPassword(acct, password)
	if err != nil {
		return nil, err
	}
	crypto.SecureWipe(key)
	return acct.Mnemonic, nil
}

func (s *Service) getAccount(ctx context.Context, email string) (*store.Account, error) {
	acct, err := s.store.Users().Get(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return acct, nil
}

// verifyPassword derives the key for the stored salt and checks it
// against the verifier in constant time. On success the caller owns the
// returned key.
func (s *Service) verifyPassword(acct *store.Account, password string) ([]byte, error) {
	key := crypto.DeriveKey([]byte(password), acct.Salt)
	if subtle.ConstantTimeCompare(crypto.Verifier(key), acct.Verifier) != 1 {
		crypto.SecureWipe(key)
		return nil, ErrInvalidCredentials
	}
	return key, nil
}

// rotate performs the bulk re-encryption behind password change and
// recovery: decrypt everything under the old key, re-encrypt under a
// fresh salt and key, and persist account plus credentials in a single
// store transaction. Nothing is written until every decryption has
// succeeded.
func (s *Service) rotate(ctx context.Context, acct *store.Account, oldKey []byte, newPassword string) ([]byte, error) {
	if !health.MeetsRequirement(newPassword) {
		return nil, ErrWeakPassword
	}

	creds, err := s.store.Credentials().ListByOwner(ctx, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("account: rotate: %w", err)
	}

	plaintexts := make([]string, len(creds))
	for i := range creds {
		plaintexts[i], err = crypto.DecryptString(oldKey, creds[i].Secret)
		if err != nil {
			return nil, fmt.Errorf("account: rotate aborted, credential %s cannot be decrypted: %w", creds[i].ID, err)
		}
	}

	newSalt, err := crypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("account: rotate: %w", err)
	}
	newKey := crypto.DeriveKey([]byte(newPassword), newSalt)

	now := store.Clock()
	for i := range creds {
		creds[i].Secret, err = crypto.EncryptString(newKey, plaintexts[i])
		if err != nil {
			crypto.SecureWipe(newKey)
			return nil, fmt.Errorf("account: rotate: %w", err)
		}
		creds[i].UpdatedAt = now
	}

	acct.Salt = newSalt
	acct.Verifier = crypto.Verifier(newKey)
	acct.MustChangePassword = false
	acct.UpdatedAt = now

	if err := s.store.Rotate(ctx, acct, creds); err != nil {
		crypto.SecureWipe(newKey)
		return nil, fmt.Errorf("account: rotate: %w", err)
	}

	s.log.Info("key rotated",
		zap.String("email", acct.Email),
		zap.Int("credentials", len(creds)))
	return newKey, nil
}
