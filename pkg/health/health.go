// Package health analyzes decrypted vault credentials for weak, reused,
// and stale passwords. Analysis happens entirely in memory against the
// unlocked session key; nothing derived from plaintext is ever
// persisted.
package health

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keyfold/pkg/crypto"
	"keyfold/pkg/store"
)

// StaleAfter is how long a password may go unchanged before it is
// flagged stale.
const StaleAfter = 180 * 24 * time.Hour

// Entry is the health verdict for one credential. The plaintext itself
// never appears here.
type Entry struct {
	ID       string
	Title    string
	Username string
	Level    Level

	// MeetsRequirement reports the minimum-length check on its own. It
	// is not implied by Level: a short single-class password can be
	// downgraded to weak while still clearing the length floor.
	MeetsRequirement bool

	Reused      bool
	Stale       bool
	AgeDays     int
	Suggestions []string
}

// Report aggregates the vault-wide verdicts.
type Report struct {
	Total       int
	Weak        int
	Reused      int
	Stale       int
	Healthy     int
	Skipped     int
	Entries     []Entry
	GeneratedAt time.Time
}

// Analyzer runs health reports over an unlocked credential set.
type Analyzer struct {
	log *zap.Logger
}

func NewAnalyzer(log *zap.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// Analyze decrypts every credential with the session key and rates it.
// A credential that fails to decrypt is logged and counted as skipped
// rather than failing the whole report. Reuse detection compares HMAC
// digests under a random per-report key, so equal plaintexts are
// detected without holding them all at once.
func (a *Analyzer) Analyze(key []byte, creds []store.Credential, now time.Time) (*Report, error) {
	macKey := make([]byte, 32)
	if _, err := rand.Read(macKey); err != nil {
		return nil, fmt.Errorf("health: failed to generate digest key: %w", err)
	}
	defer crypto.SecureWipe(macKey)

	report := &Report{GeneratedAt: now}
	digests := make(map[string][]int) // digest -> entry indexes

	for i := range creds {
		c := &creds[i]
		plaintext, err := crypto.DecryptString(key, c.Secret)
		if err != nil {
			a.log.Warn("skipping undecryptable credential",
				zap.String("id", c.ID), zap.Error(err))
			report.Skipped++
			continue
		}

		level, suggestions := Evaluate(plaintext)
		age := now.Sub(c.UpdatedAt)

		entry := Entry{
			ID:               c.ID,
			Title:            c.Title,
			Username:         c.Username,
			Level:            level,
			MeetsRequirement: MeetsRequirement(plaintext),
			Stale:            age > StaleAfter,
			AgeDays:          int(age.Hours() / 24),
			Suggestions:      suggestions,
		}

		mac := hmac.New(sha256.New, macKey)
		mac.Write([]byte(plaintext))
		digest := hex.EncodeToString(mac.Sum(nil))

		report.Entries = append(report.Entries, entry)
		digests[digest] = append(digests[digest], len(report.Entries)-1)
	}

	for _, indexes := range digests {
		if len(indexes) < 2 {
			continue
		}
		for _, idx := range indexes {
			report.Entries[idx].Reused = true
		}
	}

	report.Total = len(report.Entries)
	for i := range report.Entries {
		e := &report.Entries[i]
		if e.Stale && !contains(e.Suggestions, staleSuggestion) {
			e.Suggestions = append(e.Suggestions, staleSuggestion)
		}
		if e.Reused && !contains(e.Suggestions, reuseSuggestion) {
			e.Suggestions = append(e.Suggestions, reuseSuggestion)
		}
		if e.Level == LevelWeak {
			report.Weak++
		}
		if e.Reused {
			report.Reused++
		}
		if e.Stale {
			report.Stale++
		}
		if e.Level != LevelWeak && !e.Reused && !e.Stale {
			report.Healthy++
		}
	}
	return report, nil
}

const (
	staleSuggestion = "rotate this password, it has not changed in over 6 months"
	reuseSuggestion = "use a unique password for every account"
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
