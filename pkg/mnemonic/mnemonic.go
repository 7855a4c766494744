// Package mnemonic generates and verifies recovery phrases.
//
// A phrase is an ordered sequence of words drawn from a fixed wordlist
// with crypto/rand. Recovery never reveals the whole phrase: a challenge
// selects a small random subset of positions and the caller must supply
// exactly the words at those positions.
//
// Generation refuses to degrade: if the strong random source fails, the
// error propagates and no phrase is produced.
package mnemonic

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// PhraseWords is the number of words in a generated phrase.
	PhraseWords = 12

	// ChallengeWords is the number of positions a recovery challenge asks for.
	ChallengeWords = 3
)

// Sentinel errors.
var (
	// ErrPhraseTooShort indicates a stored phrase has fewer words than a
	// challenge needs.
	ErrPhraseTooShort = errors.New("mnemonic: phrase too short for challenge")

	// ErrAnswerCount indicates the number of supplied words does not match
	// the number of challenged positions.
	ErrAnswerCount = errors.New("mnemonic: answer count does not match challenge")
)

// Generate returns a fresh PhraseWords-word recovery phrase.
func Generate() ([]string, error) {
	return GenerateN(PhraseWords)
}

// GenerateN returns a fresh phrase of n words drawn uniformly from the
// wordlist. Words may repeat; positions carry the entropy.
func GenerateN(n int) ([]string, error) {
	if n <= 0 {
		return nil, errors.New("mnemonic: word count must be positive")
	}

	max := big.NewInt(int64(len(wordlist)))
	phrase := make([]string, n)
	for i := range phrase {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("mnemonic: random source unavailable: %w", err)
		}
		phrase[i] = wordlist[idx.Int64()]
	}
	return phrase, nil
}

// Challenge holds the zero-based word positions a caller must answer.
type Challenge struct {
	Positions []int
}

// NewChallenge selects ChallengeWords distinct random positions within a
// phrase of phraseLen words.
func NewChallenge(phraseLen int) (Challenge, error) {
	return newChallenge(phraseLen, ChallengeWords)
}

func newChallenge(phraseLen, count int) (Challenge, error) {
	if phraseLen < count {
		return Challenge{}, ErrPhraseTooShort
	}

	// Partial Fisher-Yates over the position space.
	positions := make([]int, phraseLen)
	for i := range positions {
		positions[i] = i
	}
	for i := 0; i < count; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(phraseLen-i)))
		if err != nil {
			return Challenge{}, fmt.Errorf("mnemonic: random source unavailable: %w", err)
		}
		k := i + int(j.Int64())
		positions[i], positions[k] = positions[k], positions[i]
	}
	return Challenge{Positions: positions[:count]}, nil
}

// Verify reports whether answers match the phrase at every challenged
// position. Comparison is case-insensitive and ignores surrounding
// whitespace. A single mismatch fails the whole challenge.
func (c Challenge) Verify(phrase, answers []string) (bool, error) {
	if len(answers) != len(c.Positions) {
		return false, ErrAnswerCount
	}
	for i, pos := range c.Positions {
		if pos < 0 || pos >= len(phrase) {
			return false, ErrPhraseTooShort
		}
		if !wordsEqual(phrase[pos], answers[i]) {
			return false, nil
		}
	}
	return true, nil
}

func wordsEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
