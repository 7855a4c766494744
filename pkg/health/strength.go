package health

import "unicode"

// Level is a password strength rating. Length dominates the rating;
// character variety only nudges it, never rescues a short password.
type Level string

const (
	LevelWeak   Level = "weak"
	LevelFair   Level = "fair"
	LevelGood   Level = "good"
	LevelStrong Level = "strong"
)

// MinPasswordLength is the floor enforced at registration and password
// change.
const MinPasswordLength = 8

// MeetsRequirement reports whether a password clears the minimum
// accepted for an account master password.
func MeetsRequirement(password string) bool {
	return len([]rune(password)) >= MinPasswordLength
}

// Evaluate rates a stored password and returns concrete suggestions for
// improving it. The rating is length-first: below the minimum is always
// weak, and long passphrases rate strong even without symbol soup.
func Evaluate(password string) (Level, []string) {
	runes := []rune(password)
	length := len(runes)

	var suggestions []string

	var level Level
	switch {
	case length < MinPasswordLength:
		level = LevelWeak
	case length < 12:
		level = LevelFair
	case length < 16:
		level = LevelGood
	default:
		level = LevelStrong
	}

	if length < 16 {
		suggestions = append(suggestions, "use a longer passphrase, 16 characters or more")
	}

	classes := countClasses(runes)
	if classes < 2 && level != LevelWeak && length < 20 {
		level = downgrade(level)
		suggestions = append(suggestions, "mix in another character class")
	}

	if level == LevelWeak {
		suggestions = append(suggestions, "replace this password as soon as possible")
	}
	return level, suggestions
}

func countClasses(runes []rune) int {
	var lower, upper, digit, other bool
	for _, r := range runes {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	n := 0
	for _, has := range []bool{lower, upper, digit, other} {
		if has {
			n++
		}
	}
	return n
}

func downgrade(l Level) Level {
	switch l {
	case LevelStrong:
		return LevelGood
	case LevelGood:
		return LevelFair
	default:
		return LevelWeak
	}
}
