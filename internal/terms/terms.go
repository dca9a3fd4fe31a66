// Package terms parses and validates the user-supplied terms of a challenge:
// its description, the fixed per-participant stake, and its duration.
package terms

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxDescriptionLen caps description length in runes.
const MaxDescriptionLen = 280

// StakeScale is the number of decimal places a stake may carry (cents).
const StakeScale int32 = 2

// MaxStake is the largest per-participant stake a challenge may ask for.
var MaxStake = decimal.NewFromInt(1_000_000)

var (
	ErrInvalidDescription = errors.New("terms: invalid description")
	ErrInvalidStake       = errors.New("terms: invalid stake")
	ErrInvalidDuration    = errors.New("terms: invalid duration")
)

// durationRegex matches the day shorthand the create screen uses: "7d".
// Anything else falls through to time.ParseDuration ("36h", "90m").
var durationRegex = regexp.MustCompile(`^(\d+)d$`)

// Terms is a validated set of challenge parameters.
type Terms struct {
	Description string          `json:"description"`
	Stake       decimal.Decimal `json:"stake"`
	Duration    time.Duration   `json:"duration"`
}

// New validates raw parameters and returns normalized Terms.
func New(description string, stake decimal.Decimal, duration time.Duration) (*Terms, error) {
	desc, err := CheckDescription(description)
	if err != nil {
		return nil, err
	}
	if err := CheckStake(stake); err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %s", ErrInvalidDuration, duration)
	}
	return &Terms{Description: desc, Stake: stake, Duration: duration}, nil
}

// CheckDescription trims surrounding space and rejects empty or oversized text.
func CheckDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: must not be empty", ErrInvalidDescription)
	}
	if n := utf8.RuneCountInString(s); n > MaxDescriptionLen {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidDescription, n, MaxDescriptionLen)
	}
	return s, nil
}

// CheckStake requires a positive amount expressed in whole cents, no larger
// than MaxStake.
func CheckStake(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidStake, stake)
	}
	if stake.GreaterThan(MaxStake) {
		return fmt.Errorf("%w: %s exceeds the maximum of %s", ErrInvalidStake, stake, MaxStake)
	}
	if !stake.Equal(stake.Truncate(StakeScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidStake, stake, StakeScale)
	}
	return nil
}

// ParseStake parses a decimal string such as "20" or "12.50".
func ParseStake(s string) (decimal.Decimal, error) {
	stake, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidStake, s)
	}
	if err := CheckStake(stake); err != nil {
		return decimal.Zero, err
	}
	return stake, nil
}

// ParseDuration accepts whole days ("7d") or any time.ParseDuration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration

	if m := durationRegex.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q (expected e.g. 7d or 36h)", ErrInvalidDuration, s)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %q", ErrInvalidDuration, s)
	}
	return d, nil
}
