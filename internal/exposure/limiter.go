// Package exposure caps how much a single participant can have locked in
// unresolved challenges at once.
//
// A stake stays locked from the moment a commitment lands until its
// challenge leaves OPEN. The limiter sums those open stakes and rejects a new
// commitment that would push the participant past either cap.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrStakeLimitExceeded is returned when a commitment would push the
	// participant's open stake beyond MaxOpenStake.
	ErrStakeLimitExceeded = errors.New("exposure: open stake limit exceeded")

	// ErrCountLimitExceeded is returned when a commitment would push the
	// participant's number of open commitments beyond MaxOpenCommitments.
	ErrCountLimitExceeded = errors.New("exposure: open commitment limit exceeded")
)

// Limiter enforces per-participant exposure limits. A zero limit disables
// that check.
type Limiter struct {
	// MaxOpenStake is the maximum sum of stakes locked in OPEN challenges.
	MaxOpenStake decimal.Decimal

	// MaxOpenCommitments is the maximum number of OPEN challenges a
	// participant may hold commitments on.
	MaxOpenCommitments int
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxOpenStake decimal.Decimal, maxOpenCommitments int) *Limiter {
	if maxOpenStake.IsNegative() {
		maxOpenStake = decimal.Zero
	}
	if maxOpenCommitments < 0 {
		maxOpenCommitments = 0
	}
	return &Limiter{
		MaxOpenStake:       maxOpenStake,
		MaxOpenCommitments: maxOpenCommitments,
	}
}

// Enabled reports whether any cap is set.
func (l *Limiter) Enabled() bool {
	return l != nil && (l.MaxOpenStake.IsPositive() || l.MaxOpenCommitments > 0)
}

// CheckLimit validates a new commitment of stake against the participant's
// current open stakes (one entry per open commitment).
//
// Returns nil if the commitment is within limits.
func (l *Limiter) CheckLimit(stake decimal.Decimal, openStakes []decimal.Decimal) error {
	if !l.Enabled() {
		return nil
	}

	// 1. Count limit.
	if l.MaxOpenCommitments > 0 && len(openStakes)+1 > l.MaxOpenCommitments {
		return ErrCountLimitExceeded
	}

	// 2. Aggregate stake.
	if l.MaxOpenStake.IsPositive() {
		total := stake
		for _, s := range openStakes {
			total = total.Add(s)
		}
		if total.GreaterThan(l.MaxOpenStake) {
			return ErrStakeLimitExceeded
		}
	}

	return nil
}
