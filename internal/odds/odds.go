// Package odds derives display figures from a challenge's pools: the implied
// probability that the claim holds and the payout a committer can expect.
//
// The ledger is parimutuel: winners split the whole pool evenly, so every
// figure here follows from the stake and the side counts alone.
package odds

import (
	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/model"
)

// Scale is the number of decimal places for ratios.
var Scale int32 = 4

var half = decimal.NewFromFloat(0.5)

// Quote summarizes the economics of committing to one side right now.
type Quote struct {
	ChallengeID string          `json:"challenge_id"`
	Side        model.Side      `json:"side"`
	Stake       decimal.Decimal `json:"stake"`
	ImpliedYes  decimal.Decimal `json:"implied_yes"` // share of committers backing YES
	ImpliedNo   decimal.Decimal `json:"implied_no"`
	// Payout to each existing committer on this side if it wins now.
	CurrentShare decimal.Decimal `json:"current_share"`
	// Payout if this side wins after one more commitment lands on it.
	ExpectedPayout decimal.Decimal `json:"expected_payout"`
	Multiplier     decimal.Decimal `json:"multiplier"` // ExpectedPayout / Stake
}

// ImpliedYes returns yesCount / (yesCount + noCount), or 0.5 with no
// commitments.
func ImpliedYes(yesCount, noCount int) decimal.Decimal {
	total := yesCount + noCount
	if total == 0 {
		return half
	}
	return decimal.NewFromInt(int64(yesCount)).
		Div(decimal.NewFromInt(int64(total))).
		Round(Scale)
}

// CurrentShare is what each committer on side receives if side wins with
// the pools as they stand. Zero when nobody holds that side.
func CurrentShare(c *model.Challenge, side model.Side) decimal.Decimal {
	n := c.Count(side)
	if n == 0 {
		return decimal.Zero
	}
	return c.TotalPool().Div(decimal.NewFromInt(int64(n))).Round(2)
}

// ExpectedPayout is what a new committer on side would receive if side wins:
// (total + stake) / (count(side) + 1).
func ExpectedPayout(c *model.Challenge, side model.Side) decimal.Decimal {
	pool := c.TotalPool().Add(c.Stake)
	n := decimal.NewFromInt(int64(c.Count(side) + 1))
	return pool.Div(n).Round(2)
}

// NewQuote assembles a Quote for side.
func NewQuote(c *model.Challenge, side model.Side) Quote {
	yes := ImpliedYes(c.YesCount, c.NoCount)
	payout := ExpectedPayout(c, side)

	multiplier := decimal.Zero
	if c.Stake.IsPositive() {
		multiplier = payout.Div(c.Stake).Round(Scale)
	}

	return Quote{
		ChallengeID:    c.ID,
		Side:           side,
		Stake:          c.Stake,
		ImpliedYes:     yes,
		ImpliedNo:      decimal.NewFromInt(1).Sub(yes),
		CurrentShare:   CurrentShare(c, side),
		ExpectedPayout: payout,
		Multiplier:     multiplier,
	}
}
