package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/metrics"
	"github.com/bealive/commitment-ledger/internal/model"
	"github.com/bealive/commitment-ledger/internal/store"
)

// centScale is the precision payouts are paid at.
const centScale int32 = 2

// Resolve settles an expired OPEN challenge with the externally determined
// outcome. The pool snapshot and the status flip happen under the challenge
// lock, so no commitment can land between them.
func (l *Ledger) Resolve(ctx context.Context, challengeID string, outcome bool) (*model.SettlementRecord, error) {
	const op = "resolve"

	var (
		rec      *model.SettlementRecord
		resolved *model.Challenge
	)
	err := l.withChallenge(ctx, op, challengeID, func() error {
		c, err := l.primary.GetChallenge(ctx, challengeID)
		if err != nil {
			return fromStore(op, err)
		}
		if c.Status != model.StatusOpen {
			return newErr(KindInvalidState, op, "challenge %s is %s", challengeID, c.Status)
		}
		now := l.now()
		if !c.Expired(now) {
			return newErr(KindTooEarly, op, "challenge %s runs until %s", challengeID, c.ExpiresAt.Format(time.RFC3339))
		}

		commitments, err := l.primary.GetCommitments(ctx, challengeID)
		if err != nil {
			return fromStore(op, err)
		}

		rec = Settle(c, commitments, outcome, now)
		status := model.StatusResolvedFalse
		if outcome {
			status = model.StatusResolvedTrue
		}

		if err := l.store.SaveSettlement(ctx, rec, status); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return &Error{Kind: KindInvalidState, Op: op, Msg: "challenge " + challengeID + " is already settled", Err: err}
			}
			if errors.Is(err, store.ErrStale) {
				return &Error{Kind: KindInvalidState, Op: op, Msg: "commitments changed while resolving challenge " + challengeID + ", retry", Err: err}
			}
			return fromStore(op, err)
		}

		c.Status = status
		c.ResolvedAt = &now
		resolved = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	label := strconv.FormatBool(outcome)
	if rec.Refunded {
		label = "refund"
	}
	metrics.Settlements.WithLabelValues(label).Inc()
	metrics.OpenChallenges.Dec()
	slog.Info("challenge resolved",
		"id", challengeID,
		"outcome", outcome,
		"total_pool", rec.TotalPool.String(),
		"winners", rec.WinningCount,
		"refunded", rec.Refunded,
	)

	l.publish(Event{Type: EventChallengeResolved, ChallengeID: challengeID, Challenge: resolved, Settlement: rec})
	return rec, nil
}

// GetSettlement returns the settlement record of a resolved challenge.
func (l *Ledger) GetSettlement(ctx context.Context, challengeID string) (*model.SettlementRecord, error) {
	rec, err := l.store.GetSettlement(ctx, challengeID)
	if err != nil {
		return nil, fromStore("get settlement", err)
	}
	return rec, nil
}

// Settle computes the payout distribution for a challenge given its
// commitments and outcome. It has no side effects.
//
// Winners split the whole pool evenly; losers get zero. Shares are paid in
// cents: each winner gets the truncated share and the leftover cents go one
// each to the earliest winners, so payouts always sum to the pool exactly.
// With no winners every committer gets their own stake back. With no
// commitments at all the record is empty.
func Settle(c *model.Challenge, commitments []model.Commitment, outcome bool, at time.Time) *model.SettlementRecord {
	winning := model.SideNo
	if outcome {
		winning = model.SideYes
	}

	total := decimal.Zero
	winners := 0
	for _, cm := range commitments {
		total = total.Add(cm.Amount)
		if cm.Side == winning {
			winners++
		}
	}

	rec := &model.SettlementRecord{
		ChallengeID:  c.ID,
		Outcome:      outcome,
		TotalPool:    total,
		WinningCount: winners,
		Payouts:      make([]model.Payout, 0, len(commitments)),
		CreatedAt:    at,
	}

	if winners == 0 {
		rec.Refunded = len(commitments) > 0
		rec.Payouts = append(rec.Payouts, refundAll(commitments)...)
		return rec
	}

	shares := splitEven(total, winners)
	next := 0
	for _, cm := range commitments {
		amount := decimal.Zero
		if cm.Side == winning {
			amount = shares[next]
			next++
		}
		rec.Payouts = append(rec.Payouts, model.Payout{
			ParticipantID: cm.ParticipantID,
			Side:          cm.Side,
			Amount:        amount,
		})
	}
	return rec
}

// splitEven divides total into n cent-exact shares that sum to total. The
// first total%n cents carry one extra cent each. The division runs in
// decimal so pools of any size split exactly.
func splitEven(total decimal.Decimal, n int) []decimal.Decimal {
	base, rem := total.Shift(centScale).QuoRem(decimal.NewFromInt(int64(n)), 0)
	extra := rem.IntPart() // 0 <= extra < n
	share := base.Shift(-centScale)
	cent := decimal.New(1, -centScale)

	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = share
		if int64(i) < extra {
			shares[i] = share.Add(cent)
		}
	}
	return shares
}

// refundAll returns each committer's own stake.
func refundAll(commitments []model.Commitment) []model.Payout {
	refunds := make([]model.Payout, 0, len(commitments))
	for _, cm := range commitments {
		refunds = append(refunds, model.Payout{
			ParticipantID: cm.ParticipantID,
			Side:          cm.Side,
			Amount:        cm.Amount,
		})
	}
	return refunds
}
