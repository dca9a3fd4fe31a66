package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/exposure"
	"github.com/bealive/commitment-ledger/internal/metrics"
	"github.com/bealive/commitment-ledger/internal/model"
	"github.com/bealive/commitment-ledger/internal/odds"
)

// Commit records participant's side on a challenge and adds the fixed stake
// to that side's pool. A participant gets exactly one commitment per
// challenge; it can never be changed.
func (l *Ledger) Commit(ctx context.Context, challengeID, participant string, side model.Side) (*model.Commitment, error) {
	const op = "commit"

	if participant == "" {
		return nil, newErr(KindInvalidInput, op, "participant is required")
	}
	if !side.Valid() {
		return nil, newErr(KindInvalidInput, op, "side must be YES or NO, got %q", side)
	}

	var (
		cm      *model.Commitment
		updated *model.Challenge
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
		if c.Expired(now) {
			return newErr(KindExpiredChallenge, op, "challenge %s expired at %s", challengeID, c.ExpiresAt.Format("2006-01-02 15:04:05Z07:00"))
		}
		if l.forbidSelfCommit && participant == c.CreatorID {
			return newErr(KindForbidden, op, "creators cannot commit to their own challenge")
		}

		existing, err := l.primary.GetCommitments(ctx, challengeID)
		if err != nil {
			return fromStore(op, err)
		}
		for _, e := range existing {
			if e.ParticipantID == participant {
				return &Error{Kind: KindDuplicateCommitment, Op: op, Msg: duplicateMsg}
			}
		}

		cm = &model.Commitment{
			ID:            l.newID(),
			ChallengeID:   challengeID,
			ParticipantID: participant,
			Side:          side,
			Amount:        c.Stake,
			CreatedAt:     now,
		}
		insert := func() error {
			updated, err = l.store.InsertCommitment(ctx, cm)
			if err != nil {
				return fromStore(op, err)
			}
			return nil
		}
		if !l.limiter.Enabled() {
			return insert()
		}
		// Exposure spans challenges, so the check and the insert also hold
		// the participant's lock.
		return l.withParticipant(ctx, op, participant, func() error {
			if err := l.checkExposure(ctx, participant, challengeID, c.Stake); err != nil {
				return err
			}
			return insert()
		})
	})
	if err != nil {
		if kind := KindOf(err); kind != "" {
			metrics.CommitRejections.WithLabelValues(string(kind)).Inc()
		}
		return nil, err
	}

	metrics.CommitmentsTotal.WithLabelValues(string(side)).Inc()
	metrics.PoolVolume.WithLabelValues(string(side)).Add(cm.Amount.InexactFloat64())
	slog.Info("commitment recorded",
		"id", cm.ID,
		"challenge", challengeID,
		"participant", participant,
		"side", side,
		"amount", cm.Amount.String(),
		"yes_count", updated.YesCount,
		"no_count", updated.NoCount,
		"total_pool", updated.TotalPool().String(),
	)

	l.publish(Event{Type: EventCommitmentAdded, ChallengeID: challengeID, Challenge: updated, Commitment: cm})
	return cm, nil
}

// checkExposure sums the stakes the participant has locked in other OPEN
// challenges and applies the limiter.
func (l *Ledger) checkExposure(ctx context.Context, participant, challengeID string, stake decimal.Decimal) error {
	const op = "commit"

	mine, err := l.primary.GetParticipantCommitments(ctx, participant)
	if err != nil {
		return fromStore(op, err)
	}

	var open []decimal.Decimal
	for _, cm := range mine {
		if cm.ChallengeID == challengeID {
			continue
		}
		c, err := l.primary.GetChallenge(ctx, cm.ChallengeID)
		if err != nil {
			return fromStore(op, err)
		}
		if c.Status == model.StatusOpen {
			open = append(open, cm.Amount)
		}
	}

	if err := l.limiter.CheckLimit(stake, open); err != nil {
		msg := "open stake limit reached"
		if errors.Is(err, exposure.ErrCountLimitExceeded) {
			msg = "too many open commitments"
		}
		return &Error{Kind: KindExposureLimit, Op: op, Msg: msg, Err: err}
	}
	return nil
}

// ListCommitments returns the commitments on a challenge in creation order.
func (l *Ledger) ListCommitments(ctx context.Context, challengeID string) ([]model.Commitment, error) {
	if _, err := l.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	commitments, err := l.store.GetCommitments(ctx, challengeID)
	if err != nil {
		return nil, fromStore("list commitments", err)
	}
	if commitments == nil {
		commitments = []model.Commitment{}
	}
	return commitments, nil
}

// ListParticipantCommitments returns every commitment a participant holds.
func (l *Ledger) ListParticipantCommitments(ctx context.Context, participant string) ([]model.Commitment, error) {
	if participant == "" {
		return nil, newErr(KindInvalidInput, "list participant commitments", "participant is required")
	}
	commitments, err := l.store.GetParticipantCommitments(ctx, participant)
	if err != nil {
		return nil, fromStore("list participant commitments", err)
	}
	if commitments == nil {
		commitments = []model.Commitment{}
	}
	return commitments, nil
}

// Position is a participant's commitment together with what it pays. For an
// OPEN challenge Payout is the current share if the side wins; once the
// challenge is settled or cancelled it is the amount actually paid back.
type Position struct {
	model.Commitment
	Status  model.Status    `json:"status"`
	Payout  decimal.Decimal `json:"expected_payout"`
	Settled bool            `json:"settled"`
}

// ListPositions returns every commitment a participant holds with its
// expected or settled payout.
func (l *Ledger) ListPositions(ctx context.Context, participant string) ([]Position, error) {
	const op = "list positions"

	commitments, err := l.ListParticipantCommitments(ctx, participant)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(commitments))
	for _, cm := range commitments {
		c, err := l.store.GetChallenge(ctx, cm.ChallengeID)
		if err != nil {
			return nil, fromStore(op, err)
		}
		p := Position{Commitment: cm, Status: c.Status}
		switch c.Status {
		case model.StatusOpen:
			p.Payout = odds.CurrentShare(c, cm.Side)
		case model.StatusCancelled:
			p.Payout = cm.Amount
			p.Settled = true
		default:
			rec, err := l.store.GetSettlement(ctx, cm.ChallengeID)
			if err != nil {
				return nil, fromStore(op, err)
			}
			p.Payout = rec.PayoutFor(participant)
			p.Settled = true
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// Quote reports implied odds and the payout a new committer on side would
// receive if that side wins.
func (l *Ledger) Quote(ctx context.Context, challengeID string, side model.Side) (*odds.Quote, error) {
	if !side.Valid() {
		return nil, newErr(KindInvalidInput, "quote", "side must be YES or NO, got %q", side)
	}
	c, err := l.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	q := odds.NewQuote(c, side)
	return &q, nil
}
