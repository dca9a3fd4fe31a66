package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/metrics"
	"github.com/bealive/commitment-ledger/internal/model"
	"github.com/bealive/commitment-ledger/internal/terms"
)

// NewChallenge holds the parameters for CreateChallenge.
type NewChallenge struct {
	CreatorID   string
	Description string
	Stake       decimal.Decimal
	Duration    time.Duration // expiry = now + Duration
	SnapshotURL string
}

// CreateChallenge validates the terms and stores an OPEN challenge with
// empty pools.
func (l *Ledger) CreateChallenge(ctx context.Context, req NewChallenge) (*model.Challenge, error) {
	const op = "create challenge"

	if req.CreatorID == "" {
		return nil, newErr(KindInvalidInput, op, "creator is required")
	}
	t, err := terms.New(req.Description, req.Stake, req.Duration)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Msg: err.Error(), Err: err}
	}

	now := l.now()
	c := &model.Challenge{
		ID:          l.newID(),
		CreatorID:   req.CreatorID,
		Description: t.Description,
		SnapshotURL: req.SnapshotURL,
		Stake:       t.Stake,
		ExpiresAt:   now.Add(t.Duration),
		Status:      model.StatusOpen,
		YesPool:     decimal.Zero,
		NoPool:      decimal.Zero,
		CreatedAt:   now,
	}

	if err := l.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", op, err)
	}

	metrics.ChallengesCreated.Inc()
	metrics.OpenChallenges.Inc()
	slog.Info("challenge created",
		"id", c.ID,
		"creator", c.CreatorID,
		"stake", c.Stake.String(),
		"expires_at", c.ExpiresAt,
	)

	l.publish(Event{Type: EventChallengeCreated, ChallengeID: c.ID, Challenge: c})
	return c, nil
}

// GetChallenge returns the challenge with the given id.
func (l *Ledger) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	c, err := l.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, fromStore("get challenge", err)
	}
	return c, nil
}

// ListChallenges returns challenges matching f, newest first.
func (l *Ledger) ListChallenges(ctx context.Context, f model.ChallengeFilter) ([]model.Challenge, error) {
	challenges, err := l.store.ListChallenges(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("ledger: list challenges: %w", err)
	}
	if challenges == nil {
		challenges = []model.Challenge{}
	}
	return challenges, nil
}

// ListDue returns OPEN challenges whose expiry has passed and which are
// therefore waiting on an outcome.
func (l *Ledger) ListDue(ctx context.Context) ([]model.Challenge, error) {
	challenges, err := l.store.ListDueChallenges(ctx, l.now())
	if err != nil {
		return nil, fmt.Errorf("ledger: list due challenges: %w", err)
	}
	return challenges, nil
}

// CancelChallenge moves an OPEN challenge to CANCELLED. Only the creator may
// cancel. The returned refunds list every committer's own stake for the
// escrow collaborator to return; no settlement record is created.
func (l *Ledger) CancelChallenge(ctx context.Context, id, requester string) ([]model.Payout, error) {
	const op = "cancel challenge"

	var (
		refunds   []model.Payout
		cancelled *model.Challenge
	)
	err := l.withChallenge(ctx, op, id, func() error {
		c, err := l.primary.GetChallenge(ctx, id)
		if err != nil {
			return fromStore(op, err)
		}
		if requester == "" || requester != c.CreatorID {
			return newErr(KindForbidden, op, "only the creator can cancel challenge %s", id)
		}
		if c.Status != model.StatusOpen {
			return newErr(KindInvalidState, op, "challenge %s is %s", id, c.Status)
		}

		commitments, err := l.primary.GetCommitments(ctx, id)
		if err != nil {
			return fromStore(op, err)
		}

		now := l.now()
		if err := l.store.CancelChallenge(ctx, id, now); err != nil {
			return fromStore(op, err)
		}

		refunds = refundAll(commitments)
		c.Status = model.StatusCancelled
		c.ResolvedAt = &now
		cancelled = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Cancellations.Inc()
	metrics.OpenChallenges.Dec()
	slog.Info("challenge cancelled",
		"id", id,
		"requester", requester,
		"refunds", len(refunds),
		"refund_total", cancelled.TotalPool().String(),
	)

	l.publish(Event{Type: EventChallengeCancelled, ChallengeID: id, Challenge: cancelled, Refunds: refunds})
	return refunds, nil
}

// PostUpdate records a progress note from the creator on an OPEN challenge.
func (l *Ledger) PostUpdate(ctx context.Context, challengeID, author, text string) (*model.ProgressUpdate, error) {
	const op = "post update"

	body, err := terms.CheckDescription(text)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Msg: err.Error(), Err: err}
	}

	c, err := l.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fromStore(op, err)
	}
	if author == "" || author != c.CreatorID {
		return nil, newErr(KindForbidden, op, "only the creator can post updates on challenge %s", challengeID)
	}
	if c.Status != model.StatusOpen {
		return nil, newErr(KindInvalidState, op, "challenge %s is %s", challengeID, c.Status)
	}

	u := &model.ProgressUpdate{
		ID:          l.newID(),
		ChallengeID: challengeID,
		AuthorID:    author,
		Text:        body,
		CreatedAt:   l.now(),
	}
	if err := l.store.InsertUpdate(ctx, u); err != nil {
		return nil, fromStore(op, err)
	}

	l.publish(Event{Type: EventProgressUpdate, ChallengeID: challengeID, Update: u})
	return u, nil
}

// ListUpdates returns the progress notes on a challenge, oldest first.
func (l *Ledger) ListUpdates(ctx context.Context, challengeID string) ([]model.ProgressUpdate, error) {
	if _, err := l.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	updates, err := l.store.GetUpdates(ctx, challengeID)
	if err != nil {
		return nil, fromStore("list updates", err)
	}
	if updates == nil {
		updates = []model.ProgressUpdate{}
	}
	return updates, nil
}
