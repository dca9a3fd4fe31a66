// Package ledger implements the commitment ledger: the rules governing how
// challenges are created and cancelled, how participants commit to a side,
// and how a resolved challenge's pool is paid out.
//
// Every mutation of a challenge runs under that challenge's lock, so
// "increment count, add pool amount, insert commitment" and "snapshot
// counts, compute settlement, flip status" are never interleaved. Different
// challenges never contend.
//
// Monetary values are shopspring/decimal, never float64.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bealive/commitment-ledger/internal/exposure"
	"github.com/bealive/commitment-ledger/internal/lock"
	"github.com/bealive/commitment-ledger/internal/metrics"
	"github.com/bealive/commitment-ledger/internal/model"
	"github.com/bealive/commitment-ledger/internal/store"
)

// EventType names a ledger event pushed to subscribers.
type EventType string

const (
	EventChallengeCreated   EventType = "challenge_created"
	EventCommitmentAdded    EventType = "commitment_added"
	EventChallengeCancelled EventType = "challenge_cancelled"
	EventChallengeResolved  EventType = "challenge_resolved"
	EventChallengeDue       EventType = "challenge_due"
	EventProgressUpdate     EventType = "progress_update"
)

// Event describes a state change. Only the fields relevant to Type are set.
type Event struct {
	Type        EventType               `json:"type"`
	ChallengeID string                  `json:"challenge_id"`
	Challenge   *model.Challenge        `json:"challenge,omitempty"`
	Commitment  *model.Commitment       `json:"commitment,omitempty"`
	Settlement  *model.SettlementRecord `json:"settlement,omitempty"`
	Refunds     []model.Payout          `json:"refunds,omitempty"`
	Update      *model.ProgressUpdate   `json:"update,omitempty"`
}

// Publisher receives events after the challenge lock is released. Publish
// must not block.
type Publisher interface {
	Publish(Event)
}

// Options configures a Ledger. The zero value is usable.
type Options struct {
	// ForbidSelfCommit rejects commitments by a challenge's own creator.
	ForbidSelfCommit bool

	// Limiter caps per-participant open exposure. Nil disables it.
	Limiter *exposure.Limiter

	// Publisher receives events. Nil drops them.
	Publisher Publisher

	// Now overrides the clock (tests).
	Now func() time.Time

	// NewID overrides ID generation (tests).
	NewID func() string
}

// Ledger is the commitment ledger. It holds no challenge state itself; all
// state lives in the injected Store.
type Ledger struct {
	store            store.Store
	primary          store.Store // uncached; read under a challenge lock
	locks            lock.Locker
	limiter          *exposure.Limiter
	publisher        Publisher
	forbidSelfCommit bool
	now              func() time.Time
	newID            func() string
}

// New creates a Ledger over st, serializing per-challenge work through locks.
func New(st store.Store, locks lock.Locker, opts Options) *Ledger {
	l := &Ledger{
		store:            st,
		primary:          store.Primary(st),
		locks:            locks,
		limiter:          opts.Limiter,
		publisher:        opts.Publisher,
		forbidSelfCommit: opts.ForbidSelfCommit,
		now:              opts.Now,
		newID:            opts.NewID,
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.newID == nil {
		l.newID = newUUID
	}
	if l.locks == nil {
		l.locks = lock.NewKeyed()
	}
	return l
}

// withChallenge runs fn while holding the challenge's lock.
func (l *Ledger) withChallenge(ctx context.Context, op, id string, fn func() error) error {
	return l.withLock(ctx, op, challengeLockKey(id), fn)
}

// withParticipant runs fn while holding the participant's lock. It is only
// ever taken inside a challenge lock, never the other way round.
func (l *Ledger) withParticipant(ctx context.Context, op, participant string, fn func() error) error {
	return l.withLock(ctx, op, participantLockKey(participant), fn)
}

func (l *Ledger) withLock(ctx context.Context, op, key string, fn func() error) error {
	start := time.Now()
	unlock, err := l.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger: %s: lock %s: %w", op, key, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			metrics.LocksLost.WithLabelValues(op).Inc()
			slog.Error("lock expired before release", "op", op, "key", key, "error", err)
		}
	}()
	metrics.LockWait.WithLabelValues(op).Observe(time.Since(start).Seconds())

	return fn()
}

func challengeLockKey(id string) string          { return "challenge:" + id }
func participantLockKey(participant string) string { return "participant:" + participant }

func (l *Ledger) publish(ev Event) {
	if l.publisher != nil {
		l.publisher.Publish(ev)
	}
}

func newUUID() string {
	return uuid.New().String()
}
