// Package sweep announces challenges whose deadline has passed so the
// outcome oracle knows to report a result. It never resolves anything
// itself.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/bealive/commitment-ledger/internal/ledger"
	"github.com/bealive/commitment-ledger/internal/metrics"
	"github.com/bealive/commitment-ledger/internal/model"
)

// DueLister lists OPEN challenges past their expiry.
type DueLister interface {
	ListDue(ctx context.Context) ([]model.Challenge, error)
}

// Sweeper periodically publishes a challenge_due event for every expired
// OPEN challenge, once per challenge.
type Sweeper struct {
	due       DueLister
	publisher ledger.Publisher
	interval  time.Duration
	announced map[string]bool
}

// New creates a sweeper that checks every interval.
func New(due DueLister, publisher ledger.Publisher, interval time.Duration) *Sweeper {
	return &Sweeper{
		due:       due,
		publisher: publisher,
		interval:  interval,
		announced: make(map[string]bool),
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return nil
		}
	}
}

// Sweep runs one pass and returns the number of newly announced challenges.
func (s *Sweeper) Sweep(ctx context.Context) int {
	challenges, err := s.due.ListDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("sweep: list due challenges", "err", err)
		}
		return 0
	}
	metrics.DueChallenges.Set(float64(len(challenges)))

	still := make(map[string]bool, len(challenges))
	fresh := 0
	for i := range challenges {
		c := &challenges[i]
		still[c.ID] = true
		if s.announced[c.ID] {
			continue
		}
		slog.Info("challenge awaiting outcome", "id", c.ID, "expired_at", c.ExpiresAt, "total_pool", c.TotalPool().String())
		s.publisher.Publish(ledger.Event{Type: ledger.EventChallengeDue, ChallengeID: c.ID, Challenge: c})
		fresh++
	}
	// Challenges that left OPEN drop out of the set.
	s.announced = still
	return fresh
}
