// Package store defines the persistence interface for the commitment ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bealive/commitment-ledger/internal/model"
)

var (
	// ErrNotFound is returned when a challenge or settlement does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a participant already holds a commitment
	// on the challenge, or the challenge already has a settlement.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrNotOpen is returned when a conditional write finds the challenge
	// already out of OPEN.
	ErrNotOpen = errors.New("store: challenge not open")

	// ErrStale is returned by SaveSettlement when the record does not cover
	// every commitment the challenge holds.
	ErrStale = errors.New("store: settlement does not match commitments")
)

// Store is the persistence interface. Every method that writes more than one
// row is atomic: either all of it lands or none of it does.
type Store interface {
	// --- Challenges ---

	// CreateChallenge persists a new challenge.
	CreateChallenge(ctx context.Context, c *model.Challenge) error

	// GetChallenge retrieves a challenge by its ID.
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)

	// ListChallenges returns challenges matching the filter, newest first.
	ListChallenges(ctx context.Context, f model.ChallengeFilter) ([]model.Challenge, error)

	// ListDueChallenges returns OPEN challenges whose expiry is at or before now.
	ListDueChallenges(ctx context.Context, now time.Time) ([]model.Challenge, error)

	// CancelChallenge moves an OPEN challenge to CANCELLED.
	CancelChallenge(ctx context.Context, id string, at time.Time) error

	// --- Commitments ---

	// InsertCommitment appends an immutable commitment and, in the same unit,
	// adds one to the committed side's count and the challenge's stake to its
	// pool. The increment is applied to the stored row, never to a value the
	// caller read earlier. It returns the challenge as written.
	InsertCommitment(ctx context.Context, cm *model.Commitment) (*model.Challenge, error)

	// GetCommitments returns all commitments on a challenge in creation order.
	GetCommitments(ctx context.Context, challengeID string) ([]model.Commitment, error)

	// GetParticipantCommitments returns all commitments made by a participant.
	GetParticipantCommitments(ctx context.Context, participantID string) ([]model.Commitment, error)

	// --- Settlement ---

	// SaveSettlement stores the record and moves the challenge to status in
	// the same unit. It fails with ErrStale if rec.Payouts does not hold one
	// entry per stored commitment.
	SaveSettlement(ctx context.Context, rec *model.SettlementRecord, status model.Status) error

	// GetSettlement returns the settlement for a challenge.
	GetSettlement(ctx context.Context, challengeID string) (*model.SettlementRecord, error)

	// --- Progress updates ---

	// InsertUpdate appends a progress note.
	InsertUpdate(ctx context.Context, u *model.ProgressUpdate) error

	// GetUpdates returns progress notes for a challenge, oldest first.
	GetUpdates(ctx context.Context, challengeID string) ([]model.ProgressUpdate, error)
}

// Primary returns the source-of-truth store behind s. Reads that feed a
// write under a challenge lock go here, never through a cache.
func Primary(s Store) Store {
	if c, ok := s.(interface{ Primary() Store }); ok {
		return c.Primary()
	}
	return s
}
