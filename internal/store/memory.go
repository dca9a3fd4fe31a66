package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bealive/commitment-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	challenges  map[string]*model.Challenge
	commitments []model.Commitment
	settlements map[string]*model.SettlementRecord
	updates     []model.ProgressUpdate
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:  make(map[string]*model.Challenge),
		settlements: make(map[string]*model.SettlementRecord),
	}
}

func (s *MemoryStore) CreateChallenge(_ context.Context, c *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[c.ID]; ok {
		return fmt.Errorf("challenge %s: %w", c.ID, ErrDuplicate)
	}

	// Store a copy to avoid external mutation.
	cp := *c
	s.challenges[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListChallenges(_ context.Context, f model.ChallengeFilter) ([]model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.CreatorID != "" && c.CreatorID != f.CreatorID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListDueChallenges(_ context.Context, now time.Time) ([]model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Challenge
	for _, c := range s.challenges {
		if c.Status == model.StatusOpen && c.Expired(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (s *MemoryStore) CancelChallenge(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	if c.Status != model.StatusOpen {
		return fmt.Errorf("challenge %s: %w", id, ErrNotOpen)
	}
	c.Status = model.StatusCancelled
	t := at
	c.ResolvedAt = &t
	return nil
}

func (s *MemoryStore) InsertCommitment(_ context.Context, cm *model.Commitment) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[cm.ChallengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", cm.ChallengeID, ErrNotFound)
	}
	if c.Status != model.StatusOpen {
		return nil, fmt.Errorf("challenge %s: %w", cm.ChallengeID, ErrNotOpen)
	}
	for _, existing := range s.commitments {
		if existing.ChallengeID == cm.ChallengeID && existing.ParticipantID == cm.ParticipantID {
			return nil, fmt.Errorf("commitment by %s on %s: %w", cm.ParticipantID, cm.ChallengeID, ErrDuplicate)
		}
	}

	s.commitments = append(s.commitments, *cm)
	if cm.Side == model.SideYes {
		c.YesCount++
		c.YesPool = c.YesPool.Add(c.Stake)
	} else {
		c.NoCount++
		c.NoPool = c.NoPool.Add(c.Stake)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCommitments(_ context.Context, challengeID string) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Commitment
	for _, cm := range s.commitments {
		if cm.ChallengeID == challengeID {
			result = append(result, cm)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetParticipantCommitments(_ context.Context, participantID string) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Commitment
	for _, cm := range s.commitments {
		if cm.ParticipantID == participantID {
			result = append(result, cm)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, rec *model.SettlementRecord, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[rec.ChallengeID]
	if !ok {
		return fmt.Errorf("challenge %s: %w", rec.ChallengeID, ErrNotFound)
	}
	if _, done := s.settlements[rec.ChallengeID]; done {
		return fmt.Errorf("settlement %s: %w", rec.ChallengeID, ErrDuplicate)
	}
	if c.Status != model.StatusOpen {
		return fmt.Errorf("challenge %s: %w", rec.ChallengeID, ErrNotOpen)
	}
	if n := c.YesCount + c.NoCount; n != len(rec.Payouts) {
		return fmt.Errorf("settlement %s: %d payouts for %d commitments: %w", rec.ChallengeID, len(rec.Payouts), n, ErrStale)
	}

	cp := *rec
	cp.Payouts = append([]model.Payout(nil), rec.Payouts...)
	s.settlements[rec.ChallengeID] = &cp

	c.Status = status
	t := rec.CreatedAt
	c.ResolvedAt = &t
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, challengeID string) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.settlements[challengeID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", challengeID, ErrNotFound)
	}
	cp := *rec
	cp.Payouts = append([]model.Payout(nil), rec.Payouts...)
	return &cp, nil
}

func (s *MemoryStore) InsertUpdate(_ context.Context, u *model.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[u.ChallengeID]; !ok {
		return fmt.Errorf("challenge %s: %w", u.ChallengeID, ErrNotFound)
	}
	s.updates = append(s.updates, *u)
	return nil
}

func (s *MemoryStore) GetUpdates(_ context.Context, challengeID string) ([]model.ProgressUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProgressUpdate
	for _, u := range s.updates {
		if u.ChallengeID == challengeID {
			result = append(result, u)
		}
	}
	return result, nil
}
