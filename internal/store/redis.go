package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bealive/commitment-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then overwrite the cached entry
// with the value just written. Reads check Redis first and, on a miss, fill
// the cache with SETNX, so a reader that loaded a row before a write can
// never replace the writer's newer entry.
//
// Cached values serve display reads only. Code that mutates a challenge
// reads through Primary.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the wrapped source-of-truth store.
func (s *CachedStore) Primary() Store {
	return s.primary
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	if err := s.primary.CreateChallenge(ctx, c); err != nil {
		return err
	}
	s.storeChallenge(ctx, c)
	return nil
}

func (s *CachedStore) CancelChallenge(ctx context.Context, id string, at time.Time) error {
	if err := s.primary.CancelChallenge(ctx, id, at); err != nil {
		return err
	}
	s.refreshChallenge(ctx, id)
	return nil
}

func (s *CachedStore) InsertCommitment(ctx context.Context, cm *model.Commitment) (*model.Challenge, error) {
	updated, err := s.primary.InsertCommitment(ctx, cm)
	if err != nil {
		return nil, err
	}
	s.storeChallenge(ctx, updated)
	s.refreshCommitments(ctx, cm.ChallengeID)
	return updated, nil
}

func (s *CachedStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord, status model.Status) error {
	if err := s.primary.SaveSettlement(ctx, rec, status); err != nil {
		return err
	}
	s.refreshChallenge(ctx, rec.ChallengeID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	data, err := s.rdb.Get(ctx, challengeKey(id)).Bytes()
	if err == nil {
		var c model.Challenge
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	// Cache miss: read from primary.
	c, err := s.primary.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, challengeKey(id), c, s.ttl)
	return c, nil
}

func (s *CachedStore) GetCommitments(ctx context.Context, challengeID string) ([]model.Commitment, error) {
	data, err := s.rdb.Get(ctx, commitmentsKey(challengeID)).Bytes()
	if err == nil {
		var commitments []model.Commitment
		if json.Unmarshal(data, &commitments) == nil {
			return commitments, nil
		}
	}

	commitments, err := s.primary.GetCommitments(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, commitmentsKey(challengeID), commitments, s.ttl)
	return commitments, nil
}

// GetSettlement caches without expiry; settlement records never change.
func (s *CachedStore) GetSettlement(ctx context.Context, challengeID string) (*model.SettlementRecord, error) {
	data, err := s.rdb.Get(ctx, settlementKey(challengeID)).Bytes()
	if err == nil {
		var rec model.SettlementRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetSettlement(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, settlementKey(challengeID), rec, 0)
	return rec, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListChallenges(ctx context.Context, f model.ChallengeFilter) ([]model.Challenge, error) {
	return s.primary.ListChallenges(ctx, f)
}

func (s *CachedStore) ListDueChallenges(ctx context.Context, now time.Time) ([]model.Challenge, error) {
	return s.primary.ListDueChallenges(ctx, now)
}

func (s *CachedStore) GetParticipantCommitments(ctx context.Context, participantID string) ([]model.Commitment, error) {
	return s.primary.GetParticipantCommitments(ctx, participantID)
}

func (s *CachedStore) InsertUpdate(ctx context.Context, u *model.ProgressUpdate) error {
	return s.primary.InsertUpdate(ctx, u)
}

func (s *CachedStore) GetUpdates(ctx context.Context, challengeID string) ([]model.ProgressUpdate, error) {
	return s.primary.GetUpdates(ctx, challengeID)
}

// --- Cache helpers ---

// storeChallenge overwrites the cached challenge after a write.
func (s *CachedStore) storeChallenge(ctx context.Context, c *model.Challenge) {
	data, err := json.Marshal(c)
	if err != nil || s.rdb.Set(ctx, challengeKey(c.ID), data, s.ttl).Err() != nil {
		s.rdb.Del(ctx, challengeKey(c.ID))
	}
}

// refreshChallenge re-reads a challenge from the primary after a write and
// overwrites the cache, dropping the entry if the read fails.
func (s *CachedStore) refreshChallenge(ctx context.Context, id string) {
	c, err := s.primary.GetChallenge(ctx, id)
	if err != nil {
		s.rdb.Del(ctx, challengeKey(id))
		return
	}
	s.storeChallenge(ctx, c)
}

func (s *CachedStore) refreshCommitments(ctx context.Context, challengeID string) {
	commitments, err := s.primary.GetCommitments(ctx, challengeID)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(commitments); err == nil {
			err = s.rdb.Set(ctx, commitmentsKey(challengeID), data, s.ttl).Err()
		}
	}
	if err != nil {
		s.rdb.Del(ctx, commitmentsKey(challengeID))
	}
}

// fill caches a value read on a miss unless a writer has stored a fresher
// one since.
func (s *CachedStore) fill(ctx context.Context, key string, v any, ttl time.Duration) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.SetNX(ctx, key, data, ttl)
	}
}

func challengeKey(id string) string   { return fmt.Sprintf("challenge:%s", id) }
func commitmentsKey(id string) string { return fmt.Sprintf("commitments:%s", id) }
func settlementKey(id string) string  { return fmt.Sprintf("settlement:%s", id) }
