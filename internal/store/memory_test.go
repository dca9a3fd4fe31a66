package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bealive/commitment-ledger/internal/model"
)

func seedChallenge(t *testing.T, s *MemoryStore, id string, created time.Time) *model.Challenge {
	t.Helper()
	c := &model.Challenge{
		ID:          id,
		CreatorID:   "sarah",
		Description: "gym 5 days",
		Stake:       decimal.NewFromInt(20),
		ExpiresAt:   created.Add(time.Hour),
		Status:      model.StatusOpen,
		CreatedAt:   created,
	}
	require.NoError(t, s.CreateChallenge(context.Background(), c))
	return c
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	c := seedChallenge(t, s, "c1", now)

	err := s.CreateChallenge(context.Background(), c)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedChallenge(t, s, "c1", time.Now())

	got, err := s.GetChallenge(context.Background(), "c1")
	require.NoError(t, err)
	got.YesCount = 99

	again, err := s.GetChallenge(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.YesCount)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetChallenge(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InsertCommitmentRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := seedChallenge(t, s, "c1", time.Now())

	cm := &model.Commitment{ID: "x1", ChallengeID: "c1", ParticipantID: "p1", Side: model.SideYes, Amount: c.Stake}
	updated, err := s.InsertCommitment(ctx, cm)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.YesCount)

	dup := &model.Commitment{ID: "x2", ChallengeID: "c1", ParticipantID: "p1", Side: model.SideNo, Amount: c.Stake}
	_, err = s.InsertCommitment(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, _ := s.GetChallenge(ctx, "c1")
	assert.Equal(t, 1, got.YesCount)
	assert.Equal(t, 0, got.NoCount)
}

func TestMemoryStore_InsertCommitmentIncrementsStoredCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := seedChallenge(t, s, "c1", time.Now())

	for i, side := range []model.Side{model.SideYes, model.SideNo, model.SideYes} {
		_, err := s.InsertCommitment(ctx, &model.Commitment{
			ID: fmt.Sprintf("x%d", i), ChallengeID: "c1", ParticipantID: fmt.Sprintf("p%d", i), Side: side, Amount: c.Stake,
		})
		require.NoError(t, err)
	}

	got, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.YesCount)
	assert.Equal(t, 1, got.NoCount)
	assert.True(t, got.YesPool.Equal(decimal.NewFromInt(40)))
	assert.True(t, got.NoPool.Equal(decimal.NewFromInt(20)))
}

func TestMemoryStore_SaveSettlementRejectsMissingPayouts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := seedChallenge(t, s, "c1", time.Now())
	_, err := s.InsertCommitment(ctx, &model.Commitment{ID: "x1", ChallengeID: "c1", ParticipantID: "p1", Side: model.SideYes, Amount: c.Stake})
	require.NoError(t, err)

	rec := &model.SettlementRecord{ChallengeID: "c1", Outcome: true, CreatedAt: time.Now()}
	assert.ErrorIs(t, s.SaveSettlement(ctx, rec, model.StatusResolvedTrue), ErrStale)

	got, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
}

func TestMemoryStore_SaveSettlementOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedChallenge(t, s, "c1", time.Now())

	rec := &model.SettlementRecord{ChallengeID: "c1", Outcome: true, CreatedAt: time.Now()}
	require.NoError(t, s.SaveSettlement(ctx, rec, model.StatusResolvedTrue))
	assert.ErrorIs(t, s.SaveSettlement(ctx, rec, model.StatusResolvedTrue), ErrDuplicate)

	got, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolvedTrue, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestMemoryStore_CancelOnlyOpen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedChallenge(t, s, "c1", time.Now())

	require.NoError(t, s.CancelChallenge(ctx, "c1", time.Now()))
	assert.ErrorIs(t, s.CancelChallenge(ctx, "c1", time.Now()), ErrNotOpen)
	assert.ErrorIs(t, s.CancelChallenge(ctx, "zz", time.Now()), ErrNotFound)
}

func TestMemoryStore_ListFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedChallenge(t, s, "old", base)
	seedChallenge(t, s, "new", base.Add(time.Minute))
	require.NoError(t, s.CancelChallenge(ctx, "old", base))

	all, err := s.ListChallenges(ctx, model.ChallengeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)

	open, err := s.ListChallenges(ctx, model.ChallengeFilter{Status: model.StatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "new", open[0].ID)
}

func TestMemoryStore_ListDue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedChallenge(t, s, "c1", base) // expires base+1h

	due, err := s.ListDueChallenges(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDueChallenges(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].ID)
}
