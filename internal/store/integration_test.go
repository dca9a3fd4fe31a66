package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bealive/commitment-ledger/internal/model"
)

// The PostgreSQL tests need a live database and are skipped unless
// BEALIVE_TEST_DATABASE_DSN is set.

func postgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("BEALIVE_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("BEALIVE_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	st := NewPostgresStore(pool)
	require.NoError(t, st.Migrate(ctx))
	return st
}

func uniqueChallenge() *model.Challenge {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Challenge{
		ID:          uuid.New().String(),
		CreatorID:   "sarah",
		Description: "Will Asher go to the gym 5 days this week?",
		Stake:       decimal.NewFromInt(20),
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
		Status:      model.StatusOpen,
		YesPool:     decimal.Zero,
		NoPool:      decimal.Zero,
		CreatedAt:   now,
	}
}

// exerciseStore runs the shared contract every Store must satisfy.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	c := uniqueChallenge()
	require.NoError(t, st.CreateChallenge(ctx, c))

	got, err := st.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Stake.Equal(c.Stake))
	assert.Equal(t, model.StatusOpen, got.Status)

	cm := &model.Commitment{
		ID:            uuid.New().String(),
		ChallengeID:   c.ID,
		ParticipantID: "mike",
		Side:          model.SideYes,
		Amount:        c.Stake,
		CreatedAt:     c.CreatedAt,
	}
	updated, err := st.InsertCommitment(ctx, cm)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.YesCount)
	assert.True(t, updated.YesPool.Equal(c.Stake))

	// The same participant again violates uniqueness.
	dup := *cm
	dup.ID = uuid.New().String()
	_, err = st.InsertCommitment(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err = st.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.YesCount)
	assert.True(t, got.YesPool.Equal(c.Stake))

	commitments, err := st.GetCommitments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, commitments, 1)

	// A record that misses a commitment is refused.
	short := &model.SettlementRecord{ChallengeID: c.ID, Outcome: true, Payouts: []model.Payout{}, CreatedAt: c.CreatedAt}
	assert.ErrorIs(t, st.SaveSettlement(ctx, short, model.StatusResolvedTrue), ErrStale)

	rec := &model.SettlementRecord{
		ChallengeID:  c.ID,
		Outcome:      true,
		TotalPool:    c.Stake,
		WinningCount: 1,
		Payouts:      []model.Payout{{ParticipantID: "mike", Side: model.SideYes, Amount: c.Stake}},
		CreatedAt:    c.CreatedAt,
	}
	require.NoError(t, st.SaveSettlement(ctx, rec, model.StatusResolvedTrue))
	assert.Error(t, st.SaveSettlement(ctx, rec, model.StatusResolvedTrue))

	stored, err := st.GetSettlement(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sum().Equal(c.Stake))

	got, err = st.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolvedTrue, got.Status)

	err = st.CancelChallenge(ctx, c.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotOpen)

	_, err = st.GetChallenge(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Contract(t *testing.T) {
	exerciseStore(t, postgresStore(t))
}

// exerciseConcurrentCommits inserts commitments from many goroutines with no
// outside lock. The stored counts must match the rows.
func exerciseConcurrentCommits(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	c := uniqueChallenge()
	require.NoError(t, st.CreateChallenge(ctx, c))

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := model.SideYes
			if i%2 == 0 {
				side = model.SideNo
			}
			_, err := st.InsertCommitment(ctx, &model.Commitment{
				ID:            uuid.New().String(),
				ChallengeID:   c.ID,
				ParticipantID: fmt.Sprintf("p%d", i),
				Side:          side,
				Amount:        c.Stake,
				CreatedAt:     c.CreatedAt,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := st.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, n/2, got.YesCount)
	assert.Equal(t, n/2, got.NoCount)
	assert.True(t, got.YesPool.Equal(c.Stake.Mul(decimal.NewFromInt(n/2))))

	commitments, err := st.GetCommitments(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, commitments, n)
}

func TestPostgresStore_ConcurrentCommits(t *testing.T) {
	exerciseConcurrentCommits(t, postgresStore(t))
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ConcurrentCommits(t *testing.T) {
	exerciseConcurrentCommits(t, NewMemoryStore())
}
