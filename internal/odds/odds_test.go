package odds

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// gym mirrors the seeded feed challenge: $20 stake, 9 YES, 3 NO.
func gym() *model.Challenge {
	return &model.Challenge{
		ID:       "1",
		Stake:    d(20),
		YesCount: 9,
		NoCount:  3,
		YesPool:  d(180),
		NoPool:   d(60),
	}
}

func TestImpliedYes(t *testing.T) {
	if got := ImpliedYes(0, 0); !got.Equal(d(0.5)) {
		t.Errorf("empty challenge should be 0.5, got %s", got)
	}
	if got := ImpliedYes(9, 3); !got.Equal(d(0.75)) {
		t.Errorf("expected 0.75, got %s", got)
	}
	if got := ImpliedYes(1, 2); !got.Equal(d(0.3333)) {
		t.Errorf("expected 0.3333, got %s", got)
	}
}

func TestCurrentShare(t *testing.T) {
	c := gym()
	if got := CurrentShare(c, model.SideYes); !got.Equal(d(26.67)) {
		t.Errorf("YES share: expected 26.67, got %s", got)
	}
	if got := CurrentShare(c, model.SideNo); !got.Equal(d(80)) {
		t.Errorf("NO share: expected 80, got %s", got)
	}

	empty := &model.Challenge{Stake: d(20)}
	if got := CurrentShare(empty, model.SideYes); !got.IsZero() {
		t.Errorf("no committers should give zero share, got %s", got)
	}
}

func TestExpectedPayout(t *testing.T) {
	c := gym()
	// (240 + 20) / (3 + 1) = 65
	if got := ExpectedPayout(c, model.SideNo); !got.Equal(d(65)) {
		t.Errorf("expected 65, got %s", got)
	}
	// First committer on an empty challenge gets their own stake back.
	empty := &model.Challenge{Stake: d(15)}
	if got := ExpectedPayout(empty, model.SideYes); !got.Equal(d(15)) {
		t.Errorf("expected 15, got %s", got)
	}
}

func TestNewQuote(t *testing.T) {
	q := NewQuote(gym(), model.SideNo)

	if !q.ImpliedYes.Add(q.ImpliedNo).Equal(decimal.NewFromInt(1)) {
		t.Errorf("implied probabilities should sum to 1, got %s + %s", q.ImpliedYes, q.ImpliedNo)
	}
	if !q.Multiplier.Equal(d(3.25)) {
		t.Errorf("expected multiplier 3.25, got %s", q.Multiplier)
	}
	if want := CurrentShare(gym(), model.SideNo); !q.CurrentShare.Equal(want) {
		t.Errorf("expected current share %s, got %s", want, q.CurrentShare)
	}
}
