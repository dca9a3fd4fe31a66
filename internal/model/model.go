// Package model defines the core domain types shared across the commitment ledger.
// Monetary values are shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a participant's stance on a challenge.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Status is the lifecycle state of a challenge.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusResolvedTrue  Status = "RESOLVED_TRUE"
	StatusResolvedFalse Status = "RESOLVED_FALSE"
	StatusCancelled     Status = "CANCELLED"
)

// Participant identifies a user who may commit to challenges.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Challenge is a falsifiable claim with a resolution deadline and a fixed
// per-participant stake. Pools are derived: YesPool = Stake × YesCount and
// NoPool = Stake × NoCount at all times.
type Challenge struct {
	ID          string          `json:"id" db:"id"`
	CreatorID   string          `json:"creator_id" db:"creator_id"`
	Description string          `json:"description" db:"description"`
	SnapshotURL string          `json:"snapshot_url,omitempty" db:"snapshot_url"`
	Stake       decimal.Decimal `json:"stake" db:"stake"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	Status      Status          `json:"status" db:"status"`
	YesPool     decimal.Decimal `json:"yes_pool" db:"yes_pool"`
	NoPool      decimal.Decimal `json:"no_pool" db:"no_pool"`
	YesCount    int             `json:"yes_count" db:"yes_count"`
	NoCount     int             `json:"no_count" db:"no_count"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TotalPool is the sum of both sides' stakes.
func (c *Challenge) TotalPool() decimal.Decimal {
	return c.YesPool.Add(c.NoPool)
}

// Count returns the number of commitments on the given side.
func (c *Challenge) Count(side Side) int {
	if side == SideYes {
		return c.YesCount
	}
	return c.NoCount
}

// Expired reports whether the deadline has passed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Commitment is one participant's binding side choice on one challenge.
// Once created it is never modified or deleted.
type Commitment struct {
	ID            string          `json:"id" db:"id"`
	ChallengeID   string          `json:"challenge_id" db:"challenge_id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	Side          Side            `json:"side" db:"side"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // equals the challenge stake
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Payout is one participant's share of a settled pool.
type Payout struct {
	ParticipantID string          `json:"participant_id"`
	Side          Side            `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
}

// SettlementRecord is produced once per resolved challenge and never mutated.
type SettlementRecord struct {
	ChallengeID  string          `json:"challenge_id"`
	Outcome      bool            `json:"outcome"`
	TotalPool    decimal.Decimal `json:"total_pool"`
	WinningCount int             `json:"winning_count"`
	Refunded     bool            `json:"refunded"` // zero winners: stakes returned
	Payouts      []Payout        `json:"payouts"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PayoutFor returns the amount owed to a participant (zero when absent).
func (r *SettlementRecord) PayoutFor(participantID string) decimal.Decimal {
	for _, p := range r.Payouts {
		if p.ParticipantID == participantID {
			return p.Amount
		}
	}
	return decimal.Zero
}

// Sum is the total of all payouts in the record.
func (r *SettlementRecord) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Payouts {
		total = total.Add(p.Amount)
	}
	return total
}

// ProgressUpdate is a note the creator posts while the challenge runs.
type ProgressUpdate struct {
	ID          string    `json:"id" db:"id"`
	ChallengeID string    `json:"challenge_id" db:"challenge_id"`
	AuthorID    string    `json:"author_id" db:"author_id"`
	Text        string    `json:"text" db:"text"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChallengeFilter narrows ListChallenges. Zero fields match everything.
type ChallengeFilter struct {
	Status    Status
	CreatorID string
}
