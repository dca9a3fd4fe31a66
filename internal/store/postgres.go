package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bealive/commitment-ledger/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const challengeColumns = `id, creator_id, description, snapshot_url,
	stake::TEXT, expires_at, status,
	yes_pool::TEXT, no_pool::TEXT, yes_count, no_count,
	created_at, resolved_at`

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO challenges (id, creator_id, description, snapshot_url, stake, expires_at,
		                         status, yes_pool, no_pool, yes_count, no_count, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		c.ID, c.CreatorID, c.Description, c.SnapshotURL, c.Stake.String(), c.ExpiresAt,
		string(c.Status), c.YesPool.String(), c.NoPool.String(), c.YesCount, c.NoCount,
		c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("challenge %s: %w", c.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListChallenges(ctx context.Context, f model.ChallengeFilter) ([]model.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+challengeColumns+` FROM challenges
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR creator_id = $2)
		 ORDER BY created_at DESC`, string(f.Status), f.CreatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChallenges(rows)
}

func (s *PostgresStore) ListDueChallenges(ctx context.Context, now time.Time) ([]model.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+challengeColumns+` FROM challenges
		 WHERE status = 'OPEN' AND expires_at <= $1
		 ORDER BY expires_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChallenges(rows)
}

func (s *PostgresStore) CancelChallenge(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET status = 'CANCELLED', resolved_at = $2
		 WHERE id = $1 AND status = 'OPEN'`, id, at)
	if err != nil {
		return fmt.Errorf("cancel challenge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrClosed(ctx, id)
	}
	return nil
}

// InsertCommitment bumps the counters in SQL and inserts the commitment in
// one transaction. The UPDATE holds the challenge row lock until commit, so
// concurrent writers on other instances add to the latest counts rather than
// to a value they read earlier. The status guard and the unique
// (challenge_id, participant_id) constraint reject late and repeated
// commitments without the ledger's lock.
func (s *PostgresStore) InsertCommitment(ctx context.Context, cm *model.Commitment) (*model.Challenge, error) {
	var updated *model.Challenge
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE challenges SET
			     yes_count = yes_count + CASE WHEN $2 = 'YES' THEN 1 ELSE 0 END,
			     yes_pool  = yes_pool  + CASE WHEN $2 = 'YES' THEN stake ELSE 0 END,
			     no_count  = no_count  + CASE WHEN $2 = 'NO' THEN 1 ELSE 0 END,
			     no_pool   = no_pool   + CASE WHEN $2 = 'NO' THEN stake ELSE 0 END
			 WHERE id = $1 AND status = 'OPEN'
			 RETURNING `+challengeColumns,
			cm.ChallengeID, string(cm.Side),
		)
		c, err := scanChallenge(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missingOrClosed(ctx, cm.ChallengeID)
		}
		if err != nil {
			return fmt.Errorf("update challenge %s: %w", cm.ChallengeID, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO commitments (id, challenge_id, participant_id, side, amount, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
			cm.ID, cm.ChallengeID, cm.ParticipantID, string(cm.Side), cm.Amount.String(), cm.CreatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("commitment by %s on %s: %w", cm.ParticipantID, cm.ChallengeID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("insert commitment %s: %w", cm.ID, err)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) GetCommitments(ctx context.Context, challengeID string) ([]model.Commitment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, challenge_id, participant_id, side, amount::TEXT, created_at
		 FROM commitments WHERE challenge_id = $1 ORDER BY seq`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCommitments(rows)
}

func (s *PostgresStore) GetParticipantCommitments(ctx context.Context, participantID string) ([]model.Commitment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, challenge_id, participant_id, side, amount::TEXT, created_at
		 FROM commitments WHERE participant_id = $1 ORDER BY seq`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCommitments(rows)
}

func (s *PostgresStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord, status model.Status) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The row lock taken here blocks commitments until this transaction
		// ends, so the count read back is final.
		var committed int
		err := tx.QueryRow(ctx,
			`UPDATE challenges SET status = $2, resolved_at = $3
			 WHERE id = $1 AND status = 'OPEN'
			 RETURNING yes_count + no_count`,
			rec.ChallengeID, string(status), rec.CreatedAt).Scan(&committed)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missingOrClosed(ctx, rec.ChallengeID)
		}
		if err != nil {
			return fmt.Errorf("update challenge %s: %w", rec.ChallengeID, err)
		}
		if committed != len(rec.Payouts) {
			return fmt.Errorf("settlement %s: %d payouts for %d commitments: %w",
				rec.ChallengeID, len(rec.Payouts), committed, ErrStale)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO settlements (challenge_id, outcome, total_pool, winning_count, refunded, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
			rec.ChallengeID, rec.Outcome, rec.TotalPool.String(), rec.WinningCount,
			rec.Refunded, rec.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("settlement %s: %w", rec.ChallengeID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("insert settlement %s: %w", rec.ChallengeID, err)
		}

		batch := &pgx.Batch{}
		for i, p := range rec.Payouts {
			batch.Queue(
				`INSERT INTO settlement_payouts (challenge_id, participant_id, side, amount, position)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
				rec.ChallengeID, p.ParticipantID, string(p.Side), p.Amount.String(), i)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) GetSettlement(ctx context.Context, challengeID string) (*model.SettlementRecord, error) {
	rec := model.SettlementRecord{ChallengeID: challengeID}
	var totalS string

	err := s.pool.QueryRow(ctx,
		`SELECT outcome, total_pool::TEXT, winning_count, refunded, created_at
		 FROM settlements WHERE challenge_id = $1`, challengeID).
		Scan(&rec.Outcome, &totalS, &rec.WinningCount, &rec.Refunded, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", challengeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", challengeID, err)
	}
	if rec.TotalPool, err = parseAmount("total_pool", totalS); err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", challengeID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, side, amount::TEXT
		 FROM settlement_payouts WHERE challenge_id = $1 ORDER BY position`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rec.Payouts = []model.Payout{}
	for rows.Next() {
		var p model.Payout
		var side, amountS string
		if err := rows.Scan(&p.ParticipantID, &side, &amountS); err != nil {
			return nil, err
		}
		p.Side = model.Side(side)
		if p.Amount, err = parseAmount("payout", amountS); err != nil {
			return nil, fmt.Errorf("get settlement %s: %w", challengeID, err)
		}
		rec.Payouts = append(rec.Payouts, p)
	}
	return &rec, rows.Err()
}

func (s *PostgresStore) InsertUpdate(ctx context.Context, u *model.ProgressUpdate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress_updates (id, challenge_id, author_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.ChallengeID, u.AuthorID, u.Text, u.CreatedAt)
	return err
}

func (s *PostgresStore) GetUpdates(ctx context.Context, challengeID string) ([]model.ProgressUpdate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, challenge_id, author_id, text, created_at
		 FROM progress_updates WHERE challenge_id = $1 ORDER BY created_at`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []model.ProgressUpdate
	for rows.Next() {
		var u model.ProgressUpdate
		if err := rows.Scan(&u.ID, &u.ChallengeID, &u.AuthorID, &u.Text, &u.CreatedAt); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// missingOrClosed distinguishes a conditional update that matched nothing.
func (s *PostgresStore) missingOrClosed(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM challenges WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("challenge %s: %w", id, ErrNotOpen)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row pgxRow) (*model.Challenge, error) {
	var c model.Challenge
	var status, stakeS, yesS, noS string

	if err := row.Scan(&c.ID, &c.CreatorID, &c.Description, &c.SnapshotURL,
		&stakeS, &c.ExpiresAt, &status,
		&yesS, &noS, &c.YesCount, &c.NoCount,
		&c.CreatedAt, &c.ResolvedAt); err != nil {
		return nil, err
	}

	c.Status = model.Status(status)
	var err error
	if c.Stake, err = parseAmount("stake", stakeS); err != nil {
		return nil, err
	}
	if c.YesPool, err = parseAmount("yes_pool", yesS); err != nil {
		return nil, err
	}
	if c.NoPool, err = parseAmount("no_pool", noS); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChallenges(rows pgxRows) ([]model.Challenge, error) {
	var out []model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCommitments(rows pgxRows) ([]model.Commitment, error) {
	var out []model.Commitment
	for rows.Next() {
		var cm model.Commitment
		var side, amountS string

		if err := rows.Scan(&cm.ID, &cm.ChallengeID, &cm.ParticipantID, &side,
			&amountS, &cm.CreatedAt); err != nil {
			return nil, err
		}
		cm.Side = model.Side(side)
		amount, err := parseAmount("amount", amountS)
		if err != nil {
			return nil, fmt.Errorf("commitment %s: %w", cm.ID, err)
		}
		cm.Amount = amount
		out = append(out, cm)
	}
	return out, rows.Err()
}

// parseAmount decodes a NUMERIC column read as text.
func parseAmount(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s %q: %w", column, s, err)
	}
	return d, nil
}
