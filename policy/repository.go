package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cropshield/fault"
)

var (
	// ErrNotFound is returned when no policy row exists for the id.
	ErrNotFound = fault.New(fault.State, "policy: policy not found")
	// ErrNotInitialized is returned when the configuration row is missing.
	ErrNotInitialized = fault.New(fault.State, "policy: engine not initialized")
	// ErrAlreadyInitialized signals a second Initialize hit the singleton guard.
	ErrAlreadyInitialized = fault.New(fault.State, "policy: engine already initialized")
	// ErrInsufficientFunds is returned when the premium pool cannot cover a payout.
	ErrInsufficientFunds = fault.New(fault.Resource, "policy: premium pool cannot cover the payout")
)

const policyColumns = `id, owner, zip_code, t0, t1, cap, direction, threshold, slope, fee_paid, status, payout, settled_round, created_round`

// PGRepository persists policies and the configuration singleton. It
// is stateless; every method runs on the transaction it is handed.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) InsertConfig(ctx context.Context, tx pgx.Tx, cfg Config) error {
	const q = `
INSERT INTO policy_config (id, admin, oracle, dispute_link, balance, created_round)
VALUES (1, $1, '', '', 0, $2)
`
	if _, err := tx.Exec(ctx, q, cfg.Admin, cfg.CreatedRound); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("policy: insert config: %w", err)
	}
	return nil
}

func (r *PGRepository) Config(ctx context.Context, tx pgx.Tx, forUpdate bool) (Config, error) {
	q := `SELECT admin, oracle, dispute_link, balance, created_round FROM policy_config WHERE id = 1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var cfg Config
	if err := tx.QueryRow(ctx, q).Scan(&cfg.Admin, &cfg.Oracle, &cfg.DisputeLink, &cfg.Balance, &cfg.CreatedRound); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("policy: load config: %w", err)
	}
	return cfg, nil
}

func (r *PGRepository) SetOracle(ctx context.Context, tx pgx.Tx, addr string) error {
	if _, err := tx.Exec(ctx, `UPDATE policy_config SET oracle = $1 WHERE id = 1`, addr); err != nil {
		return fmt.Errorf("policy: set oracle: %w", err)
	}
	return nil
}

func (r *PGRepository) SetDisputeLink(ctx context.Context, tx pgx.Tx, addr string) error {
	if _, err := tx.Exec(ctx, `UPDATE policy_config SET dispute_link = $1 WHERE id = 1`, addr); err != nil {
		return fmt.Errorf("policy: set dispute link: %w", err)
	}
	return nil
}

func (r *PGRepository) Credit(ctx context.Context, tx pgx.Tx, amount int64) error {
	if _, err := tx.Exec(ctx, `UPDATE policy_config SET balance = balance + $1 WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("policy: credit pool: %w", err)
	}
	return nil
}

// Debit takes amount out of the premium pool. The balance guard is in
// the WHERE clause so a concurrent settlement can never drive the pool
// negative.
func (r *PGRepository) Debit(ctx context.Context, tx pgx.Tx, amount int64) error {
	tag, err := tx.Exec(ctx, `UPDATE policy_config SET balance = balance - $1 WHERE id = 1 AND balance >= $1`, amount)
	if err != nil {
		return fmt.Errorf("policy: debit pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, p Policy) (int64, error) {
	const q = `
INSERT INTO policies (owner, zip_code, t0, t1, cap, direction, threshold, slope, fee_paid, status, payout, settled_round, created_round)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, $11)
RETURNING id
`
	var id int64
	if err := tx.QueryRow(ctx, q,
		p.Owner,
		p.ZipCode,
		p.T0,
		p.T1,
		p.Cap,
		p.Direction,
		p.Threshold,
		p.Slope,
		p.FeePaid,
		p.Status,
		p.CreatedRound,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("policy: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var p Policy
	if err := tx.QueryRow(ctx, q, id).Scan(
		&p.ID,
		&p.Owner,
		&p.ZipCode,
		&p.T0,
		&p.T1,
		&p.Cap,
		&p.Direction,
		&p.Threshold,
		&p.Slope,
		&p.FeePaid,
		&p.Status,
		&p.Payout,
		&p.SettledRound,
		&p.CreatedRound,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, fmt.Errorf("policy: load: %w", err)
	}
	return p, nil
}

func (r *PGRepository) MarkSettled(ctx context.Context, tx pgx.Tx, id, payout, round int64) error {
	const q = `
UPDATE policies
SET status = 'settled',
    payout = $2,
    settled_round = $3
WHERE id = $1
`
	tag, err := tx.Exec(ctx, q, id, payout, round)
	if err != nil {
		return fmt.Errorf("policy: mark settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("policy: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListByOwner(ctx context.Context, tx pgx.Tx, owner string) ([]Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE owner = $1 ORDER BY id`
	rows, err := tx.Query(ctx, q, owner)
	if err != nil {
		return nil, fmt.Errorf("policy: list by owner: %w", err)
	}
	defer rows.Close()

	var list []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(
			&p.ID,
			&p.Owner,
			&p.ZipCode,
			&p.T0,
			&p.T1,
			&p.Cap,
			&p.Direction,
			&p.Threshold,
			&p.Slope,
			&p.FeePaid,
			&p.Status,
			&p.Payout,
			&p.SettledRound,
			&p.CreatedRound,
		); err != nil {
			return nil, fmt.Errorf("policy: scan row: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policy: iterate rows: %w", err)
	}
	return list, nil
}

func (r *PGRepository) Count(ctx context.Context, tx pgx.Tx) (int64, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("policy: count: %w", err)
	}
	return n, nil
}
