package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStatsExist signals the singleton counter row was already seeded.
	ErrStatsExist = errors.New("audit: stats row already seeded")
)

// Recorder appends events and applies counter deltas inside the caller's
// transaction. The event append and the stat update are two independent
// writes; they share the transaction's fate but are never reconciled
// against each other afterward.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append inserts one event and returns the allocated id.
func (r *Recorder) Append(ctx context.Context, tx pgx.Tx, p EventParams) (int64, error) {
	if p.Kind == "" {
		return 0, fmt.Errorf("audit: missing event kind")
	}
	if p.SubjectKind == "" {
		return 0, fmt.Errorf("audit: missing subject kind")
	}

	detail := p.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal detail: %w", err)
	}

	const q = `
INSERT INTO events (kind, subject_kind, subject_id, actor, round, amount, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
RETURNING id
`
	var id int64
	if err := tx.QueryRow(ctx, q, p.Kind, p.SubjectKind, p.SubjectID, p.Actor, p.Round, p.Amount, body).Scan(&id); err != nil {
		return 0, fmt.Errorf("audit: append event: %w", err)
	}
	return id, nil
}

// SeedInsurance inserts the zeroed insurance counter row.
func (r *Recorder) SeedInsurance(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `INSERT INTO insurance_stats (id) VALUES (1)`)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStatsExist
		}
		return fmt.Errorf("audit: seed insurance stats: %w", err)
	}
	return nil
}

// SeedDispute inserts the zeroed dispute counter row.
func (r *Recorder) SeedDispute(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `INSERT INTO dispute_stats (id) VALUES (1)`)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStatsExist
		}
		return fmt.Errorf("audit: seed dispute stats: %w", err)
	}
	return nil
}

// BumpInsurance applies the deltas to the insurance counters.
func (r *Recorder) BumpInsurance(ctx context.Context, tx pgx.Tx, d InsuranceDeltas) error {
	const q = `
UPDATE insurance_stats
SET total_policies  = total_policies + $1,
    total_coverage  = total_coverage + $2,
    total_payouts   = total_payouts + $3,
    active_policies = active_policies + $4,
    total_fees      = total_fees + $5
WHERE id = 1
`
	tag, err := tx.Exec(ctx, q, d.TotalPolicies, d.TotalCoverage, d.TotalPayouts, d.ActivePolicies, d.TotalFees)
	if err != nil {
		return fmt.Errorf("audit: bump insurance stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit: insurance stats row missing")
	}
	return nil
}

// BumpDispute applies the deltas to the dispute counters.
func (r *Recorder) BumpDispute(ctx context.Context, tx pgx.Tx, d DisputeDeltas) error {
	const q = `
UPDATE dispute_stats
SET total_disputes    = total_disputes + $1,
    resolved_disputes = resolved_disputes + $2,
    rejected_disputes = rejected_disputes + $3,
    votes_cast        = votes_cast + $4,
    active_jurors     = active_jurors + $5
WHERE id = 1
`
	tag, err := tx.Exec(ctx, q, d.TotalDisputes, d.ResolvedDisputes, d.RejectedDisputes, d.VotesCast, d.ActiveJurors)
	if err != nil {
		return fmt.Errorf("audit: bump dispute stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit: dispute stats row missing")
	}
	return nil
}
