package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEventNotFound = errors.New("audit: event not found")

// Queries is the read-only surface over events and counters.
type Queries struct {
	pool *pgxpool.Pool
}

func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const eventColumns = `id, kind, subject_kind, subject_id, actor, round, amount, detail`

func (q *Queries) Event(ctx context.Context, id int64) (Event, error) {
	var ev Event
	err := q.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Kind, &ev.SubjectKind, &ev.SubjectID, &ev.Actor, &ev.Round, &ev.Amount, &ev.Detail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("audit: get event: %w", err)
	}
	return ev, nil
}

// Recent returns up to limit events, newest first.
func (q *Queries) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := q.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.SubjectKind, &ev.SubjectID, &ev.Actor, &ev.Round, &ev.Amount, &ev.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return out, nil
}

// Statistics reads both counter rows. Rows missing before initialization
// read as zeroes.
func (q *Queries) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics

	err := q.pool.QueryRow(ctx, `
SELECT total_policies, total_coverage, total_payouts, active_policies, total_fees
FROM insurance_stats WHERE id = 1
`).Scan(&s.Insurance.TotalPolicies, &s.Insurance.TotalCoverage, &s.Insurance.TotalPayouts, &s.Insurance.ActivePolicies, &s.Insurance.TotalFees)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Statistics{}, fmt.Errorf("audit: insurance stats: %w", err)
	}

	err = q.pool.QueryRow(ctx, `
SELECT total_disputes, resolved_disputes, rejected_disputes, votes_cast, active_jurors
FROM dispute_stats WHERE id = 1
`).Scan(&s.Dispute.TotalDisputes, &s.Dispute.ResolvedDisputes, &s.Dispute.RejectedDisputes, &s.Dispute.VotesCast, &s.Dispute.ActiveJurors)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Statistics{}, fmt.Errorf("audit: dispute stats: %w", err)
	}

	return s, nil
}
