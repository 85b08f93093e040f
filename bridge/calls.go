package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrCallNotFound is returned when no settlement call exists for the
// dispute.
var ErrCallNotFound = errors.New("bridge: settlement call not found")

// CallStatus tracks one settlement replay on the call ledger.
type CallStatus string

const (
	// CallSucceeded: the insurance side accepted the replay.
	CallSucceeded CallStatus = "succeeded"
	// CallPending: the replay failed for a reason a retry may cure.
	CallPending CallStatus = "pending"
	// CallAbandoned: the replay can never succeed, typically because
	// the policy was already settled through the oracle path.
	CallAbandoned CallStatus = "abandoned"
)

// Call is one recorded settlement replay attempt chain. The dispute id
// is unique on the ledger: retries update the original row.
type Call struct {
	ID             uuid.UUID
	DisputeID      int64
	PolicyID       int64
	Approved       bool
	Status         CallStatus
	Attempts       int64
	LastError      string
	RequestedRound int64
}

const callColumns = `id, dispute_id, policy_id, approved, status, attempts, last_error, requested_round`

func insertCall(ctx context.Context, tx pgx.Tx, c Call) error {
	const q = `
INSERT INTO settlement_calls (id, dispute_id, policy_id, approved, status, attempts, last_error, requested_round)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	if _, err := tx.Exec(ctx, q,
		c.ID,
		c.DisputeID,
		c.PolicyID,
		c.Approved,
		c.Status,
		c.Attempts,
		c.LastError,
		c.RequestedRound,
	); err != nil {
		return fmt.Errorf("bridge: record call: %w", err)
	}
	return nil
}

func updateCall(ctx context.Context, tx pgx.Tx, id uuid.UUID, status CallStatus, lastError string) error {
	const q = `
UPDATE settlement_calls
SET status = $2,
    attempts = attempts + 1,
    last_error = $3
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id, status, lastError); err != nil {
		return fmt.Errorf("bridge: update call: %w", err)
	}
	return nil
}

func scanCall(row pgx.Row) (Call, error) {
	var c Call
	err := row.Scan(
		&c.ID,
		&c.DisputeID,
		&c.PolicyID,
		&c.Approved,
		&c.Status,
		&c.Attempts,
		&c.LastError,
		&c.RequestedRound,
	)
	return c, err
}

// claimPending locks the oldest pending call on the caller's
// transaction, skipping rows other retriers already hold.
func claimPending(ctx context.Context, tx pgx.Tx) (Call, bool, error) {
	const q = `
SELECT ` + callColumns + `
FROM settlement_calls
WHERE status = 'pending'
ORDER BY requested_round, dispute_id
LIMIT 1
FOR UPDATE SKIP LOCKED
`
	c, err := scanCall(tx.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, fmt.Errorf("bridge: claim pending call: %w", err)
	}
	return c, true, nil
}
