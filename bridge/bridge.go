// Package bridge carries approved dispute outcomes into the insurance
// engine. The replayed settlement runs as a nested sub-transaction of
// the vote that resolved the dispute: when it fails, the resolution
// stands and the failure lands on a call ledger for monitoring and
// retry instead of rolling anything back.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cropshield/fault"
	"cropshield/rounds"
)

// Settler applies a settlement decision inside the caller's
// transaction. The insurance engine implements this; it authorizes the
// caller address against its configured dispute link.
type Settler interface {
	ApplySettlement(ctx context.Context, tx pgx.Tx, caller string, policyID int64, approved bool) (int64, error)
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Bridge struct {
	pool    TxBeginner
	settler Settler
	caller  string
	log     *zap.SugaredLogger
	round   func() int64
	newID   func() uuid.UUID
}

// New builds a Bridge that identifies itself to the insurance engine
// as caller.
func New(pool TxBeginner, settler Settler, caller string, log *zap.SugaredLogger, src rounds.Source) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Bridge{
		pool:    pool,
		settler: settler,
		caller:  caller,
		log:     log,
		round:   func() int64 { return 0 },
		newID:   uuid.New,
	}
	if src != nil {
		b.round = src.Current
	}
	return b
}

// WithIDGenerator overrides the call id source.
func (b *Bridge) WithIDGenerator(fn func() uuid.UUID) *Bridge {
	b.newID = fn
	return b
}

// Trigger replays the dispute outcome against the insurance engine
// inside a savepoint on tx and records the attempt on the call ledger.
// A failed replay is absorbed: the caller's transaction continues and
// only ledger bookkeeping errors propagate.
func (b *Bridge) Trigger(ctx context.Context, tx pgx.Tx, disputeID, policyID int64, approved bool) error {
	status, lastError, err := b.apply(ctx, tx, disputeID, policyID, approved)
	if err != nil {
		return err
	}
	return insertCall(ctx, tx, Call{
		ID:             b.newID(),
		DisputeID:      disputeID,
		PolicyID:       policyID,
		Approved:       approved,
		Status:         status,
		Attempts:       1,
		LastError:      lastError,
		RequestedRound: b.round(),
	})
}

// apply runs the nested settlement and classifies the outcome. State
// errors from the insurance side mean the replay can never succeed;
// anything else stays retryable.
func (b *Bridge) apply(ctx context.Context, tx pgx.Tx, disputeID, policyID int64, approved bool) (CallStatus, string, error) {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return "", "", fmt.Errorf("bridge: open savepoint: %w", err)
	}

	payout, serr := b.settler.ApplySettlement(ctx, nested, b.caller, policyID, approved)
	if serr == nil {
		if err := nested.Commit(ctx); err != nil {
			return "", "", fmt.Errorf("bridge: release savepoint: %w", err)
		}
		b.log.Infow("settlement replayed",
			"dispute_id", disputeID,
			"policy_id", policyID,
			"approved", approved,
			"payout", payout,
		)
		return CallSucceeded, "", nil
	}
	if err := nested.Rollback(ctx); err != nil {
		return "", "", fmt.Errorf("bridge: roll back savepoint: %w", err)
	}

	status := CallPending
	if fault.KindOf(serr) == fault.State {
		status = CallAbandoned
	}
	b.log.Errorw("settlement replay failed",
		"dispute_id", disputeID,
		"policy_id", policyID,
		"status", status,
		"error", serr,
	)
	return status, serr.Error(), nil
}

// Retry replays up to limit pending calls, each in its own
// transaction, oldest first. Concurrent retriers skip each other's
// claimed rows. Returns how many calls left the pending state.
func (b *Bridge) Retry(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}
	moved := 0
	for i := 0; i < limit; i++ {
		ok, err := b.retryOne(ctx)
		if err != nil {
			return moved, err
		}
		if !ok {
			break
		}
		moved++
	}
	return moved, nil
}

func (b *Bridge) retryOne(ctx context.Context) (bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("bridge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, ok, err := claimPending(ctx, tx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	status, lastError, err := b.apply(ctx, tx, c.DisputeID, c.PolicyID, c.Approved)
	if err != nil {
		return false, err
	}
	if err := updateCall(ctx, tx, c.ID, status, lastError); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("bridge: commit tx: %w", err)
	}
	return status != CallPending, nil
}

// Pending lists calls still awaiting a successful replay, oldest
// first.
func (b *Bridge) Pending(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + callColumns + ` FROM settlement_calls WHERE status = 'pending' ORDER BY requested_round, dispute_id LIMIT $1`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("bridge: list pending calls: %w", err)
	}
	defer rows.Close()

	var list []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(
			&c.ID,
			&c.DisputeID,
			&c.PolicyID,
			&c.Approved,
			&c.Status,
			&c.Attempts,
			&c.LastError,
			&c.RequestedRound,
		); err != nil {
			return nil, fmt.Errorf("bridge: scan call: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bridge: iterate calls: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bridge: commit tx: %w", err)
	}
	return list, nil
}

// ForDispute returns the settlement call recorded for one dispute.
func (b *Bridge) ForDispute(ctx context.Context, disputeID int64) (Call, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return Call{}, fmt.Errorf("bridge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + callColumns + ` FROM settlement_calls WHERE dispute_id = $1`
	c, err := scanCall(tx.QueryRow(ctx, q, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Call{}, ErrCallNotFound
		}
		return Call{}, fmt.Errorf("bridge: load call: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Call{}, fmt.Errorf("bridge: commit tx: %w", err)
	}
	return c, nil
}
