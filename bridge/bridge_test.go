package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cropshield/fault"
	"cropshield/rounds"
)

var testCallID = uuid.MustParse("6f1e87aa-52bd-4e0f-9a63-0d2b8a9c4711")

func newTestBridge(settler Settler) (*Bridge, *fakePool) {
	pool := &fakePool{}
	b := New(pool, settler, "dispute-bridge", nil, rounds.Fixed(150)).
		WithIDGenerator(func() uuid.UUID { return testCallID })
	return b, pool
}

func TestTriggerSuccess(t *testing.T) {
	settler := &fakeSettler{payout: 50_000}
	b, _ := newTestBridge(settler)
	outer := newFakeTx()

	if err := b.Trigger(context.Background(), outer, 7, 3, true); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if settler.calls != 1 {
		t.Fatalf("settler calls = %d, want 1", settler.calls)
	}
	if settler.caller != "dispute-bridge" || settler.policyID != 3 || !settler.approved {
		t.Errorf("unexpected settler args: %+v", settler)
	}
	if len(outer.children) != 1 {
		t.Fatalf("savepoints = %d, want 1", len(outer.children))
	}
	nested := outer.children[0]
	if settler.tx != pgx.Tx(nested) {
		t.Errorf("settlement must run on the savepoint, not the outer tx")
	}
	if !nested.committed || nested.rolled {
		t.Errorf("savepoint state = committed %v rolled %v, want released", nested.committed, nested.rolled)
	}

	rec := outer.findExec(t, "INSERT INTO settlement_calls")
	if got := rec.args[4].(CallStatus); got != CallSucceeded {
		t.Errorf("recorded status = %q, want succeeded", got)
	}
	if got := rec.args[6].(string); got != "" {
		t.Errorf("recorded error = %q, want empty", got)
	}
	if got := rec.args[7].(int64); got != 150 {
		t.Errorf("recorded round = %d, want 150", got)
	}
}

func TestTriggerAbsorbsUnreplayableFailure(t *testing.T) {
	already := fault.New(fault.State, "policy: policy already settled")
	settler := &fakeSettler{err: already}
	b, _ := newTestBridge(settler)
	outer := newFakeTx()

	// The dispute resolution that invoked us must survive: no error,
	// outer tx untouched, savepoint rolled back.
	if err := b.Trigger(context.Background(), outer, 7, 3, true); err != nil {
		t.Fatalf("trigger must absorb the settlement failure, got %v", err)
	}
	nested := outer.children[0]
	if !nested.rolled || nested.committed {
		t.Errorf("savepoint state = committed %v rolled %v, want rolled back", nested.committed, nested.rolled)
	}
	if outer.rolled {
		t.Errorf("outer transaction must not be rolled back")
	}

	rec := outer.findExec(t, "INSERT INTO settlement_calls")
	if got := rec.args[4].(CallStatus); got != CallAbandoned {
		t.Errorf("recorded status = %q, state errors are not retryable", got)
	}
	if got := rec.args[6].(string); got != already.Error() {
		t.Errorf("recorded error = %q, want %q", got, already.Error())
	}
}

func TestTriggerKeepsRetryableFailure(t *testing.T) {
	settler := &fakeSettler{err: errors.New("policy: load config: connection reset")}
	b, _ := newTestBridge(settler)
	outer := newFakeTx()

	if err := b.Trigger(context.Background(), outer, 7, 3, true); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	rec := outer.findExec(t, "INSERT INTO settlement_calls")
	if got := rec.args[4].(CallStatus); got != CallPending {
		t.Errorf("recorded status = %q, infrastructure failures stay pending", got)
	}
}

func TestRetryAppliesPendingCall(t *testing.T) {
	settler := &fakeSettler{payout: 50_000}
	b, pool := newTestBridge(settler)
	pool.pending = &Call{
		ID:             testCallID,
		DisputeID:      7,
		PolicyID:       3,
		Approved:       true,
		Status:         CallPending,
		Attempts:       1,
		LastError:      "policy: load config: connection reset",
		RequestedRound: 120,
	}

	moved, err := b.Retry(context.Background(), 10)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	if settler.calls != 1 || settler.policyID != 3 || !settler.approved {
		t.Errorf("unexpected settler usage: %+v", settler)
	}

	tx := pool.txs[0]
	rec := tx.findExec(t, "UPDATE settlement_calls")
	if got := rec.args[1].(CallStatus); got != CallSucceeded {
		t.Errorf("updated status = %q, want succeeded", got)
	}
	if !tx.committed {
		t.Errorf("expected commit")
	}

	// One more pass with an empty ledger finds nothing.
	pool.pending = nil
	moved, err = b.Retry(context.Background(), 10)
	if err != nil || moved != 0 {
		t.Fatalf("empty retry = %d (%v), want 0", moved, err)
	}
}

func TestRetryStopsOnStillFailingCall(t *testing.T) {
	settler := &fakeSettler{err: errors.New("policy: load config: connection reset")}
	b, pool := newTestBridge(settler)
	pool.pending = &Call{ID: testCallID, DisputeID: 7, PolicyID: 3, Approved: true, Status: CallPending}

	moved, err := b.Retry(context.Background(), 10)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if moved != 0 {
		t.Errorf("moved = %d, a still-pending call is not progress", moved)
	}
	if settler.calls != 1 {
		t.Errorf("settler calls = %d, want a single attempt before backing off", settler.calls)
	}
}

type fakeSettler struct {
	tx       pgx.Tx
	caller   string
	policyID int64
	approved bool
	payout   int64
	err      error
	calls    int
}

func (f *fakeSettler) ApplySettlement(ctx context.Context, tx pgx.Tx, caller string, policyID int64, approved bool) (int64, error) {
	f.calls++
	f.tx = tx
	f.caller = caller
	f.policyID = policyID
	f.approved = approved
	if f.err != nil {
		return 0, f.err
	}
	return f.payout, nil
}

type fakePool struct {
	pending *Call
	txs     []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := newFakeTx()
	tx.pool = f
	f.txs = append(f.txs, tx)
	return tx, nil
}

type execRecord struct {
	sql  string
	args []any
}

type fakeTx struct {
	pool      *fakePool
	rolled    bool
	committed bool
	children  []*fakeTx
	execs     []execRecord
}

func newFakeTx() *fakeTx {
	return &fakeTx{}
}

func (f *fakeTx) findExec(t *testing.T, prefix string) execRecord {
	t.Helper()
	for _, rec := range f.execs {
		if strings.Contains(rec.sql, prefix) {
			return rec
		}
	}
	t.Fatalf("no exec matching %q in %d recorded", prefix, len(f.execs))
	return execRecord{}
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	child := newFakeTx()
	child.pool = f.pool
	f.children = append(f.children, child)
	return child, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execRecord{sql: sql, args: args})
	if strings.Contains(sql, "UPDATE settlement_calls") && f.pool != nil {
		if st, ok := args[1].(CallStatus); ok && st != CallPending {
			f.pool.pending = nil
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "FROM settlement_calls") {
		if f.pool == nil || f.pool.pending == nil {
			return fakeRow{err: pgx.ErrNoRows}
		}
		c := *f.pool.pending
		return fakeRow{vals: []any{c.ID, c.DisputeID, c.PolicyID, c.Approved, c.Status, c.Attempts, c.LastError, c.RequestedRound}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d dests for %d values", len(dest), len(r.vals))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = r.vals[i].(uuid.UUID)
		case *int64:
			*d = r.vals[i].(int64)
		case *bool:
			*d = r.vals[i].(bool)
		case *string:
			*d = r.vals[i].(string)
		case *CallStatus:
			*d = r.vals[i].(CallStatus)
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
