// Package actors holds the concurrent workers of the stress harness.
// Each actor drives the real services in a loop until stopped, treating
// classified domain rejections as expected contention and anything else
// as a failure.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cropshield/bridge"
	"cropshield/dispute"
	"cropshield/fault"
	"cropshield/policy"
	"cropshield/rounds"
)

// Env bundles the shared fixtures every actor runs against.
type Env struct {
	Pool     *pgxpool.Pool
	Clock    *rounds.Counter
	Policies *policy.Service
	Disputes *dispute.Service
	Bridge   *bridge.Bridge
	Admin    string
	Oracle   string
}

// tolerable reports whether an actor should shrug the error off and
// keep going: classified domain rejections are the system working as
// designed, and transient transport faults are the chaos actor's doing.
func tolerable(err error) bool {
	if err == nil {
		return true
	}
	if fault.KindOf(err) != fault.KindUnknown {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "08006":
			// serialization failure, deadlock, terminated backend,
			// connection failure
			return true
		}
	}
	return pgconn.SafeToRetry(err)
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// Timekeeper stands in for the execution substrate: it advances the
// shared logical clock one round at a time.
func Timekeeper(ctx context.Context, env *Env, stop <-chan struct{}) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			env.Clock.Advance()
		}
	}
}

// Policyholder creates short policies and, once one of them settles,
// contests the settlement through the owner dispute path.
func Policyholder(ctx context.Context, env *Env, owner string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		round := env.Clock.Current()
		_, err := env.Policies.Create(ctx, owner, policy.CreateParams{
			ZipCode:   fmt.Sprintf("974%02d", rand.Intn(100)),
			T0:        round + int64(2+rand.Intn(10)),
			T1:        round + int64(150+rand.Intn(200)),
			Cap:       int64(10_000 + rand.Intn(90_000)),
			Direction: policy.DirectionBelow,
			Threshold: int64(rand.Intn(50)),
			Slope:     int64(1 + rand.Intn(10)),
			Fee:       int64(1_000 + rand.Intn(5_000)),
		})
		if !tolerable(err) {
			return fmt.Errorf("policyholder create: %w", err)
		}

		// contest the most recently settled own policy
		mine, err := env.Policies.ByOwner(ctx, owner)
		if !tolerable(err) {
			return fmt.Errorf("policyholder list: %w", err)
		}
		if err == nil {
			for i := len(mine) - 1; i >= 0; i-- {
				if mine[i].Settled() && rand.Intn(3) == 0 {
					_, err := env.Policies.FileDispute(ctx, owner, mine[i].ID, "payout contested")
					if !tolerable(err) {
						return fmt.Errorf("policyholder file dispute: %w", err)
					}
					break
				}
			}
		}
		pause(20, 60)
	}
}

// Weather plays the external oracle: it picks an unsettled policy whose
// coverage window contains the current round and settles it either way.
func Weather(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		round := env.Clock.Current()
		var id int64
		err := env.Pool.QueryRow(ctx, `
SELECT id FROM policies
WHERE status = 'unsettled' AND t0 <= $1 AND t1 >= $1
ORDER BY random() LIMIT 1
`, round).Scan(&id)
		switch {
		case err == nil:
			if _, err := env.Policies.Settle(ctx, env.Oracle, id, rand.Intn(2) == 0); !tolerable(err) {
				return fmt.Errorf("weather settle: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
		case !tolerable(err):
			return fmt.Errorf("weather pick: %w", err)
		}
		pause(15, 40)
	}
}

// Juror registers itself once the warm-up has elapsed, then votes on
// every active dispute it sits on and occasionally opens a dispute of
// its own.
func Juror(ctx context.Context, env *Env, addr string, stop <-chan struct{}) error {
	registered := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if !registered {
			err := env.Disputes.RegisterJuror(ctx, addr)
			switch {
			case err == nil, errors.Is(err, dispute.ErrAlreadyRegistered):
				registered = true
			case tolerable(err):
				pause(20, 30)
				continue
			default:
				return fmt.Errorf("juror register: %w", err)
			}
		}

		docket, err := env.Disputes.AssignedTo(ctx, addr)
		if !tolerable(err) {
			return fmt.Errorf("juror docket: %w", err)
		}
		for _, id := range docket {
			if err := env.Disputes.Vote(ctx, addr, id, rand.Intn(2) == 0); !tolerable(err) {
				return fmt.Errorf("juror vote: %w", err)
			}
		}

		if rand.Intn(10) == 0 {
			var policyID int64
			if err := env.Pool.QueryRow(ctx, `SELECT id FROM policies WHERE status = 'settled' ORDER BY random() LIMIT 1`).Scan(&policyID); err == nil {
				if _, err := env.Disputes.Create(ctx, addr, policyID, "juror-initiated review"); !tolerable(err) {
					return fmt.Errorf("juror create dispute: %w", err)
				}
			}
		}
		pause(25, 50)
	}
}

// Archiver plays the admin: it probes dispute statuses, persisting lazy
// expiry, and archives decided cases.
func Archiver(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rows, err := env.Pool.Query(ctx, `SELECT id FROM disputes WHERE status IN ('active', 'approved', 'rejected') ORDER BY id DESC LIMIT 20`)
		if err != nil {
			if !tolerable(err) {
				return fmt.Errorf("archiver list: %w", err)
			}
			pause(50, 50)
			continue
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()

		for _, id := range ids {
			st, err := env.Disputes.Status(ctx, id)
			if !tolerable(err) {
				return fmt.Errorf("archiver status: %w", err)
			}
			if err == nil && st.Decided() && rand.Intn(2) == 0 {
				if err := env.Disputes.Archive(ctx, env.Admin, id); !tolerable(err) {
					return fmt.Errorf("archiver archive: %w", err)
				}
			}
		}
		pause(100, 100)
	}
}

// Retrier replays pending bridge calls, the idempotent recovery path
// for settlements the insurance side rejected transiently.
func Retrier(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := env.Bridge.Retry(ctx, 5); !tolerable(err) {
			return fmt.Errorf("retrier: %w", err)
		}
		pause(150, 100)
	}
}
