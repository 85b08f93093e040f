package dispute

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cropshield/audit"
	"cropshield/fault"
	"cropshield/rounds"
)

func newTestService(start int64) (*Service, *fakePool, *fakeRepo, *fakeRecorder, *rounds.Counter) {
	pool := &fakePool{}
	repo := newFakeRepo()
	rec := &fakeRecorder{}
	clock := rounds.NewCounter(start)
	svc := NewService(pool, repo, rec, clock)
	return svc, pool, repo, rec, clock
}

// seedPanel registers seven jurors, opens one active dispute and puts
// all seven on its panel, bypassing the service gates.
func seedPanel(repo *fakeRepo, disputeID, deadline int64) []string {
	jurors := make([]string, 7)
	for i := range jurors {
		jurors[i] = fmt.Sprintf("juror-%d", i+1)
		repo.jurors[jurors[i]] = &Juror{Address: jurors[i], Reputation: 100, RegistrationRound: 10, StakedAmount: 1_000_000}
	}
	repo.seedDispute(Dispute{ID: disputeID, PolicyID: 1, Claimant: "alice", Status: StatusActive, VotingDeadline: deadline, CreatedRound: 100})
	repo.assignments[disputeID] = append([]string(nil), jurors...)
	return jurors
}

func TestInitialize(t *testing.T) {
	svc, pool, repo, rec, _ := newTestService(3)

	if err := svc.Initialize(context.Background(), "admin"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if repo.cfg == nil || repo.cfg.Admin != "admin" || repo.cfg.CreatedRound != 3 {
		t.Fatalf("config row not seeded: %+v", repo.cfg)
	}
	if !rec.seeded {
		t.Errorf("expected statistics row to be seeded")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}

	if err := svc.Initialize(context.Background(), "admin"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestRegisterJuror(t *testing.T) {
	svc, pool, repo, rec, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin", CreatedRound: 0}

	clock.AdvanceTo(9)
	if err := svc.RegisterJuror(context.Background(), "juror-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("inside warm-up: got %v, want ErrNotReady", err)
	}
	if got := fault.KindOf(ErrNotReady); got != fault.State {
		t.Errorf("kind = %q, want state", got)
	}

	clock.AdvanceTo(10)
	if err := svc.RegisterJuror(context.Background(), "juror-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	j := repo.jurors["juror-1"]
	if j == nil {
		t.Fatalf("juror row missing")
	}
	if j.Reputation != 100 || j.StakedAmount != 1_000_000 || j.RegistrationRound != 10 || j.LastVoteRound != 0 {
		t.Errorf("unexpected juror row: %+v", j)
	}
	if len(rec.deltas) != 1 || rec.deltas[0].ActiveJurors != 1 {
		t.Errorf("unexpected deltas: %+v", rec.deltas)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != audit.KindJurorRegistered {
		t.Fatalf("events = %+v, want juror_registered", rec.events)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}

	if err := svc.RegisterJuror(context.Background(), "juror-1"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("repeat: got %v, want ErrAlreadyRegistered", err)
	}
}

func TestCreate(t *testing.T) {
	svc, _, repo, rec, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin", CreatedRound: 0}
	for i := 0; i < 12; i++ {
		addr := fmt.Sprintf("juror-%02d", i)
		repo.jurors[addr] = &Juror{Address: addr, Reputation: 100}
	}

	clock.AdvanceTo(49)
	if _, err := svc.Create(context.Background(), "juror-00", 5, "bad reading"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("inside warm-up: got %v, want ErrNotReady", err)
	}

	clock.AdvanceTo(60)
	if _, err := svc.Create(context.Background(), "outsider", 5, "bad reading"); !errors.Is(err, ErrNotJuror) {
		t.Fatalf("unregistered caller: got %v, want ErrNotJuror", err)
	}
	if got := fault.KindOf(ErrNotJuror); got != fault.Authorization {
		t.Errorf("kind = %q, want authorization", got)
	}

	id, err := svc.Create(context.Background(), "juror-00", 5, "bad reading")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d := repo.disputes[id]
	if d == nil {
		t.Fatalf("dispute row missing")
	}
	if d.PolicyID != 5 || d.Claimant != "juror-00" || d.Status != StatusActive {
		t.Errorf("unexpected row: %+v", d)
	}
	if d.VotingDeadline != 1060 {
		t.Errorf("deadline = %d, want round+1000", d.VotingDeadline)
	}
	if len(repo.assignments[id]) != 10 {
		t.Errorf("panel size = %d, want 10 of the 12 registered", len(repo.assignments[id]))
	}
	if len(rec.deltas) != 1 || rec.deltas[0].TotalDisputes != 1 {
		t.Errorf("unexpected deltas: %+v", rec.deltas)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != audit.KindDisputeCreated {
		t.Fatalf("events = %+v, want dispute_created", rec.events)
	}
}

func TestOpenForPolicy(t *testing.T) {
	svc, _, repo, rec, _ := newTestService(0)
	// No config gate, no juror gate: the insurance side vouches for
	// the claimant.
	tx := &fakeTx{}

	id, err := svc.OpenForPolicy(context.Background(), tx, "alice", 9, "sensor gap", 700)
	if err != nil {
		t.Fatalf("open for policy: %v", err)
	}
	d := repo.disputes[id]
	if d == nil || d.Claimant != "alice" || d.PolicyID != 9 || d.CreatedRound != 700 {
		t.Fatalf("unexpected row: %+v", d)
	}
	if d.VotingDeadline != 1700 {
		t.Errorf("deadline = %d, want 1700", d.VotingDeadline)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != audit.KindDisputeCreated {
		t.Fatalf("events = %+v, want dispute_created", rec.events)
	}
}

func TestVoteApprovedAtQuorum(t *testing.T) {
	svc, pool, repo, rec, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	trigger := &fakeTrigger{}
	svc.WithSettlements(trigger)
	jurors := seedPanel(repo, 1, 1200)
	clock.AdvanceTo(150)

	// Four approvals, then three rejections: the seventh ballot
	// reaches quorum with yes >= 4.
	for i, approve := range []bool{true, true, true, true, false, false, false} {
		if err := svc.Vote(context.Background(), jurors[i], 1, approve); err != nil {
			t.Fatalf("vote %d: %v", i+1, err)
		}
	}

	d := repo.disputes[1]
	if d.Status != StatusApproved {
		t.Fatalf("status = %q, want approved", d.Status)
	}
	if d.YesVotes != 4 || d.NoVotes != 3 || d.TotalVotes != 7 {
		t.Errorf("counts = %d/%d/%d, want 4/3/7", d.YesVotes, d.NoVotes, d.TotalVotes)
	}
	if d.ResolutionRound != 150 {
		t.Errorf("resolution round = %d, want 150", d.ResolutionRound)
	}

	if trigger.calls != 1 {
		t.Fatalf("trigger calls = %d, want exactly 1", trigger.calls)
	}
	if trigger.disputeID != 1 || trigger.policyID != 1 || !trigger.approved {
		t.Errorf("unexpected trigger args: %+v", trigger)
	}
	if trigger.tx != pool.tx {
		t.Errorf("settlement must ride the voting transaction")
	}

	// The resolution event lands before the seventh vote_cast event.
	n := len(rec.events)
	if n < 2 || rec.events[n-2].Kind != audit.KindDisputeResolved || rec.events[n-1].Kind != audit.KindVoteCast {
		t.Fatalf("tail events = %v, want dispute_resolved then vote_cast", kinds(rec.events))
	}

	var resolved, votesCast int64
	for _, d := range rec.deltas {
		resolved += d.ResolvedDisputes
		votesCast += d.VotesCast
	}
	if resolved != 1 || votesCast != 7 {
		t.Errorf("deltas: resolved = %d votes = %d, want 1 and 7", resolved, votesCast)
	}
}

func TestVoteRejectedAtQuorum(t *testing.T) {
	svc, _, repo, rec, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	trigger := &fakeTrigger{}
	svc.WithSettlements(trigger)
	jurors := seedPanel(repo, 1, 1200)
	clock.AdvanceTo(150)

	for i, approve := range []bool{true, true, true, false, false, false, false} {
		if err := svc.Vote(context.Background(), jurors[i], 1, approve); err != nil {
			t.Fatalf("vote %d: %v", i+1, err)
		}
	}

	d := repo.disputes[1]
	if d.Status != StatusRejected {
		t.Fatalf("status = %q, want rejected", d.Status)
	}
	if trigger.calls != 0 {
		t.Errorf("trigger calls = %d, a rejection must not reach the insurance side", trigger.calls)
	}

	n := len(rec.events)
	if n < 2 || rec.events[n-2].Kind != audit.KindDisputeRejected {
		t.Fatalf("tail events = %v, want dispute_rejected before the final vote_cast", kinds(rec.events))
	}

	var rejected int64
	for _, d := range rec.deltas {
		rejected += d.RejectedDisputes
	}
	if rejected != 1 {
		t.Errorf("rejected delta = %d, want 1", rejected)
	}
}

func TestVoteAfterResolutionRejected(t *testing.T) {
	svc, _, repo, _, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	jurors := seedPanel(repo, 1, 1200)
	// An eighth assigned juror who never gets to vote.
	repo.jurors["juror-8"] = &Juror{Address: "juror-8", Reputation: 100}
	repo.assignments[1] = append(repo.assignments[1], "juror-8")
	clock.AdvanceTo(150)

	for i, approve := range []bool{true, true, true, true, false, false, false} {
		if err := svc.Vote(context.Background(), jurors[i], 1, approve); err != nil {
			t.Fatalf("vote %d: %v", i+1, err)
		}
	}

	if err := svc.Vote(context.Background(), "juror-8", 1, true); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("late ballot: got %v, want ErrAlreadyResolved", err)
	}
	d := repo.disputes[1]
	if d.TotalVotes != 7 || d.YesVotes != 4 {
		t.Errorf("late ballot must not move counters: %d/%d", d.YesVotes, d.TotalVotes)
	}
}

func TestVoteGuards(t *testing.T) {
	t.Run("unknown dispute", func(t *testing.T) {
		svc, _, repo, _, clock := newTestService(0)
		repo.cfg = &Config{Admin: "admin"}
		seedPanel(repo, 1, 1200)
		clock.AdvanceTo(150)
		if err := svc.Vote(context.Background(), "juror-1", 9, true); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
	t.Run("not on the panel", func(t *testing.T) {
		svc, _, repo, _, clock := newTestService(0)
		repo.cfg = &Config{Admin: "admin"}
		seedPanel(repo, 1, 1200)
		clock.AdvanceTo(150)
		if err := svc.Vote(context.Background(), "outsider", 1, true); !errors.Is(err, ErrNotAssigned) {
			t.Fatalf("got %v, want ErrNotAssigned", err)
		}
		if got := fault.KindOf(ErrNotAssigned); got != fault.Authorization {
			t.Errorf("kind = %q, want authorization", got)
		}
	})
	t.Run("second ballot on same dispute", func(t *testing.T) {
		svc, _, repo, _, clock := newTestService(0)
		repo.cfg = &Config{Admin: "admin"}
		jurors := seedPanel(repo, 1, 1200)
		clock.AdvanceTo(150)
		if err := svc.Vote(context.Background(), jurors[0], 1, true); err != nil {
			t.Fatalf("first vote: %v", err)
		}
		clock.AdvanceTo(200)
		if err := svc.Vote(context.Background(), jurors[0], 1, false); !errors.Is(err, ErrAlreadyVoted) {
			t.Fatalf("got %v, want ErrAlreadyVoted", err)
		}
		if d := repo.disputes[1]; d.TotalVotes != 1 {
			t.Errorf("counters moved on rejected ballot: %+v", d)
		}
	})
	t.Run("cooldown across disputes", func(t *testing.T) {
		svc, _, repo, _, clock := newTestService(0)
		repo.cfg = &Config{Admin: "admin"}
		jurors := seedPanel(repo, 1, 1200)
		repo.seedDispute(Dispute{ID: 2, PolicyID: 3, Claimant: "bob", Status: StatusActive, VotingDeadline: 1200, CreatedRound: 100})
		repo.assignments[2] = append([]string(nil), jurors...)
		clock.AdvanceTo(150)
		if err := svc.Vote(context.Background(), jurors[0], 1, true); err != nil {
			t.Fatalf("first vote: %v", err)
		}
		clock.AdvanceTo(155)
		if err := svc.Vote(context.Background(), jurors[0], 2, true); !errors.Is(err, ErrTooSoon) {
			t.Fatalf("got %v, want ErrTooSoon five rounds later", err)
		}
		clock.AdvanceTo(160)
		if err := svc.Vote(context.Background(), jurors[0], 2, true); err != nil {
			t.Fatalf("cooldown elapsed, vote should land: %v", err)
		}
	})
	t.Run("past deadline expires the case", func(t *testing.T) {
		svc, pool, repo, _, clock := newTestService(0)
		repo.cfg = &Config{Admin: "admin"}
		jurors := seedPanel(repo, 1, 1200)
		clock.AdvanceTo(1201)
		if err := svc.Vote(context.Background(), jurors[0], 1, true); !errors.Is(err, ErrVotingExpired) {
			t.Fatalf("got %v, want ErrVotingExpired", err)
		}
		if repo.disputes[1].Status != StatusExpired {
			t.Errorf("status = %q, deadline passage must persist Expired", repo.disputes[1].Status)
		}
		// The expiry write survives even though the ballot failed.
		if !pool.tx.committed {
			t.Errorf("expected the expiry transition to commit")
		}
		if err := svc.Vote(context.Background(), jurors[1], 1, true); !errors.Is(err, ErrVotingExpired) {
			t.Fatalf("vote on expired case: got %v, want ErrVotingExpired", err)
		}
	})
}

func TestStatusPersistsExpiry(t *testing.T) {
	svc, _, repo, _, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	repo.seedDispute(Dispute{ID: 1, PolicyID: 1, Claimant: "alice", Status: StatusActive, VotingDeadline: 500, CreatedRound: 100})

	clock.AdvanceTo(500)
	st, err := svc.Status(context.Background(), 1)
	if err != nil || st != StatusActive {
		t.Fatalf("at the deadline: status = %q (%v), want active", st, err)
	}

	clock.AdvanceTo(501)
	st, err = svc.Status(context.Background(), 1)
	if err != nil || st != StatusExpired {
		t.Fatalf("past the deadline: status = %q (%v), want expired", st, err)
	}
	if repo.disputes[1].Status != StatusExpired {
		t.Errorf("expiry must be persisted, row still %q", repo.disputes[1].Status)
	}
}

func TestArchive(t *testing.T) {
	svc, _, repo, _, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	repo.seedDispute(Dispute{ID: 1, Status: StatusApproved})
	repo.seedDispute(Dispute{ID: 2, Status: StatusActive})
	clock.AdvanceTo(100)

	if err := svc.Archive(context.Background(), "mallory", 1); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("got %v, want ErrNotAdmin", err)
	}
	if err := svc.Archive(context.Background(), "admin", 2); !errors.Is(err, ErrNotDecided) {
		t.Fatalf("active case: got %v, want ErrNotDecided", err)
	}
	if err := svc.Archive(context.Background(), "admin", 1); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if repo.disputes[1].Status != StatusProcessed {
		t.Errorf("status = %q, want processed", repo.disputes[1].Status)
	}
	if err := svc.Archive(context.Background(), "admin", 1); !errors.Is(err, ErrNotDecided) {
		t.Fatalf("second archive: got %v, want ErrNotDecided", err)
	}
}

func TestAssignedTo(t *testing.T) {
	svc, _, repo, _, _ := newTestService(200)
	jurors := seedPanel(repo, 1, 500)
	repo.seedDispute(Dispute{ID: 2, PolicyID: 2, Claimant: "bob", Status: StatusActive, VotingDeadline: 500, CreatedRound: 150})
	repo.assignments[2] = []string{jurors[0], jurors[2]}

	ids, err := svc.AssignedTo(context.Background(), jurors[0])
	if err != nil {
		t.Fatalf("assigned to: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("docket = %v, want [1 2]", ids)
	}

	ids, err = svc.AssignedTo(context.Background(), jurors[1])
	if err != nil {
		t.Fatalf("assigned to: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("docket = %v, want [1]", ids)
	}

	if _, err := svc.AssignedTo(context.Background(), "stranger"); !errors.Is(err, ErrJurorNotFound) {
		t.Fatalf("got %v, want ErrJurorNotFound", err)
	}
}

func TestEligibility(t *testing.T) {
	svc, _, repo, _, clock := newTestService(0)
	repo.cfg = &Config{Admin: "admin"}
	repo.jurors["young"] = &Juror{Address: "young", Reputation: 100, RegistrationRound: 80}
	repo.jurors["shamed"] = &Juror{Address: "shamed", Reputation: 5, RegistrationRound: 10}
	repo.jurors["solid"] = &Juror{Address: "solid", Reputation: 100, RegistrationRound: 10}
	clock.AdvanceTo(100)

	cases := []struct {
		addr string
		want Eligibility
	}{
		{"ghost", EligibilityNotRegistered},
		{"young", EligibilityTooNew},
		{"shamed", EligibilityLowReputation},
		{"solid", EligibilityEligible},
	}
	for _, tc := range cases {
		got, err := svc.Eligibility(context.Background(), tc.addr)
		if err != nil {
			t.Fatalf("eligibility(%s): %v", tc.addr, err)
		}
		if got != tc.want {
			t.Errorf("eligibility(%s) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}

func kinds(events []audit.EventParams) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

type fakeRepo struct {
	cfg         *Config
	jurors      map[string]*Juror
	disputes    map[int64]*Dispute
	assignments map[int64][]string
	votes       map[int64]map[string]Vote
	nextID      int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jurors:      make(map[string]*Juror),
		disputes:    make(map[int64]*Dispute),
		assignments: make(map[int64][]string),
		votes:       make(map[int64]map[string]Vote),
	}
}

func (f *fakeRepo) seedDispute(d Dispute) {
	cp := d
	f.disputes[d.ID] = &cp
	if d.ID > f.nextID {
		f.nextID = d.ID
	}
}

func (f *fakeRepo) InsertConfig(ctx context.Context, tx pgx.Tx, cfg Config) error {
	if f.cfg != nil {
		return ErrAlreadyInitialized
	}
	cp := cfg
	f.cfg = &cp
	return nil
}

func (f *fakeRepo) Config(ctx context.Context, tx pgx.Tx, forUpdate bool) (Config, error) {
	if f.cfg == nil {
		return Config{}, ErrNotInitialized
	}
	return *f.cfg, nil
}

func (f *fakeRepo) SetInsuranceLink(ctx context.Context, tx pgx.Tx, addr string) error {
	f.cfg.InsuranceLink = addr
	return nil
}

func (f *fakeRepo) InsertJuror(ctx context.Context, tx pgx.Tx, j Juror) error {
	if _, ok := f.jurors[j.Address]; ok {
		return ErrAlreadyRegistered
	}
	cp := j
	f.jurors[j.Address] = &cp
	return nil
}

func (f *fakeRepo) GetJuror(ctx context.Context, tx pgx.Tx, addr string, forUpdate bool) (Juror, error) {
	j, ok := f.jurors[addr]
	if !ok {
		return Juror{}, ErrJurorNotFound
	}
	return *j, nil
}

func (f *fakeRepo) TouchJuror(ctx context.Context, tx pgx.Tx, addr string, round int64) error {
	j, ok := f.jurors[addr]
	if !ok {
		return ErrJurorNotFound
	}
	j.TotalVotes++
	j.LastVoteRound = round
	return nil
}

func (f *fakeRepo) ListJurorAddresses(ctx context.Context, tx pgx.Tx) ([]string, error) {
	var addrs []string
	for a := range f.jurors {
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (int64, error) {
	f.nextID++
	d.ID = f.nextID
	f.disputes[d.ID] = &d
	return d.ID, nil
}

func (f *fakeRepo) Get(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (Dispute, error) {
	d, ok := f.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return *d, nil
}

func (f *fakeRepo) AssignJurors(ctx context.Context, tx pgx.Tx, disputeID int64, addrs []string) error {
	f.assignments[disputeID] = append([]string(nil), addrs...)
	return nil
}

func (f *fakeRepo) IsAssigned(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error) {
	for _, a := range f.assignments[disputeID] {
		if a == addr {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) Assignments(ctx context.Context, tx pgx.Tx, disputeID int64) ([]string, error) {
	return append([]string(nil), f.assignments[disputeID]...), nil
}

func (f *fakeRepo) AssignedDisputes(ctx context.Context, tx pgx.Tx, addr string) ([]int64, error) {
	var ids []int64
	for id := int64(1); id <= f.nextID; id++ {
		for _, a := range f.assignments[id] {
			if a == addr {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeRepo) HasVoted(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error) {
	_, ok := f.votes[disputeID][addr]
	return ok, nil
}

func (f *fakeRepo) InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error {
	if _, ok := f.votes[v.DisputeID][v.Juror]; ok {
		return ErrAlreadyVoted
	}
	if f.votes[v.DisputeID] == nil {
		f.votes[v.DisputeID] = make(map[string]Vote)
	}
	f.votes[v.DisputeID][v.Juror] = v
	return nil
}

func (f *fakeRepo) BumpVotes(ctx context.Context, tx pgx.Tx, disputeID int64, approve bool) (Dispute, error) {
	d, ok := f.disputes[disputeID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	if approve {
		d.YesVotes++
	} else {
		d.NoVotes++
	}
	d.TotalVotes++
	return *d, nil
}

func (f *fakeRepo) Resolve(ctx context.Context, tx pgx.Tx, disputeID int64, status Status, round int64) error {
	d, ok := f.disputes[disputeID]
	if !ok || d.Status != StatusActive {
		return fmt.Errorf("dispute: resolve: case %d is not active", disputeID)
	}
	d.Status = status
	d.ResolutionRound = round
	return nil
}

func (f *fakeRepo) MarkExpired(ctx context.Context, tx pgx.Tx, disputeID int64) error {
	d, ok := f.disputes[disputeID]
	if !ok || d.Status != StatusActive {
		return fmt.Errorf("dispute: mark expired: case %d is not active", disputeID)
	}
	d.Status = StatusExpired
	return nil
}

func (f *fakeRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, disputeID int64) error {
	d, ok := f.disputes[disputeID]
	if !ok || !d.Status.Decided() {
		return fmt.Errorf("dispute: mark processed: case %d is not decided", disputeID)
	}
	d.Status = StatusProcessed
	return nil
}

func (f *fakeRepo) ListActive(ctx context.Context, tx pgx.Tx) ([]Dispute, error) {
	var list []Dispute
	for id := int64(1); id <= f.nextID; id++ {
		d, ok := f.disputes[id]
		if ok && d.Status == StatusActive {
			list = append(list, *d)
		}
	}
	return list, nil
}

type fakeRecorder struct {
	seeded bool
	deltas []audit.DisputeDeltas
	events []audit.EventParams
	nextID int64
}

func (f *fakeRecorder) SeedDispute(ctx context.Context, tx pgx.Tx) error {
	f.seeded = true
	return nil
}

func (f *fakeRecorder) BumpDispute(ctx context.Context, tx pgx.Tx, d audit.DisputeDeltas) error {
	f.deltas = append(f.deltas, d)
	return nil
}

func (f *fakeRecorder) Append(ctx context.Context, tx pgx.Tx, p audit.EventParams) (int64, error) {
	f.events = append(f.events, p)
	f.nextID++
	return f.nextID, nil
}

type fakeTrigger struct {
	tx        pgx.Tx
	disputeID int64
	policyID  int64
	approved  bool
	calls     int
	err       error
}

func (f *fakeTrigger) Trigger(ctx context.Context, tx pgx.Tx, disputeID, policyID int64, approved bool) error {
	f.calls++
	f.tx = tx
	f.disputeID = disputeID
	f.policyID = policyID
	f.approved = approved
	return f.err
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
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

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
