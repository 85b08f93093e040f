package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cropshield/audit"
	"cropshield/config"
	"cropshield/fault"
	"cropshield/rounds"
)

var (
	ErrNotAdmin        = fault.New(fault.Authorization, "dispute: caller is not the admin")
	ErrNotJuror        = fault.New(fault.Authorization, "dispute: caller is not a registered juror")
	ErrNotAssigned     = fault.New(fault.Authorization, "dispute: caller is not on this dispute's panel")
	ErrNotReady        = fault.New(fault.State, "dispute: warm-up period has not elapsed")
	ErrVotingExpired   = fault.New(fault.State, "dispute: voting deadline has passed")
	ErrAlreadyResolved = fault.New(fault.State, "dispute: dispute already resolved")
	ErrTooSoon         = fault.New(fault.State, "dispute: juror cooldown has not elapsed")
	ErrNotDecided      = fault.New(fault.State, "dispute: only decided disputes can be archived")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service. All
// methods operate on the caller's transaction.
type Repository interface {
	InsertConfig(ctx context.Context, tx pgx.Tx, cfg Config) error
	Config(ctx context.Context, tx pgx.Tx, forUpdate bool) (Config, error)
	SetInsuranceLink(ctx context.Context, tx pgx.Tx, addr string) error
	InsertJuror(ctx context.Context, tx pgx.Tx, j Juror) error
	GetJuror(ctx context.Context, tx pgx.Tx, addr string, forUpdate bool) (Juror, error)
	TouchJuror(ctx context.Context, tx pgx.Tx, addr string, round int64) error
	ListJurorAddresses(ctx context.Context, tx pgx.Tx) ([]string, error)
	Insert(ctx context.Context, tx pgx.Tx, d Dispute) (int64, error)
	Get(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (Dispute, error)
	AssignJurors(ctx context.Context, tx pgx.Tx, disputeID int64, addrs []string) error
	IsAssigned(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error)
	Assignments(ctx context.Context, tx pgx.Tx, disputeID int64) ([]string, error)
	AssignedDisputes(ctx context.Context, tx pgx.Tx, addr string) ([]int64, error)
	HasVoted(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error)
	InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error
	BumpVotes(ctx context.Context, tx pgx.Tx, disputeID int64, approve bool) (Dispute, error)
	Resolve(ctx context.Context, tx pgx.Tx, disputeID int64, status Status, round int64) error
	MarkExpired(ctx context.Context, tx pgx.Tx, disputeID int64) error
	MarkProcessed(ctx context.Context, tx pgx.Tx, disputeID int64) error
	ListActive(ctx context.Context, tx pgx.Tx) ([]Dispute, error)
}

// Recorder appends audit events and maintains the running statistics
// inside the operation's transaction.
type Recorder interface {
	SeedDispute(ctx context.Context, tx pgx.Tx) error
	BumpDispute(ctx context.Context, tx pgx.Tx, d audit.DisputeDeltas) error
	Append(ctx context.Context, tx pgx.Tx, p audit.EventParams) (int64, error)
}

// SettlementTrigger hands an approved dispute outcome to the insurance
// side. The bridge implements this; the call runs inside the voting
// transaction but must not fail it when the replayed settlement is
// rejected over there.
type SettlementTrigger interface {
	Trigger(ctx context.Context, tx pgx.Tx, disputeID, policyID int64, approved bool) error
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	rec         Recorder
	settlements SettlementTrigger
	params      config.Params
	round       func() int64
}

func NewService(pool TxBeginner, repo Repository, rec Recorder, src rounds.Source) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if rec == nil {
		rec = audit.NewRecorder()
	}
	s := &Service{
		pool:   pool,
		repo:   repo,
		rec:    rec,
		params: config.DefaultParams(),
		round:  func() int64 { return 0 },
	}
	if src != nil {
		s.round = src.Current
	}
	return s
}

// WithParams overrides the default protocol parameters.
func (s *Service) WithParams(p config.Params) *Service {
	s.params = p
	return s
}

// WithSettlements links the bridge invoked when a dispute resolves
// approved.
func (s *Service) WithSettlements(t SettlementTrigger) *Service {
	s.settlements = t
	return s
}

// Initialize seeds the configuration and statistics rows. It fails if
// the engine was already initialized.
func (s *Service) Initialize(ctx context.Context, admin string) error {
	if admin == "" {
		return fmt.Errorf("dispute: missing admin address")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertConfig(ctx, tx, Config{Admin: admin, CreatedRound: s.round()}); err != nil {
		return err
	}
	if err := s.rec.SeedDispute(ctx, tx); err != nil && !errors.Is(err, audit.ErrStatsExist) {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit tx: %w", err)
	}
	return nil
}

// SetInsuranceLink records the insurance engine address this side
// replays settlements against. Admin only.
func (s *Service) SetInsuranceLink(ctx context.Context, caller, addr string) error {
	if addr == "" {
		return fmt.Errorf("dispute: missing address")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, true)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrNotAdmin
	}
	if err := s.repo.SetInsuranceLink(ctx, tx, addr); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit tx: %w", err)
	}
	return nil
}

// RegisterJuror enrols caller as a community arbiter with the starting
// reputation and stake. Registration opens a warm-up period after the
// engine's creation and is one-time per address.
func (s *Service) RegisterJuror(ctx context.Context, caller string) error {
	if caller == "" {
		return fmt.Errorf("dispute: missing caller address")
	}
	round := s.round()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return err
	}
	if round < cfg.CreatedRound+s.params.JurorWarmupRounds {
		return ErrNotReady
	}

	if err := s.repo.InsertJuror(ctx, tx, Juror{
		Address:           caller,
		Reputation:        s.params.InitialReputation,
		RegistrationRound: round,
		StakedAmount:      s.params.InitialStake,
	}); err != nil {
		return err
	}
	if err := s.rec.BumpDispute(ctx, tx, audit.DisputeDeltas{ActiveJurors: 1}); err != nil {
		return err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindJurorRegistered,
		SubjectKind: audit.SubjectSystem,
		Actor:       caller,
		Round:       round,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit tx: %w", err)
	}
	return nil
}

// Create opens a dispute on a policy at a registered juror's
// initiative. The insurance side is not consulted; the case stands on
// its own and the panel is drawn from the registry as of this round.
func (s *Service) Create(ctx context.Context, caller string, policyID int64, reason string) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("dispute: missing caller address")
	}
	round := s.round()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return 0, err
	}
	if round < cfg.CreatedRound+s.params.DisputeWarmupRounds {
		return 0, ErrNotReady
	}
	if _, err := s.repo.GetJuror(ctx, tx, caller, false); err != nil {
		if errors.Is(err, ErrJurorNotFound) {
			return 0, ErrNotJuror
		}
		return 0, err
	}

	id, err := s.openTx(ctx, tx, caller, policyID, reason, round)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return id, nil
}

// OpenForPolicy opens a dispute inside the caller's transaction on
// behalf of the insurance side, which has already verified the
// claimant owns the settled policy. No juror or warm-up gate applies
// on this path.
func (s *Service) OpenForPolicy(ctx context.Context, tx pgx.Tx, claimant string, policyID int64, reason string, round int64) (int64, error) {
	return s.openTx(ctx, tx, claimant, policyID, reason, round)
}

func (s *Service) openTx(ctx context.Context, tx pgx.Tx, claimant string, policyID int64, reason string, round int64) (int64, error) {
	id, err := s.repo.Insert(ctx, tx, Dispute{
		PolicyID:       policyID,
		Claimant:       claimant,
		Reason:         reason,
		Status:         StatusActive,
		VotingDeadline: round + s.params.VotingRounds,
		CreatedRound:   round,
	})
	if err != nil {
		return 0, err
	}

	candidates, err := s.repo.ListJurorAddresses(ctx, tx)
	if err != nil {
		return 0, err
	}
	panel := Pick(Seed(id, round), candidates, s.params.SelectionSize)
	if err := s.repo.AssignJurors(ctx, tx, id, panel); err != nil {
		return 0, err
	}

	if err := s.rec.BumpDispute(ctx, tx, audit.DisputeDeltas{TotalDisputes: 1}); err != nil {
		return 0, err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindDisputeCreated,
		SubjectKind: audit.SubjectDispute,
		SubjectID:   id,
		Actor:       claimant,
		Round:       round,
		Detail: map[string]any{
			"policy_id": policyID,
			"reason":    reason,
			"panel":     len(panel),
		},
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// Vote casts caller's ballot on a dispute. The seventh accepted ballot
// resolves the case on the spot: at least four approvals carry it,
// anything less rejects it, and an approval is handed to the insurance
// side through the settlement bridge. Ballots after resolution or past
// the deadline are rejected.
func (s *Service) Vote(ctx context.Context, caller string, disputeID int64, approve bool) error {
	if caller == "" {
		return fmt.Errorf("dispute: missing caller address")
	}
	round := s.round()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Get(ctx, tx, disputeID, true)
	if err != nil {
		return err
	}
	if d.Status == StatusActive && round > d.VotingDeadline {
		// The deadline transition is persisted even though the vote is
		// rejected; expiry is an observation of elapsed rounds, not an
		// effect of this ballot.
		if err := s.repo.MarkExpired(ctx, tx, disputeID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("dispute: commit tx: %w", err)
		}
		return ErrVotingExpired
	}
	if d.Status != StatusActive {
		if d.Status == StatusExpired {
			return ErrVotingExpired
		}
		return ErrAlreadyResolved
	}

	assigned, err := s.repo.IsAssigned(ctx, tx, disputeID, caller)
	if err != nil {
		return err
	}
	if !assigned {
		return ErrNotAssigned
	}
	voted, err := s.repo.HasVoted(ctx, tx, disputeID, caller)
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}

	j, err := s.repo.GetJuror(ctx, tx, caller, true)
	if err != nil {
		return err
	}
	if j.LastVoteRound > 0 && round-j.LastVoteRound < s.params.CooldownRounds {
		return ErrTooSoon
	}

	if err := s.repo.InsertVote(ctx, tx, Vote{
		DisputeID: disputeID,
		Juror:     caller,
		Approve:   approve,
		Round:     round,
	}); err != nil {
		return err
	}
	d, err = s.repo.BumpVotes(ctx, tx, disputeID, approve)
	if err != nil {
		return err
	}
	if err := s.repo.TouchJuror(ctx, tx, caller, round); err != nil {
		return err
	}
	if err := s.rec.BumpDispute(ctx, tx, audit.DisputeDeltas{VotesCast: 1}); err != nil {
		return err
	}

	if d.TotalVotes == s.params.Quorum {
		if err := s.resolveTx(ctx, tx, d, round); err != nil {
			return err
		}
	}

	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindVoteCast,
		SubjectKind: audit.SubjectDispute,
		SubjectID:   disputeID,
		Actor:       caller,
		Round:       round,
		Detail:      map[string]any{"approve": approve},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit tx: %w", err)
	}
	return nil
}

// resolveTx settles the outcome at the exact moment quorum is reached.
// The counts in d are the ones this transaction just wrote, so the
// majority evaluation cannot race later ballots.
func (s *Service) resolveTx(ctx context.Context, tx pgx.Tx, d Dispute, round int64) error {
	approved := d.YesVotes >= s.params.Majority
	status := StatusRejected
	kind := audit.KindDisputeRejected
	deltas := audit.DisputeDeltas{RejectedDisputes: 1}
	if approved {
		status = StatusApproved
		kind = audit.KindDisputeResolved
		deltas = audit.DisputeDeltas{ResolvedDisputes: 1}
	}

	if err := s.repo.Resolve(ctx, tx, d.ID, status, round); err != nil {
		return err
	}
	if err := s.rec.BumpDispute(ctx, tx, deltas); err != nil {
		return err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        kind,
		SubjectKind: audit.SubjectDispute,
		SubjectID:   d.ID,
		Actor:       d.Claimant,
		Round:       round,
		Detail: map[string]any{
			"policy_id": d.PolicyID,
			"yes_votes": d.YesVotes,
			"no_votes":  d.NoVotes,
			"approved":  approved,
		},
	}); err != nil {
		return err
	}

	if approved && s.settlements != nil {
		if err := s.settlements.Trigger(ctx, tx, d.ID, d.PolicyID, true); err != nil {
			return err
		}
	}
	return nil
}

// Status reports a dispute's current state, first persisting the
// Expired transition when the deadline has passed unresolved.
func (s *Service) Status(ctx context.Context, disputeID int64) (Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Get(ctx, tx, disputeID, true)
	if err != nil {
		return "", err
	}
	status := d.Status
	if d.Status == StatusActive && s.round() > d.VotingDeadline {
		if err := s.repo.MarkExpired(ctx, tx, disputeID); err != nil {
			return "", err
		}
		status = StatusExpired
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("dispute: commit tx: %w", err)
	}
	return status, nil
}

// Archive moves a decided dispute to Processed. Admin only.
func (s *Service) Archive(ctx context.Context, caller string, disputeID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrNotAdmin
	}

	d, err := s.repo.Get(ctx, tx, disputeID, true)
	if err != nil {
		return err
	}
	if !d.Status.Decided() {
		return ErrNotDecided
	}
	if err := s.repo.MarkProcessed(ctx, tx, disputeID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit tx: %w", err)
	}
	return nil
}

// Eligibility classifies an address against the juror requirements at
// the current round.
func (s *Service) Eligibility(ctx context.Context, addr string) (Eligibility, error) {
	j, err := s.Juror(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrJurorNotFound) {
			return EligibilityNotRegistered, nil
		}
		return EligibilityNotRegistered, err
	}
	switch {
	case s.round()-j.RegistrationRound < s.params.JurorMinAgeRounds:
		return EligibilityTooNew, nil
	case j.Reputation < s.params.MinReputation:
		return EligibilityLowReputation, nil
	default:
		return EligibilityEligible, nil
	}
}

// Get returns one dispute by id without touching its state.
func (s *Service) Get(ctx context.Context, disputeID int64) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Get(ctx, tx, disputeID, false)
	if err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return d, nil
}

// Juror returns one juror by address.
func (s *Service) Juror(ctx context.Context, addr string) (Juror, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Juror{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetJuror(ctx, tx, addr, false)
	if err != nil {
		return Juror{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Juror{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return j, nil
}

// Active lists disputes still collecting votes, oldest first.
func (s *Service) Active(ctx context.Context) ([]Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	list, err := s.repo.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return list, nil
}

// AssignedTo lists the dispute ids a juror sits on, oldest first. The
// juror must exist; an empty docket returns an empty slice.
func (s *Service) AssignedTo(ctx context.Context, addr string) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetJuror(ctx, tx, addr, false); err != nil {
		return nil, err
	}
	ids, err := s.repo.AssignedDisputes(ctx, tx, addr)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return ids, nil
}

// Panel lists the jurors assigned to a dispute in selection order.
func (s *Service) Panel(ctx context.Context, disputeID int64) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.Get(ctx, tx, disputeID, false); err != nil {
		return nil, err
	}
	addrs, err := s.repo.Assignments(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return addrs, nil
}
