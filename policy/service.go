package policy

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
	ErrNotAdmin            = fault.New(fault.Authorization, "policy: caller is not the admin")
	ErrNotOracle           = fault.New(fault.Authorization, "policy: caller is not the oracle")
	ErrNotDisputeLink      = fault.New(fault.Authorization, "policy: caller is not the dispute engine")
	ErrNotOwner            = fault.New(fault.Authorization, "policy: caller does not own the policy")
	ErrWindowInverted      = fault.New(fault.Validation, "policy: coverage start must precede end")
	ErrCapNotPositive      = fault.New(fault.Validation, "policy: cap must be positive")
	ErrFeeNotPositive      = fault.New(fault.Validation, "policy: fee must be positive")
	ErrBadDirection        = fault.New(fault.Validation, "policy: direction must be below or above")
	ErrStartsTooSoon       = fault.New(fault.Validation, "policy: coverage must start after the current round")
	ErrCoverageTooShort    = fault.New(fault.Validation, "policy: coverage window below the minimum length")
	ErrBadFeeInput         = fault.New(fault.Validation, "policy: fee inputs must not be negative")
	ErrAmountNotPositive   = fault.New(fault.Validation, "policy: amount must be positive")
	ErrAlreadySettled      = fault.New(fault.State, "policy: policy already settled")
	ErrNotSettled          = fault.New(fault.State, "policy: policy not settled yet")
	ErrNotStarted          = fault.New(fault.State, "policy: coverage has not started")
	ErrCoverageOver        = fault.New(fault.State, "policy: coverage window has ended")
	ErrDisputeWindowClosed = fault.New(fault.State, "policy: dispute window has closed")
	ErrDisputesUnlinked    = fault.New(fault.State, "policy: no dispute engine linked")
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
	SetOracle(ctx context.Context, tx pgx.Tx, addr string) error
	SetDisputeLink(ctx context.Context, tx pgx.Tx, addr string) error
	Credit(ctx context.Context, tx pgx.Tx, amount int64) error
	Debit(ctx context.Context, tx pgx.Tx, amount int64) error
	Insert(ctx context.Context, tx pgx.Tx, p Policy) (int64, error)
	Get(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (Policy, error)
	MarkSettled(ctx context.Context, tx pgx.Tx, id, payout, round int64) error
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
	ListByOwner(ctx context.Context, tx pgx.Tx, owner string) ([]Policy, error)
	Count(ctx context.Context, tx pgx.Tx) (int64, error)
}

// Recorder appends audit events and maintains the running statistics
// inside the operation's transaction.
type Recorder interface {
	SeedInsurance(ctx context.Context, tx pgx.Tx) error
	BumpInsurance(ctx context.Context, tx pgx.Tx, d audit.InsuranceDeltas) error
	Append(ctx context.Context, tx pgx.Tx, p audit.EventParams) (int64, error)
}

// DisputeOpener files a dispute case inside the caller's transaction.
// The dispute engine implements this; wiring it is optional until
// owners actually contest settlements.
type DisputeOpener interface {
	OpenForPolicy(ctx context.Context, tx pgx.Tx, claimant string, policyID int64, reason string, round int64) (int64, error)
}

type Service struct {
	pool     TxBeginner
	repo     Repository
	rec      Recorder
	disputes DisputeOpener
	params   config.Params
	round    func() int64
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

// WithDisputes links the dispute engine used by FileDispute.
func (s *Service) WithDisputes(d DisputeOpener) *Service {
	s.disputes = d
	return s
}

// Initialize seeds the configuration and statistics rows and records
// the creation event. It fails if the engine was already initialized.
func (s *Service) Initialize(ctx context.Context, admin string) error {
	if admin == "" {
		return fmt.Errorf("policy: missing admin address")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	round := s.round()
	if err := s.repo.InsertConfig(ctx, tx, Config{Admin: admin, CreatedRound: round}); err != nil {
		return err
	}
	if err := s.rec.SeedInsurance(ctx, tx); err != nil && !errors.Is(err, audit.ErrStatsExist) {
		return err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindContractCreated,
		SubjectKind: audit.SubjectSystem,
		Actor:       admin,
		Round:       round,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("policy: commit tx: %w", err)
	}
	return nil
}

// SetOracle records the address allowed to settle policies. Admin only.
func (s *Service) SetOracle(ctx context.Context, caller, addr string) error {
	return s.updateLink(ctx, caller, addr, s.repo.SetOracle)
}

// SetDisputeLink records the dispute engine address allowed to replay
// settlements after a community vote. Admin only.
func (s *Service) SetDisputeLink(ctx context.Context, caller, addr string) error {
	return s.updateLink(ctx, caller, addr, s.repo.SetDisputeLink)
}

func (s *Service) updateLink(ctx context.Context, caller, addr string, set func(context.Context, pgx.Tx, string) error) error {
	if addr == "" {
		return fmt.Errorf("policy: missing address")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, true)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrNotAdmin
	}
	if err := set(ctx, tx, addr); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("policy: commit tx: %w", err)
	}
	return nil
}

// Fund credits the premium pool that payouts are drawn from.
func (s *Service) Fund(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.Config(ctx, tx, false); err != nil {
		return err
	}
	if err := s.repo.Credit(ctx, tx, amount); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("policy: commit tx: %w", err)
	}
	return nil
}

// Create issues a new policy for caller. The coverage window is
// validated against the current round, the paid fee joins the premium
// pool, and the statistics and event log are updated in the same
// transaction as the policy row.
func (s *Service) Create(ctx context.Context, caller string, p CreateParams) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("policy: missing caller address")
	}
	if p.T0 >= p.T1 {
		return 0, ErrWindowInverted
	}
	if p.Cap <= 0 {
		return 0, ErrCapNotPositive
	}
	if p.Fee <= 0 {
		return 0, ErrFeeNotPositive
	}
	if p.Direction != DirectionBelow && p.Direction != DirectionAbove {
		return 0, ErrBadDirection
	}
	round := s.round()
	if p.T0 <= round {
		return 0, ErrStartsTooSoon
	}
	if p.T1 <= p.T0+s.params.MinCoverageRounds {
		return 0, ErrCoverageTooShort
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.Config(ctx, tx, false); err != nil {
		return 0, err
	}

	id, err := s.repo.Insert(ctx, tx, Policy{
		Owner:        caller,
		ZipCode:      p.ZipCode,
		T0:           p.T0,
		T1:           p.T1,
		Cap:          p.Cap,
		Direction:    p.Direction,
		Threshold:    p.Threshold,
		Slope:        p.Slope,
		FeePaid:      p.Fee,
		Status:       StatusUnsettled,
		CreatedRound: round,
	})
	if err != nil {
		return 0, err
	}
	if err := s.repo.Credit(ctx, tx, p.Fee); err != nil {
		return 0, err
	}
	if err := s.rec.BumpInsurance(ctx, tx, audit.InsuranceDeltas{
		TotalPolicies:  1,
		TotalCoverage:  p.Cap,
		ActivePolicies: 1,
		TotalFees:      p.Fee,
	}); err != nil {
		return 0, err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindPolicyCreated,
		SubjectKind: audit.SubjectPolicy,
		SubjectID:   id,
		Actor:       caller,
		Round:       round,
		Amount:      p.Cap,
		Detail: map[string]any{
			"zip_code": p.ZipCode,
			"t0":       p.T0,
			"t1":       p.T1,
			"fee":      p.Fee,
		},
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("policy: commit tx: %w", err)
	}
	return id, nil
}

// Settle records the oracle's decision for a policy inside the
// coverage window. An approved decision pays the full cap out of the
// premium pool; a rejected one settles at zero. Either way the policy
// leaves the active set. Returns the payout amount.
func (s *Service) Settle(ctx context.Context, caller string, policyID int64, approved bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return 0, err
	}
	if cfg.Oracle == "" || caller != cfg.Oracle {
		return 0, ErrNotOracle
	}

	payout, err := s.settleTx(ctx, tx, policyID, approved)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("policy: commit tx: %w", err)
	}
	return payout, nil
}

// ApplySettlement replays a settlement decision on behalf of the
// dispute engine, inside the caller's transaction. Only the linked
// dispute address may invoke it; a second application fails with
// ErrAlreadySettled, which makes retries of a half-finished dispute
// resolution idempotent.
func (s *Service) ApplySettlement(ctx context.Context, tx pgx.Tx, caller string, policyID int64, approved bool) (int64, error) {
	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return 0, err
	}
	if cfg.DisputeLink == "" || caller != cfg.DisputeLink {
		return 0, ErrNotDisputeLink
	}
	return s.settleTx(ctx, tx, policyID, approved)
}

// settleTx is the settlement core shared by the oracle path and the
// dispute replay path. The policy row is locked for the duration.
func (s *Service) settleTx(ctx context.Context, tx pgx.Tx, policyID int64, approved bool) (int64, error) {
	round := s.round()

	p, err := s.repo.Get(ctx, tx, policyID, true)
	if err != nil {
		return 0, err
	}
	if p.Settled() {
		return 0, ErrAlreadySettled
	}
	if round < p.T0 {
		return 0, ErrNotStarted
	}
	if round > p.T1 {
		return 0, ErrCoverageOver
	}

	var payout int64
	kind := audit.KindSettledRejected
	if approved {
		payout = p.Cap
		kind = audit.KindSettledApproved
		if err := s.repo.Debit(ctx, tx, payout); err != nil {
			return 0, err
		}
	}
	if err := s.repo.MarkSettled(ctx, tx, policyID, payout, round); err != nil {
		return 0, err
	}
	if err := s.rec.BumpInsurance(ctx, tx, audit.InsuranceDeltas{
		TotalPayouts:   payout,
		ActivePolicies: -1,
	}); err != nil {
		return 0, err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        kind,
		SubjectKind: audit.SubjectPolicy,
		SubjectID:   policyID,
		Actor:       p.Owner,
		Round:       round,
		Amount:      payout,
	}); err != nil {
		return 0, err
	}
	return payout, nil
}

// FileDispute lets a policy owner contest a settled policy. The
// dispute case is opened by the dispute engine inside the same
// transaction, so either both sides record the dispute or neither
// does. Returns the new dispute id.
func (s *Service) FileDispute(ctx context.Context, caller string, policyID int64, reason string) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("policy: missing caller address")
	}
	if s.disputes == nil {
		return 0, ErrDisputesUnlinked
	}
	round := s.round()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.Get(ctx, tx, policyID, true)
	if err != nil {
		return 0, err
	}
	if caller != p.Owner {
		return 0, ErrNotOwner
	}
	if !p.Settled() {
		return 0, ErrNotSettled
	}
	if round > p.SettledRound+s.params.DisputeWindowRounds {
		return 0, ErrDisputeWindowClosed
	}

	disputeID, err := s.disputes.OpenForPolicy(ctx, tx, caller, policyID, reason, round)
	if err != nil {
		return 0, err
	}
	if _, err := s.rec.Append(ctx, tx, audit.EventParams{
		Kind:        audit.KindDisputed,
		SubjectKind: audit.SubjectPolicy,
		SubjectID:   policyID,
		Actor:       caller,
		Round:       round,
		Detail: map[string]any{
			"dispute_id": disputeID,
			"reason":     reason,
		},
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("policy: commit tx: %w", err)
	}
	return disputeID, nil
}

// Delete removes an unsettled policy. Owner only. Deletion mirrors the
// ledger's historical behavior: the row disappears but the running
// statistics keep counting it and no event is appended.
func (s *Service) Delete(ctx context.Context, caller string, policyID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.Get(ctx, tx, policyID, true)
	if err != nil {
		return err
	}
	if caller != p.Owner {
		return ErrNotOwner
	}
	if p.Settled() {
		return ErrAlreadySettled
	}
	if err := s.repo.Delete(ctx, tx, policyID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("policy: commit tx: %w", err)
	}
	return nil
}

// QuoteFee prices a coverage request without touching storage.
func (s *Service) QuoteFee(capAmount, riskScore, uncertainty, durationDays int64) (int64, error) {
	if capAmount <= 0 {
		return 0, ErrCapNotPositive
	}
	if riskScore < 0 || uncertainty < 0 || durationDays < 0 {
		return 0, ErrBadFeeInput
	}
	return quoteFee(capAmount, riskScore, uncertainty, durationDays, s.params.MinFee), nil
}

// ValidateTiming classifies a policy against the current round. A
// missing policy reports TimingNotFound rather than an error so the
// probe can be used on speculative ids.
func (s *Service) ValidateTiming(ctx context.Context, policyID int64) (TimingStatus, error) {
	p, err := s.Get(ctx, policyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TimingNotFound, nil
		}
		return TimingNotFound, err
	}
	round := s.round()
	switch {
	case p.Settled():
		return TimingSettled, nil
	case round < p.T0:
		return TimingNotStarted, nil
	case round > p.T1:
		return TimingExpired, nil
	default:
		return TimingActive, nil
	}
}

// Get returns one policy by id.
func (s *Service) Get(ctx context.Context, policyID int64) (Policy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.Get(ctx, tx, policyID, false)
	if err != nil {
		return Policy{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Policy{}, fmt.Errorf("policy: commit tx: %w", err)
	}
	return p, nil
}

// ByOwner lists all policies held by one owner, oldest first.
func (s *Service) ByOwner(ctx context.Context, owner string) ([]Policy, error) {
	if owner == "" {
		return nil, fmt.Errorf("policy: missing owner address")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	list, err := s.repo.ListByOwner(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("policy: commit tx: %w", err)
	}
	return list, nil
}

// Count reports how many policies currently exist.
func (s *Service) Count(ctx context.Context) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := s.repo.Count(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("policy: commit tx: %w", err)
	}
	return n, nil
}

// Globals returns the configuration row, including the premium pool
// balance.
func (s *Service) Globals(ctx context.Context) (Config, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("policy: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Config(ctx, tx, false)
	if err != nil {
		return Config{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("policy: commit tx: %w", err)
	}
	return cfg, nil
}
