// Package policy implements the parametric insurance core: policy
// issuance, oracle settlement, owner-filed disputes and the settlement
// entry point used by the dispute side after a community vote.
//
// Every operation runs inside a single database transaction that the
// service owns. Repositories only ever see a pgx.Tx, so a failure at
// any step rolls the whole operation back.
package policy

// SettlementStatus tracks whether a policy has been settled by the
// oracle (or by a dispute resolution replaying the settlement).
type SettlementStatus string

const (
	StatusUnsettled SettlementStatus = "unsettled"
	StatusSettled   SettlementStatus = "settled"
)

// Direction states which side of the threshold triggers a payout for
// the insured peril, e.g. rainfall below 20mm or heat above 40C.
type Direction string

const (
	DirectionBelow Direction = "below"
	DirectionAbove Direction = "above"
)

// TimingStatus is the coarse timing classification returned by
// ValidateTiming. The numeric values are part of the public contract
// and are reported as-is over the CLI.
type TimingStatus int64

const (
	TimingNotFound   TimingStatus = 0
	TimingActive     TimingStatus = 1
	TimingSettled    TimingStatus = 2
	TimingNotStarted TimingStatus = 3
	TimingExpired    TimingStatus = 4
)

// Policy is one parametric coverage agreement. Rounds are logical
// ticks supplied by the caller's round source, not wall-clock time.
type Policy struct {
	ID           int64
	Owner        string
	ZipCode      string
	T0           int64
	T1           int64
	Cap          int64
	Direction    Direction
	Threshold    int64
	Slope        int64
	FeePaid      int64
	Status       SettlementStatus
	Payout       int64
	SettledRound int64
	CreatedRound int64
}

// Settled reports whether the policy has already been paid out or
// formally rejected by the oracle.
func (p Policy) Settled() bool { return p.Status == StatusSettled }

// CreateParams carries the caller-supplied fields for a new policy.
type CreateParams struct {
	ZipCode   string
	T0        int64
	T1        int64
	Cap       int64
	Direction Direction
	Threshold int64
	Slope     int64
	Fee       int64
}

// Config is the singleton configuration row of the insurance side:
// the administrative address, the oracle allowed to settle, the
// dispute engine address allowed to replay settlements, and the
// premium pool balance payouts are drawn from.
type Config struct {
	Admin        string
	Oracle       string
	DisputeLink  string
	Balance      int64
	CreatedRound int64
}
