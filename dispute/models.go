// Package dispute implements the community arbitration side: juror
// registration, dispute cases with deterministic juror panels, voting
// with quorum resolution and the administrative archival of decided
// cases.
package dispute

// Status is the dispute state machine. A dispute leaves Active exactly
// once: to Approved or Rejected when the seventh vote lands, or to
// Expired when its deadline passes. Processed marks a decided case as
// archived.
type Status string

const (
	StatusActive    Status = "active"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusProcessed Status = "processed"
)

// Decided reports whether the case went through a vote resolution and
// is still awaiting archival.
func (s Status) Decided() bool { return s == StatusApproved || s == StatusRejected }

// Dispute is one contested settlement under community review.
type Dispute struct {
	ID              int64
	PolicyID        int64
	Claimant        string
	Reason          string
	Status          Status
	YesVotes        int64
	NoVotes         int64
	TotalVotes      int64
	VotingDeadline  int64
	ResolutionRound int64
	CreatedRound    int64
}

// Juror is a registered community arbiter.
type Juror struct {
	Address           string
	Reputation        int64
	TotalVotes        int64
	CorrectVotes      int64
	RegistrationRound int64
	LastVoteRound     int64
	StakedAmount      int64
}

// Vote is one juror's write-once ballot on a dispute.
type Vote struct {
	DisputeID int64
	Juror     string
	Approve   bool
	Round     int64
}

// Eligibility is the coarse juror classification returned by the
// eligibility probe. The numeric values are part of the public
// contract and are reported as-is over the CLI.
type Eligibility int64

const (
	EligibilityNotRegistered Eligibility = 0
	EligibilityTooNew        Eligibility = 1
	EligibilityLowReputation Eligibility = 2
	EligibilityEligible      Eligibility = 3
)

// Config is the singleton configuration row of the arbitration side.
type Config struct {
	Admin         string
	InsuranceLink string
	CreatedRound  int64
}
