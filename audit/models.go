package audit

// Event is one append-only audit record. IDs are allocated by the store
// and increase monotonically across both engines.
type Event struct {
	ID          int64
	Kind        string
	SubjectKind string
	SubjectID   int64
	Actor       string
	Round       int64
	Amount      int64
	Detail      []byte
}

// Event kinds. The strings are part of the persisted format.
const (
	KindContractCreated = "contract_created"
	KindPolicyCreated   = "policy_created"
	KindSettledApproved = "settled_approved"
	KindSettledRejected = "settled_rejected"
	KindDisputed        = "disputed"
	KindJurorRegistered = "juror_registered"
	KindDisputeCreated  = "dispute_created"
	KindVoteCast        = "vote_cast"
	KindDisputeResolved = "dispute_resolved"
	KindDisputeRejected = "dispute_rejected"
)

// Subject kinds.
const (
	SubjectSystem  = "system"
	SubjectPolicy  = "policy"
	SubjectDispute = "dispute"
)

// InsuranceStats mirrors the insurance_stats singleton row.
type InsuranceStats struct {
	TotalPolicies  int64
	TotalCoverage  int64
	TotalPayouts   int64
	ActivePolicies int64
	TotalFees      int64
}

// DisputeStats mirrors the dispute_stats singleton row.
type DisputeStats struct {
	TotalDisputes    int64
	ResolvedDisputes int64
	RejectedDisputes int64
	VotesCast        int64
	ActiveJurors     int64
}

// Statistics bundles both counter rows for the read-only query surface.
type Statistics struct {
	Insurance InsuranceStats
	Dispute   DisputeStats
}

// InsuranceDeltas enumerates counter bumps applied in one UPDATE.
type InsuranceDeltas struct {
	TotalPolicies  int64
	TotalCoverage  int64
	TotalPayouts   int64
	ActivePolicies int64
	TotalFees      int64
}

// DisputeDeltas enumerates counter bumps applied in one UPDATE.
type DisputeDeltas struct {
	TotalDisputes    int64
	ResolvedDisputes int64
	RejectedDisputes int64
	VotesCast        int64
	ActiveJurors     int64
}

// EventParams describes one append.
type EventParams struct {
	Kind        string
	SubjectKind string
	SubjectID   int64
	Actor       string
	Round       int64
	Amount      int64
	Detail      map[string]any
}
