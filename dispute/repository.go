package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cropshield/fault"
)

var (
	// ErrNotFound is returned when no dispute row exists for the id.
	ErrNotFound = fault.New(fault.State, "dispute: dispute not found")
	// ErrJurorNotFound is returned when the address was never registered.
	ErrJurorNotFound = fault.New(fault.State, "dispute: juror not found")
	// ErrNotInitialized is returned when the configuration row is missing.
	ErrNotInitialized = fault.New(fault.State, "dispute: engine not initialized")
	// ErrAlreadyInitialized signals a second Initialize hit the singleton guard.
	ErrAlreadyInitialized = fault.New(fault.State, "dispute: engine already initialized")
	// ErrAlreadyRegistered signals a repeat juror registration.
	ErrAlreadyRegistered = fault.New(fault.State, "dispute: juror already registered")
	// ErrAlreadyVoted signals a second ballot on the same dispute.
	ErrAlreadyVoted = fault.New(fault.State, "dispute: juror already voted on this dispute")
)

const disputeColumns = `id, policy_id, claimant, reason, status, yes_votes, no_votes, total_votes, voting_deadline, resolution_round, created_round`

// PGRepository persists disputes, jurors, ballots and panel
// assignments. It is stateless; every method runs on the transaction
// it is handed.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) InsertConfig(ctx context.Context, tx pgx.Tx, cfg Config) error {
	const q = `
INSERT INTO dispute_config (id, admin, insurance_link, created_round)
VALUES (1, $1, '', $2)
`
	if _, err := tx.Exec(ctx, q, cfg.Admin, cfg.CreatedRound); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("dispute: insert config: %w", err)
	}
	return nil
}

func (r *PGRepository) Config(ctx context.Context, tx pgx.Tx, forUpdate bool) (Config, error) {
	q := `SELECT admin, insurance_link, created_round FROM dispute_config WHERE id = 1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var cfg Config
	if err := tx.QueryRow(ctx, q).Scan(&cfg.Admin, &cfg.InsuranceLink, &cfg.CreatedRound); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("dispute: load config: %w", err)
	}
	return cfg, nil
}

func (r *PGRepository) SetInsuranceLink(ctx context.Context, tx pgx.Tx, addr string) error {
	if _, err := tx.Exec(ctx, `UPDATE dispute_config SET insurance_link = $1 WHERE id = 1`, addr); err != nil {
		return fmt.Errorf("dispute: set insurance link: %w", err)
	}
	return nil
}

func (r *PGRepository) InsertJuror(ctx context.Context, tx pgx.Tx, j Juror) error {
	const q = `
INSERT INTO jurors (address, reputation, total_votes, correct_votes, registration_round, last_vote_round, staked_amount)
VALUES ($1, $2, 0, 0, $3, 0, $4)
`
	if _, err := tx.Exec(ctx, q, j.Address, j.Reputation, j.RegistrationRound, j.StakedAmount); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("dispute: insert juror: %w", err)
	}
	return nil
}

func (r *PGRepository) GetJuror(ctx context.Context, tx pgx.Tx, addr string, forUpdate bool) (Juror, error) {
	q := `SELECT address, reputation, total_votes, correct_votes, registration_round, last_vote_round, staked_amount FROM jurors WHERE address = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var j Juror
	if err := tx.QueryRow(ctx, q, addr).Scan(
		&j.Address,
		&j.Reputation,
		&j.TotalVotes,
		&j.CorrectVotes,
		&j.RegistrationRound,
		&j.LastVoteRound,
		&j.StakedAmount,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Juror{}, ErrJurorNotFound
		}
		return Juror{}, fmt.Errorf("dispute: load juror: %w", err)
	}
	return j, nil
}

// TouchJuror records one more cast ballot for the juror.
func (r *PGRepository) TouchJuror(ctx context.Context, tx pgx.Tx, addr string, round int64) error {
	const q = `
UPDATE jurors
SET total_votes = total_votes + 1,
    last_vote_round = $2
WHERE address = $1
`
	tag, err := tx.Exec(ctx, q, addr, round)
	if err != nil {
		return fmt.Errorf("dispute: touch juror: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJurorNotFound
	}
	return nil
}

// ListJurorAddresses enumerates the registry in address order so
// panel selection sees a stable candidate set.
func (r *PGRepository) ListJurorAddresses(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT address FROM jurors ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("dispute: list jurors: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("dispute: scan juror: %w", err)
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate jurors: %w", err)
	}
	return addrs, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (int64, error) {
	const q = `
INSERT INTO disputes (policy_id, claimant, reason, status, yes_votes, no_votes, total_votes, voting_deadline, resolution_round, created_round)
VALUES ($1, $2, $3, $4, 0, 0, 0, $5, 0, $6)
RETURNING id
`
	var id int64
	if err := tx.QueryRow(ctx, q,
		d.PolicyID,
		d.Claimant,
		d.Reason,
		d.Status,
		d.VotingDeadline,
		d.CreatedRound,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("dispute: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (Dispute, error) {
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var d Dispute
	if err := tx.QueryRow(ctx, q, id).Scan(
		&d.ID,
		&d.PolicyID,
		&d.Claimant,
		&d.Reason,
		&d.Status,
		&d.YesVotes,
		&d.NoVotes,
		&d.TotalVotes,
		&d.VotingDeadline,
		&d.ResolutionRound,
		&d.CreatedRound,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: load: %w", err)
	}
	return d, nil
}

func (r *PGRepository) AssignJurors(ctx context.Context, tx pgx.Tx, disputeID int64, addrs []string) error {
	const q = `INSERT INTO dispute_jurors (dispute_id, juror, position) VALUES ($1, $2, $3)`
	for i, addr := range addrs {
		if _, err := tx.Exec(ctx, q, disputeID, addr, i); err != nil {
			return fmt.Errorf("dispute: assign juror: %w", err)
		}
	}
	return nil
}

func (r *PGRepository) IsAssigned(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error) {
	var assigned bool
	const q = `SELECT EXISTS (SELECT 1 FROM dispute_jurors WHERE dispute_id = $1 AND juror = $2)`
	if err := tx.QueryRow(ctx, q, disputeID, addr).Scan(&assigned); err != nil {
		return false, fmt.Errorf("dispute: check assignment: %w", err)
	}
	return assigned, nil
}

func (r *PGRepository) Assignments(ctx context.Context, tx pgx.Tx, disputeID int64) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT juror FROM dispute_jurors WHERE dispute_id = $1 ORDER BY position`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list assignments: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("dispute: scan assignment: %w", err)
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate assignments: %w", err)
	}
	return addrs, nil
}

// AssignedDisputes lists the dispute ids a juror sits on, oldest
// first.
func (r *PGRepository) AssignedDisputes(ctx context.Context, tx pgx.Tx, addr string) ([]int64, error) {
	rows, err := tx.Query(ctx, `SELECT dispute_id FROM dispute_jurors WHERE juror = $1 ORDER BY dispute_id`, addr)
	if err != nil {
		return nil, fmt.Errorf("dispute: list assigned disputes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dispute: scan assigned dispute: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate assigned disputes: %w", err)
	}
	return ids, nil
}

func (r *PGRepository) HasVoted(ctx context.Context, tx pgx.Tx, disputeID int64, addr string) (bool, error) {
	var voted bool
	const q = `SELECT EXISTS (SELECT 1 FROM votes WHERE dispute_id = $1 AND juror = $2)`
	if err := tx.QueryRow(ctx, q, disputeID, addr).Scan(&voted); err != nil {
		return false, fmt.Errorf("dispute: check ballot: %w", err)
	}
	return voted, nil
}

func (r *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error {
	const q = `INSERT INTO votes (dispute_id, juror, approve, round) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, q, v.DisputeID, v.Juror, v.Approve, v.Round); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("dispute: insert vote: %w", err)
	}
	return nil
}

// BumpVotes applies one ballot to the dispute counters and returns the
// updated row, so the caller can evaluate quorum on exactly the state
// it wrote.
func (r *PGRepository) BumpVotes(ctx context.Context, tx pgx.Tx, disputeID int64, approve bool) (Dispute, error) {
	const q = `
UPDATE disputes
SET yes_votes = yes_votes + CASE WHEN $2 THEN 1 ELSE 0 END,
    no_votes = no_votes + CASE WHEN $2 THEN 0 ELSE 1 END,
    total_votes = total_votes + 1
WHERE id = $1
RETURNING ` + disputeColumns

	var d Dispute
	if err := tx.QueryRow(ctx, q, disputeID, approve).Scan(
		&d.ID,
		&d.PolicyID,
		&d.Claimant,
		&d.Reason,
		&d.Status,
		&d.YesVotes,
		&d.NoVotes,
		&d.TotalVotes,
		&d.VotingDeadline,
		&d.ResolutionRound,
		&d.CreatedRound,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: bump votes: %w", err)
	}
	return d, nil
}

// Resolve moves an active dispute to its voted outcome. The status
// guard is in the WHERE clause so a resolved case can never be
// resolved again.
func (r *PGRepository) Resolve(ctx context.Context, tx pgx.Tx, disputeID int64, status Status, round int64) error {
	const q = `
UPDATE disputes
SET status = $2,
    resolution_round = $3
WHERE id = $1 AND status = 'active'
`
	tag, err := tx.Exec(ctx, q, disputeID, status, round)
	if err != nil {
		return fmt.Errorf("dispute: resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute: resolve: case %d is not active", disputeID)
	}
	return nil
}

func (r *PGRepository) MarkExpired(ctx context.Context, tx pgx.Tx, disputeID int64) error {
	tag, err := tx.Exec(ctx, `UPDATE disputes SET status = 'expired' WHERE id = $1 AND status = 'active'`, disputeID)
	if err != nil {
		return fmt.Errorf("dispute: mark expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute: mark expired: case %d is not active", disputeID)
	}
	return nil
}

func (r *PGRepository) MarkProcessed(ctx context.Context, tx pgx.Tx, disputeID int64) error {
	const q = `UPDATE disputes SET status = 'processed' WHERE id = $1 AND status IN ('approved', 'rejected')`
	tag, err := tx.Exec(ctx, q, disputeID)
	if err != nil {
		return fmt.Errorf("dispute: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute: mark processed: case %d is not decided", disputeID)
	}
	return nil
}

func (r *PGRepository) ListActive(ctx context.Context, tx pgx.Tx) ([]Dispute, error) {
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE status = 'active' ORDER BY id`
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("dispute: list active: %w", err)
	}
	defer rows.Close()

	var list []Dispute
	for rows.Next() {
		var d Dispute
		if err := rows.Scan(
			&d.ID,
			&d.PolicyID,
			&d.Claimant,
			&d.Reason,
			&d.Status,
			&d.YesVotes,
			&d.NoVotes,
			&d.TotalVotes,
			&d.VotingDeadline,
			&d.ResolutionRound,
			&d.CreatedRound,
		); err != nil {
			return nil, fmt.Errorf("dispute: scan row: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate rows: %w", err)
	}
	return list, nil
}
