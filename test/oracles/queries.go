// Package oracles holds the SQL invariant checks the stress harness
// evaluates while the actors run. A row returned by any oracle is a
// correctness violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_settle_exactly_once",
			SQL: `SELECT subject_id, COUNT(*) FROM events
                  WHERE subject_kind = 'policy'
                    AND kind IN ('settled_approved', 'settled_rejected')
                  GROUP BY subject_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_vote_counters_sum",
			SQL:  `SELECT id FROM disputes WHERE total_votes <> yes_votes + no_votes`,
		},
		{
			Name: "O3_quorum_resolution",
			SQL: `SELECT id, status, total_votes FROM disputes
                  WHERE (status IN ('approved', 'rejected') AND total_votes <> 7)
                     OR (status = 'active' AND total_votes >= 7)
                     OR total_votes > 7`,
		},
		{
			Name: "O4_majority_rule",
			SQL: `SELECT id, status, yes_votes FROM disputes
                  WHERE (status = 'approved' AND yes_votes < 4)
                     OR (status = 'rejected' AND yes_votes >= 4)`,
		},
		{
			Name: "O5_counters_match_ballots",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.total_votes <> (SELECT COUNT(*) FROM votes v WHERE v.dispute_id = d.id)
                     OR d.yes_votes <> (SELECT COUNT(*) FROM votes v WHERE v.dispute_id = d.id AND v.approve)`,
		},
		{
			Name: "O6_vote_cooldown",
			SQL: `WITH gaps AS (
                      SELECT juror, dispute_id, round,
                             LAG(round) OVER (PARTITION BY juror ORDER BY round, dispute_id) AS prev
                      FROM votes)
                  SELECT * FROM gaps WHERE prev IS NOT NULL AND round - prev < 10`,
		},
		{
			Name: "O7_payout_bounds",
			SQL: `SELECT id, payout, cap FROM policies
                  WHERE payout > cap
                     OR payout < 0
                     OR (status = 'unsettled' AND payout <> 0)
                     OR (status = 'unsettled' AND settled_round <> 0)`,
		},
		{
			Name: "O8_pool_never_negative",
			SQL:  `SELECT balance FROM policy_config WHERE balance < 0`,
		},
		{
			Name: "O9_bridge_ledger_consistent",
			SQL: `SELECT c.dispute_id FROM settlement_calls c
                  JOIN policies p ON p.id = c.policy_id
                  WHERE c.status = 'succeeded' AND p.status <> 'settled'`,
		},
		{
			Name: "O10_bridge_only_on_approval",
			SQL: `SELECT c.dispute_id FROM settlement_calls c
                  JOIN disputes d ON d.id = c.dispute_id
                  WHERE NOT c.approved
                     OR d.status NOT IN ('approved', 'processed')`,
		},
		{
			Name: "O11_stats_track_ballots",
			SQL: `SELECT s.votes_cast FROM dispute_stats s
                  WHERE s.votes_cast <> (SELECT COUNT(*) FROM votes)`,
		},
		{
			Name: "O12_stats_track_resolutions",
			SQL: `SELECT 1 FROM dispute_stats s
                  WHERE s.resolved_disputes <> (SELECT COUNT(*) FROM events WHERE kind = 'dispute_resolved')
                     OR s.rejected_disputes <> (SELECT COUNT(*) FROM events WHERE kind = 'dispute_rejected')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
