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
			// A settled pouch's refund+earning rows must sum exactly to the
			// pinned amount: money neither leaks nor duplicates.
			Name: "O1_pouch_conservation",
			SQL: `SELECT p.id, p.amount, COALESCE(SUM(t.amount),0) AS settled
                  FROM pouches p
                  LEFT JOIN transactions t
                    ON t.appointment_id = p.appointment_id AND t.type IN ('refund','earning')
                  WHERE p.status <> 'holding'
                  GROUP BY p.id, p.amount
                  HAVING COALESCE(SUM(t.amount),0) <> p.amount`,
		},
		{
			// A holding pouch must have zero settlement rows.
			Name: "O2_holding_untouched",
			SQL: `SELECT p.id FROM pouches p
                  JOIN transactions t
                    ON t.appointment_id = p.appointment_id AND t.type IN ('refund','earning')
                  WHERE p.status = 'holding'
                  GROUP BY p.id HAVING COUNT(*) > 0`,
		},
		{
			// Completions forced by a dispute verdict never consume the code,
			// so resolved-dispute appointments are exempt.
			Name: "O3_completed_codes_consumed",
			SQL: `SELECT a.id FROM appointments a
                  WHERE a.status = 'completed'
                    AND (a.completion_code_used_at IS NULL OR a.completion_proof_url IS NULL)
                    AND NOT EXISTS (
                      SELECT 1 FROM disputes d
                      WHERE d.appointment_id = a.id AND d.resolved_at IS NOT NULL
                    )`,
		},
		{
			// Confirmed or later always means the arrival code was consumed.
			Name: "O4_confirmed_code_consumed",
			SQL: `SELECT id FROM appointments
                  WHERE status IN ('confirmed','completed')
                    AND appointment_code_used_at IS NULL`,
		},
		{
			// Every appointment past the funding stage carries escrow.
			Name: "O5_escrow_exists",
			SQL: `SELECT a.id FROM appointments a
                  WHERE a.status IN ('pending','approved','confirmed','completed','escalated')
                    AND NOT EXISTS (SELECT 1 FROM pouches p WHERE p.appointment_id = a.id)`,
		},
		{
			Name: "O6_resolution_terminal_consistency",
			SQL: `SELECT d.id, d.resolution_type, a.status FROM disputes d
                  JOIN appointments a ON a.id = d.appointment_id
                  WHERE d.resolved_at IS NOT NULL
                    AND ((d.resolution_type = 'refund_customer' AND a.status <> 'canceled')
                      OR (d.resolution_type IN ('split_refund','complete_for_stylist') AND a.status <> 'completed'))`,
		},
		{
			Name: "O7_wallets_non_negative",
			SQL:  `SELECT id, balance FROM users WHERE balance < 0`,
		},
		{
			// Outbox rows must not rot: everything is processed, dead, or fresh.
			Name: "O8_outbox_progress",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			// Completed wallet-path exits produce an approved payment for every
			// settled pouch's appointment.
			Name: "O9_settlement_rows_approved",
			SQL: `SELECT t.id FROM transactions t
                  WHERE t.type IN ('refund','earning') AND t.status <> 'approved'`,
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
