package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const upsertQuery = `
	INSERT INTO project_baselines (
		project_id, agent_name, model,
		avg_cost_per_call, stddev_cost_per_call,
		avg_input_tokens, avg_output_tokens,
		avg_latency_ms, stddev_latency_ms,
		avg_daily_calls, avg_error_rate,
		sample_count, last_calculated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (project_id, agent_name, model) DO UPDATE SET
		avg_cost_per_call = EXCLUDED.avg_cost_per_call,
		stddev_cost_per_call = EXCLUDED.stddev_cost_per_call,
		avg_input_tokens = EXCLUDED.avg_input_tokens,
		avg_output_tokens = EXCLUDED.avg_output_tokens,
		avg_latency_ms = EXCLUDED.avg_latency_ms,
		stddev_latency_ms = EXCLUDED.stddev_latency_ms,
		avg_daily_calls = EXCLUDED.avg_daily_calls,
		avg_error_rate = EXCLUDED.avg_error_rate,
		sample_count = EXCLUDED.sample_count,
		last_calculated_at = EXCLUDED.last_calculated_at
`

// Upsert writes all baselines in a single transaction so a partial refresh
// is never visible.
func (s *PostgresStore) Upsert(ctx context.Context, baselines []*Baseline) error {
	if len(baselines) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin baseline upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range baselines {
		_, err := tx.Exec(ctx, upsertQuery,
			b.ProjectID, b.AgentName, b.Model,
			b.AvgCostPerCall, b.StddevCostPerCall,
			b.AvgInputTokens, b.AvgOutputTokens,
			b.AvgLatencyMs, b.StddevLatencyMs,
			b.AvgDailyCalls, b.AvgErrorRate,
			b.SampleCount, b.LastCalculatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert baseline for %s/%s: %w", b.AgentName, b.Model, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit baseline upsert: %w", err)
	}

	return nil
}

const selectColumns = `
	project_id, agent_name, model,
	avg_cost_per_call, stddev_cost_per_call,
	avg_input_tokens, avg_output_tokens,
	avg_latency_ms, stddev_latency_ms,
	avg_daily_calls, avg_error_rate,
	sample_count, last_calculated_at
`

func scanBaseline(row pgx.Row) (*Baseline, error) {
	var b Baseline
	err := row.Scan(
		&b.ProjectID, &b.AgentName, &b.Model,
		&b.AvgCostPerCall, &b.StddevCostPerCall,
		&b.AvgInputTokens, &b.AvgOutputTokens,
		&b.AvgLatencyMs, &b.StddevLatencyMs,
		&b.AvgDailyCalls, &b.AvgErrorRate,
		&b.SampleCount, &b.LastCalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) List(ctx context.Context, projectID string) ([]*Baseline, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM project_baselines
		WHERE project_id = $1
		ORDER BY agent_name, model
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	var baselines []*Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating baselines: %w", err)
	}

	return baselines, nil
}

// Get returns nil without error when no baseline exists for the group.
func (s *PostgresStore) Get(ctx context.Context, projectID, agentName, model string) (*Baseline, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM project_baselines
		WHERE project_id = $1 AND agent_name = $2 AND model = $3
	`
	b, err := scanBaseline(s.db.QueryRow(ctx, query, projectID, agentName, model))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	return b, nil
}

func (s *PostgresStore) Exists(ctx context.Context, projectID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM project_baselines WHERE project_id = $1)`
	var exists bool
	if err := s.db.QueryRow(ctx, query, projectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check baselines: %w", err)
	}

	return exists, nil
}
