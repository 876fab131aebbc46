package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ModelUsage(ctx context.Context, projectID string, from, to time.Time) ([]ModelUsage, error) {
	query := `
		SELECT model, agent_name,
		       COUNT(*),
		       COALESCE(SUM(cost), 0),
		       COALESCE(AVG(input_tokens), 0),
		       COALESCE(AVG(output_tokens), 0),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY model, agent_name
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query model usage: %w", err)
	}
	defer rows.Close()

	var usages []ModelUsage
	for rows.Next() {
		var u ModelUsage
		err := rows.Scan(
			&u.Model, &u.AgentName, &u.Calls, &u.TotalCost,
			&u.AvgInputTokens, &u.AvgOutputTokens,
			&u.TotalInputTokens, &u.TotalOutputTokens,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model usage: %w", err)
		}
		usages = append(usages, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model usage: %w", err)
	}

	return usages, nil
}

func (s *PostgresStore) GroupStats(ctx context.Context, projectID string, from, to time.Time) ([]GroupStats, error) {
	query := `
		SELECT agent_name, model,
		       COUNT(*),
		       COALESCE(AVG(cost), 0),
		       COALESCE(STDDEV_SAMP(cost), 0),
		       COALESCE(AVG(input_tokens), 0),
		       COALESCE(STDDEV_SAMP(input_tokens), 0),
		       COALESCE(AVG(output_tokens), 0),
		       COALESCE(STDDEV_SAMP(output_tokens), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(STDDEV_SAMP(latency_ms), 0),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE cost END), 0)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY agent_name, model
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query group stats: %w", err)
	}
	defer rows.Close()

	var stats []GroupStats
	for rows.Next() {
		var g GroupStats
		err := rows.Scan(
			&g.AgentName, &g.Model, &g.Calls,
			&g.AvgCost, &g.StddevCost,
			&g.AvgInputTokens, &g.StddevInput,
			&g.AvgOutputTokens, &g.StddevOutput,
			&g.AvgLatencyMs, &g.StddevLatencyMs,
			&g.ErrorCount, &g.FailedCost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group stats: %w", err)
		}
		stats = append(stats, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group stats: %w", err)
	}

	return stats, nil
}

func (s *PostgresStore) DailyCalls(ctx context.Context, projectID string, from, to time.Time) ([]DailyCalls, error) {
	query := `
		SELECT agent_name, model, date_trunc('day', timestamp AT TIME ZONE 'UTC'), COUNT(*)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY agent_name, model, date_trunc('day', timestamp AT TIME ZONE 'UTC')
		ORDER BY 3
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily calls: %w", err)
	}
	defer rows.Close()

	var daily []DailyCalls
	for rows.Next() {
		var d DailyCalls
		if err := rows.Scan(&d.AgentName, &d.Model, &d.Day, &d.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan daily calls: %w", err)
		}
		daily = append(daily, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily calls: %w", err)
	}

	return daily, nil
}

func (s *PostgresStore) PatternGroups(ctx context.Context, projectID string, from, to time.Time, minOccurrences int) ([]PatternGroup, error) {
	query := `
		SELECT agent_name, input_hash, COUNT(*), COALESCE(SUM(cost), 0), COALESCE(AVG(cost), 0)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
		  AND input_hash IS NOT NULL AND input_hash <> ''
		GROUP BY agent_name, input_hash
		HAVING COUNT(*) >= $4
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to, minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern groups: %w", err)
	}
	defer rows.Close()

	var groups []PatternGroup
	for rows.Next() {
		var g PatternGroup
		if err := rows.Scan(&g.AgentName, &g.InputHash, &g.Occurrences, &g.TotalCost, &g.AvgCost); err != nil {
			return nil, fmt.Errorf("failed to scan pattern group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pattern groups: %w", err)
	}

	return groups, nil
}

func (s *PostgresStore) AgentCallTotals(ctx context.Context, projectID string, from, to time.Time) (map[string]int, error) {
	query := `
		SELECT agent_name, COUNT(*)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY agent_name
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent call totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var agent string
		var calls int
		if err := rows.Scan(&agent, &calls); err != nil {
			return nil, fmt.Errorf("failed to scan agent call total: %w", err)
		}
		totals[agent] = calls
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent call totals: %w", err)
	}

	return totals, nil
}

func (s *PostgresStore) ProjectOverview(ctx context.Context, projectID string, from, to time.Time) (*Overview, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(cost), 0)
		FROM events
		WHERE project_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`
	var o Overview
	err := s.db.QueryRow(ctx, query, projectID, from, to).Scan(&o.TotalCalls, &o.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("failed to query project overview: %w", err)
	}

	return &o, nil
}
