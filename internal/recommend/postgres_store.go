package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Insert relies on the partial unique index on
// (project_id, recommendation_type, agent_name, model) WHERE status='pending'
// to close the create/create race; the advisory read in the tracker alone is
// not sufficient under concurrency. A lapsed pending row in the same slot is
// flipped to expired first, in the same transaction, so the cooldown is a
// minimum suppression interval rather than a permanent block.
func (s *PostgresStore) Insert(ctx context.Context, rec *Recommendation) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin recommendation insert: %w", err)
	}
	defer tx.Rollback(ctx)

	expireQuery := `
		UPDATE optimization_recommendations
		SET status = 'expired'
		WHERE project_id = $1 AND recommendation_type = $2
		  AND agent_name = $3 AND model = $4
		  AND status = 'pending' AND expires_at <= $5
	`
	if _, err := tx.Exec(ctx, expireQuery,
		rec.ProjectID, rec.Type, rec.AgentName, rec.Model, rec.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("failed to expire lapsed recommendation: %w", err)
	}

	insertQuery := `
		INSERT INTO optimization_recommendations (
			id, project_id, recommendation_type, title, description,
			agent_name, model, alternative_model,
			estimated_monthly_savings, estimated_savings_percent,
			metrics_snapshot, status, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (project_id, recommendation_type, agent_name, model) WHERE status = 'pending'
		DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertQuery,
		rec.ID, rec.ProjectID, rec.Type, rec.Title, rec.Description,
		rec.AgentName, rec.Model, nullable(rec.AlternativeModel),
		rec.EstimatedMonthlySavings, rec.EstimatedSavingsPercent,
		rec.MetricsSnapshot, rec.Status, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert recommendation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit recommendation insert: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

const selectColumns = `
	id, project_id, recommendation_type, title, description,
	COALESCE(agent_name, ''), COALESCE(model, ''), COALESCE(alternative_model, ''),
	estimated_monthly_savings, estimated_savings_percent,
	actual_monthly_savings, metrics_snapshot, status,
	created_at, expires_at, implemented_at, dismissed_at,
	COALESCE(dismiss_feedback, '')
`

func scanRecommendation(row pgx.Row) (*Recommendation, error) {
	var r Recommendation
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.Type, &r.Title, &r.Description,
		&r.AgentName, &r.Model, &r.AlternativeModel,
		&r.EstimatedMonthlySavings, &r.EstimatedSavingsPercent,
		&r.ActualMonthlySavings, &r.MetricsSnapshot, &r.Status,
		&r.CreatedAt, &r.ExpiresAt, &r.ImplementedAt, &r.DismissedAt,
		&r.DismissFeedback,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, projectID string, now time.Time) ([]*Recommendation, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM optimization_recommendations
		WHERE project_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, projectID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}

	return recs, nil
}

func (s *PostgresStore) MarkImplemented(ctx context.Context, id, projectID string, now time.Time) (*Recommendation, error) {
	query := `
		UPDATE optimization_recommendations
		SET status = 'implemented', implemented_at = $3
		WHERE id = $1 AND project_id = $2 AND status = 'pending' AND expires_at > $3
		RETURNING ` + selectColumns

	r, err := scanRecommendation(s.db.QueryRow(ctx, query, id, projectID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("failed to mark recommendation implemented: %w", err)
	}

	return r, nil
}

func (s *PostgresStore) MarkDismissed(ctx context.Context, id, projectID, feedback string, now time.Time) (*Recommendation, error) {
	query := `
		UPDATE optimization_recommendations
		SET status = 'dismissed', dismissed_at = $3, dismiss_feedback = NULLIF($4, '')
		WHERE id = $1 AND project_id = $2 AND status = 'pending' AND expires_at > $3
		RETURNING ` + selectColumns

	r, err := scanRecommendation(s.db.QueryRow(ctx, query, id, projectID, now, feedback))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("failed to mark recommendation dismissed: %w", err)
	}

	return r, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, projectID string, now time.Time) (*StatusCounts, error) {
	// Pending rows past their cooldown count as expired; the status column is
	// never swept.
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' AND expires_at > $2),
			COUNT(*) FILTER (WHERE status = 'implemented'),
			COUNT(*) FILTER (WHERE status = 'dismissed'),
			COUNT(*) FILTER (WHERE status = 'expired' OR (status = 'pending' AND expires_at <= $2))
		FROM optimization_recommendations
		WHERE project_id = $1
	`
	var c StatusCounts
	err := s.db.QueryRow(ctx, query, projectID, now).Scan(
		&c.Pending, &c.Implemented, &c.Dismissed, &c.Expired,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count recommendations: %w", err)
	}

	return &c, nil
}

func (s *PostgresStore) AccuracyStats(ctx context.Context, projectID string) (*AccuracyStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(estimated_monthly_savings), 0),
		       COALESCE(SUM(actual_monthly_savings), 0)
		FROM optimization_recommendations
		WHERE project_id = $1 AND status = 'implemented' AND actual_monthly_savings IS NOT NULL
	`
	var a AccuracyStats
	err := s.db.QueryRow(ctx, query, projectID).Scan(
		&a.ImplementedWithActuals, &a.TotalEstimated, &a.TotalActual,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query accuracy stats: %w", err)
	}

	return &a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
