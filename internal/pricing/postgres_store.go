package pricing

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
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DiscoverAlternatives(ctx context.Context, model string, avgInputTokens, avgOutputTokens, maxResults int) ([]Alternative, error) {
	current, err := s.getModel(ctx, model)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// Unknown model: nothing to compare against, not an error.
		return nil, nil
	}

	candidates, err := s.listActive(ctx)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.outcomeStats(ctx, model)
	if err != nil {
		return nil, err
	}

	return rankAlternatives(*current, candidates, outcomes, avgInputTokens, avgOutputTokens, maxResults), nil
}

// UpsertModel writes a catalog row, used by the seeder and pricing sync.
func (s *PostgresStore) UpsertModel(ctx context.Context, m *ModelPricing) error {
	query := `
		INSERT INTO model_pricing (model_name, provider, input_price_per_1k, output_price_per_1k, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name) DO UPDATE SET
			provider = EXCLUDED.provider,
			input_price_per_1k = EXCLUDED.input_price_per_1k,
			output_price_per_1k = EXCLUDED.output_price_per_1k,
			is_active = EXCLUDED.is_active,
			updated_at = now()
	`
	_, err := s.db.Exec(ctx, query, m.ModelName, m.Provider, m.InputPricePer1K, m.OutputPricePer1K, m.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert model pricing: %w", err)
	}

	return nil
}

func (s *PostgresStore) getModel(ctx context.Context, model string) (*ModelPricing, error) {
	query := `
		SELECT model_name, provider, input_price_per_1k, output_price_per_1k, is_active
		FROM model_pricing
		WHERE model_name = $1
	`
	var m ModelPricing
	err := s.db.QueryRow(ctx, query, model).Scan(
		&m.ModelName, &m.Provider, &m.InputPricePer1K, &m.OutputPricePer1K, &m.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get model pricing: %w", err)
	}

	return &m, nil
}

func (s *PostgresStore) listActive(ctx context.Context) ([]ModelPricing, error) {
	query := `
		SELECT model_name, provider, input_price_per_1k, output_price_per_1k, is_active
		FROM model_pricing
		WHERE is_active = true
		ORDER BY provider, model_name
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list model pricing: %w", err)
	}
	defer rows.Close()

	var models []ModelPricing
	for rows.Next() {
		var m ModelPricing
		if err := rows.Scan(&m.ModelName, &m.Provider, &m.InputPricePer1K, &m.OutputPricePer1K, &m.Active); err != nil {
			return nil, fmt.Errorf("failed to scan model pricing: %w", err)
		}
		models = append(models, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model pricing: %w", err)
	}

	return models, nil
}

// outcomeStats aggregates implemented downgrade recommendations away from the
// given model, keyed by alternative model. Accuracy is actual/estimated
// savings where actuals were recorded.
func (s *PostgresStore) outcomeStats(ctx context.Context, model string) (map[string]OutcomeStats, error) {
	query := `
		SELECT alternative_model,
		       COUNT(*),
		       COALESCE(AVG(actual_monthly_savings / NULLIF(estimated_monthly_savings, 0)), 0)
		FROM optimization_recommendations
		WHERE model = $1
		  AND recommendation_type = 'model_downgrade'
		  AND status = 'implemented'
		  AND alternative_model IS NOT NULL
		GROUP BY alternative_model
	`
	rows, err := s.db.Query(ctx, query, model)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome stats: %w", err)
	}
	defer rows.Close()

	outcomes := make(map[string]OutcomeStats)
	for rows.Next() {
		var alt string
		var o OutcomeStats
		if err := rows.Scan(&alt, &o.TimesImplemented, &o.SavingsAccuracy); err != nil {
			return nil, fmt.Errorf("failed to scan outcome stats: %w", err)
		}
		outcomes[alt] = o
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome stats: %w", err)
	}

	return outcomes, nil
}
