package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Tracker is the lifecycle front of the recommendation store.
type Tracker struct {
	store        Store
	cooldownDays int
	now          func() time.Time
}

func NewTracker(store Store, cooldownDays int) *Tracker {
	if cooldownDays < 1 {
		cooldownDays = 14
	}
	return &Tracker{
		store:        store,
		cooldownDays: cooldownDays,
		now:          time.Now,
	}
}

// CreateInput is the subset of a suggestion that gets persisted.
type CreateInput struct {
	Type                    string
	Title                   string
	Description             string
	AgentName               string
	Model                   string
	AlternativeModel        string
	EstimatedMonthlySavings float64
	EstimatedSavingsPercent float64
	Metrics                 any
}

// Create persists one pending recommendation unless a pending, non-expired
// row with the same (project, type, agent, model) already exists. The store's
// conditional insert makes the dedup hold even when two calls race.
func (t *Tracker) Create(ctx context.Context, projectID string, in CreateInput) (*Recommendation, error) {
	now := t.now().UTC()

	var snapshot json.RawMessage
	if in.Metrics != nil {
		data, err := json.Marshal(in.Metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metrics snapshot: %w", err)
		}
		snapshot = data
	}

	rec := &Recommendation{
		ID:                      uuid.New().String(),
		ProjectID:               projectID,
		Type:                    in.Type,
		Title:                   in.Title,
		Description:             in.Description,
		AgentName:               in.AgentName,
		Model:                   in.Model,
		AlternativeModel:        in.AlternativeModel,
		EstimatedMonthlySavings: in.EstimatedMonthlySavings,
		EstimatedSavingsPercent: in.EstimatedSavingsPercent,
		MetricsSnapshot:         snapshot,
		Status:                  StatusPending,
		CreatedAt:               now,
		ExpiresAt:               now.AddDate(0, 0, t.cooldownDays),
	}

	inserted, err := t.store.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Duplicate within the cooldown window; keep the existing row.
		return nil, nil
	}

	return rec, nil
}

func (t *Tracker) Pending(ctx context.Context, projectID string) ([]*Recommendation, error) {
	return t.store.ListPending(ctx, projectID, t.now().UTC())
}

func (t *Tracker) MarkImplemented(ctx context.Context, id, projectID string) (*Recommendation, error) {
	return t.store.MarkImplemented(ctx, id, projectID, t.now().UTC())
}

func (t *Tracker) MarkDismissed(ctx context.Context, id, projectID, feedback string) (*Recommendation, error) {
	rec, err := t.store.MarkDismissed(ctx, id, projectID, feedback, t.now().UTC())
	if err != nil {
		return nil, err
	}
	if feedback != "" {
		log.Printf("recommendation %s dismissed with feedback: %s", id, feedback)
	}

	return rec, nil
}

// Effectiveness summarizes lifecycle outcomes for a project.
type Effectiveness struct {
	Total              int     `json:"total"`
	Pending            int     `json:"pending"`
	Implemented        int     `json:"implemented"`
	Dismissed          int     `json:"dismissed"`
	Expired            int     `json:"expired"`
	ImplementationRate float64 `json:"implementation_rate"`
	TrackedOutcomes    int     `json:"tracked_outcomes"`
	SavingsAccuracy    float64 `json:"savings_accuracy"`
}

// Effectiveness computes per-state counts, the share of resolved
// recommendations that were implemented, and the actual-versus-estimated
// savings ratio where outcomes were recorded.
func (t *Tracker) Effectiveness(ctx context.Context, projectID string) (*Effectiveness, error) {
	now := t.now().UTC()

	counts, err := t.store.CountByStatus(ctx, projectID, now)
	if err != nil {
		return nil, err
	}

	accuracy, err := t.store.AccuracyStats(ctx, projectID)
	if err != nil {
		return nil, err
	}

	eff := &Effectiveness{
		Total:       counts.Pending + counts.Implemented + counts.Dismissed + counts.Expired,
		Pending:     counts.Pending,
		Implemented: counts.Implemented,
		Dismissed:   counts.Dismissed,
		Expired:     counts.Expired,
	}

	resolved := counts.Implemented + counts.Dismissed + counts.Expired
	if resolved > 0 {
		eff.ImplementationRate = float64(counts.Implemented) / float64(resolved)
	}

	eff.TrackedOutcomes = accuracy.ImplementedWithActuals
	if accuracy.TotalEstimated > 0 {
		eff.SavingsAccuracy = accuracy.TotalActual / accuracy.TotalEstimated
	}

	return eff, nil
}
