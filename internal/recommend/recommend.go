// Package recommend persists suggestions as stateful recommendations and
// tracks their implement/dismiss/expire lifecycle.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Recommendation statuses. Transitions leave pending exactly once:
// pending -> implemented | dismissed | expired. Terminal states never change.
const (
	StatusPending     = "pending"
	StatusImplemented = "implemented"
	StatusDismissed   = "dismissed"
	StatusExpired     = "expired"
)

// ErrUnavailable covers every reason a recommendation cannot be actioned:
// it does not exist, belongs to another project, already left pending, or
// its cooldown window has lapsed. Callers surface all of these identically.
var ErrUnavailable = errors.New("recommendation not available")

type Recommendation struct {
	ID                      string          `json:"id"`
	ProjectID               string          `json:"-"`
	Type                    string          `json:"type"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	AgentName               string          `json:"agent_name,omitempty"`
	Model                   string          `json:"model,omitempty"`
	AlternativeModel        string          `json:"alternative_model,omitempty"`
	EstimatedMonthlySavings float64         `json:"estimated_monthly_savings"`
	EstimatedSavingsPercent float64         `json:"estimated_savings_percent"`
	ActualMonthlySavings    *float64        `json:"actual_monthly_savings,omitempty"`
	MetricsSnapshot         json.RawMessage `json:"metrics_snapshot,omitempty"`
	Status                  string          `json:"status"`
	CreatedAt               time.Time       `json:"created_at"`
	ExpiresAt               time.Time       `json:"expires_at"`
	ImplementedAt           *time.Time      `json:"implemented_at,omitempty"`
	DismissedAt             *time.Time      `json:"dismissed_at,omitempty"`
	DismissFeedback         string          `json:"dismiss_feedback,omitempty"`
}

// StatusCounts is the per-state tally for a project. Pending rows whose
// cooldown has lapsed count as expired; expiry is lazy, never swept.
type StatusCounts struct {
	Pending     int
	Implemented int
	Dismissed   int
	Expired     int
}

// AccuracyStats describes how estimates compared to recorded actuals.
type AccuracyStats struct {
	ImplementedWithActuals int
	TotalEstimated         float64
	TotalActual            float64
}

type Store interface {
	// Insert writes a new pending recommendation. It reports false without
	// error when a pending, non-expired row with the same
	// (project, type, agent, model) already exists. A lapsed pending row in
	// the same slot is flipped to expired so the new row can take its place.
	Insert(ctx context.Context, rec *Recommendation) (bool, error)
	ListPending(ctx context.Context, projectID string, now time.Time) ([]*Recommendation, error)
	// MarkImplemented and MarkDismissed succeed only on pending rows still
	// inside their cooldown window; otherwise they return ErrUnavailable.
	MarkImplemented(ctx context.Context, id, projectID string, now time.Time) (*Recommendation, error)
	MarkDismissed(ctx context.Context, id, projectID, feedback string, now time.Time) (*Recommendation, error)
	CountByStatus(ctx context.Context, projectID string, now time.Time) (*StatusCounts, error)
	AccuracyStats(ctx context.Context, projectID string) (*AccuracyStats, error)
}
