// Package baseline maintains the per (project, agent, model) statistical
// baselines and detects deviations from them.
package baseline

import (
	"context"
	"time"
)

// Baseline is the rolling statistical summary for one (project, agent, model)
// group. Upserted only by the Computer; read-only everywhere else.
type Baseline struct {
	ProjectID         string
	AgentName         string
	Model             string
	AvgCostPerCall    float64
	StddevCostPerCall float64
	AvgInputTokens    float64
	AvgOutputTokens   float64
	AvgLatencyMs      float64
	StddevLatencyMs   float64
	AvgDailyCalls     float64
	AvgErrorRate      float64
	SampleCount       int
	LastCalculatedAt  time.Time
}

type Store interface {
	Upsert(ctx context.Context, baselines []*Baseline) error
	List(ctx context.Context, projectID string) ([]*Baseline, error)
	Get(ctx context.Context, projectID, agentName, model string) (*Baseline, error)
	Exists(ctx context.Context, projectID string) (bool, error)
}
