package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcost/agentcost/config"
	"github.com/agentcost/agentcost/internal/events"
)

// Computer builds baselines from windowed event aggregates. Groups below the
// configured sample minimum are skipped silently.
type Computer struct {
	events events.Store
	store  Store
	cfg    config.EngineConfig
	now    func() time.Time
}

func NewComputer(eventStore events.Store, store Store, cfg config.EngineConfig) *Computer {
	return &Computer{
		events: eventStore,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ComputeResult reports what a refresh did.
type ComputeResult struct {
	Computed int `json:"computed"`
	Skipped  int `json:"skipped"`
	Days     int `json:"days"`
}

// Compute refreshes every qualifying (agent, model) baseline for the project
// from the trailing window and upserts them atomically.
func (c *Computer) Compute(ctx context.Context, projectID string, days int) (*ComputeResult, error) {
	if days < 1 {
		days = 1
	}
	now := c.now().UTC()
	from := now.AddDate(0, 0, -days)

	stats, err := c.events.GroupStats(ctx, projectID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	daily, err := c.events.DailyCalls(ctx, projectID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily calls: %w", err)
	}
	dailyAvg := averageDailyCalls(daily)

	result := &ComputeResult{Days: days}
	var baselines []*Baseline
	for _, g := range stats {
		if g.Calls < c.cfg.MinSampleCount {
			result.Skipped++
			continue
		}

		errorRate := 0.0
		if g.Calls > 0 {
			errorRate = float64(g.ErrorCount) / float64(g.Calls)
		}

		baselines = append(baselines, &Baseline{
			ProjectID:         projectID,
			AgentName:         g.AgentName,
			Model:             g.Model,
			AvgCostPerCall:    g.AvgCost,
			StddevCostPerCall: g.StddevCost,
			AvgInputTokens:    g.AvgInputTokens,
			AvgOutputTokens:   g.AvgOutputTokens,
			AvgLatencyMs:      g.AvgLatencyMs,
			StddevLatencyMs:   g.StddevLatencyMs,
			AvgDailyCalls:     dailyAvg[groupKey{g.AgentName, g.Model}],
			AvgErrorRate:      errorRate,
			SampleCount:       g.Calls,
			LastCalculatedAt:  now,
		})
		result.Computed++
	}

	if err := c.store.Upsert(ctx, baselines); err != nil {
		return nil, fmt.Errorf("failed to store baselines: %w", err)
	}

	return result, nil
}

// EnsureExist computes baselines only when the project has none yet. It is an
// idempotent bootstrap, not a refresh policy.
func (c *Computer) EnsureExist(ctx context.Context, projectID string, days int) error {
	exists, err := c.store.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = c.Compute(ctx, projectID, days)
	return err
}

func (c *Computer) Has(ctx context.Context, projectID string) (bool, error) {
	return c.store.Exists(ctx, projectID)
}

func (c *Computer) Get(ctx context.Context, projectID, agentName, model string) (*Baseline, error) {
	return c.store.Get(ctx, projectID, agentName, model)
}

func (c *Computer) List(ctx context.Context, projectID string) ([]*Baseline, error) {
	return c.store.List(ctx, projectID)
}

type groupKey struct {
	agent string
	model string
}

// averageDailyCalls averages the per-day counts for each group over the days
// the group was actually active.
func averageDailyCalls(daily []events.DailyCalls) map[groupKey]float64 {
	sums := make(map[groupKey]int)
	counts := make(map[groupKey]int)
	for _, d := range daily {
		k := groupKey{d.AgentName, d.Model}
		sums[k] += d.Calls
		counts[k]++
	}

	avgs := make(map[groupKey]float64, len(sums))
	for k, sum := range sums {
		if counts[k] > 0 {
			avgs[k] = float64(sum) / float64(counts[k])
		}
	}
	return avgs
}
