package baseline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/agentcost/agentcost/config"
	"github.com/agentcost/agentcost/internal/events"
)

// Severity buckets for anomalies.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly is one evaluated metric for one baseline group. Computed fresh on
// every detection call, never persisted.
type Anomaly struct {
	AgentName      string  `json:"agent_name"`
	Model          string  `json:"model"`
	MetricName     string  `json:"metric_name"`
	CurrentValue   float64 `json:"current_value"`
	BaselineMean   float64 `json:"baseline_mean"`
	BaselineStddev float64 `json:"baseline_stddev"`
	ZScore         float64 `json:"z_score"`
	Severity       string  `json:"severity"`
	IsAnomaly      bool    `json:"is_anomaly"`
}

// Detector compares recent aggregates against stored baselines.
type Detector struct {
	events events.Store
	store  Store
	cfg    config.EngineConfig
	now    func() time.Time
}

func NewDetector(eventStore events.Store, store Store, cfg config.EngineConfig) *Detector {
	return &Detector{
		events: eventStore,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Detect evaluates cost_per_call, latency_ms and error_rate for every stored
// baseline against the trailing recentHours window. Every evaluated metric is
// returned; callers filter on IsAnomaly. Metrics whose baseline stddev is zero
// are skipped because the z-score is undefined there.
func (d *Detector) Detect(ctx context.Context, projectID string, recentHours int) ([]Anomaly, error) {
	if recentHours < 1 {
		recentHours = 1
	}

	baselines, err := d.store.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	if len(baselines) == 0 {
		return nil, nil
	}

	now := d.now().UTC()
	from := now.Add(-time.Duration(recentHours) * time.Hour)

	stats, err := d.events.GroupStats(ctx, projectID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recent events: %w", err)
	}

	recent := make(map[groupKey]events.GroupStats, len(stats))
	for _, g := range stats {
		recent[groupKey{g.AgentName, g.Model}] = g
	}

	var anomalies []Anomaly
	for _, b := range baselines {
		g, ok := recent[groupKey{b.AgentName, b.Model}]
		if !ok || g.Calls == 0 {
			continue
		}

		if a, ok := d.zScoreMetric(b, "cost_per_call", g.AvgCost, b.AvgCostPerCall, b.StddevCostPerCall); ok {
			anomalies = append(anomalies, a)
		}
		if a, ok := d.zScoreMetric(b, "latency_ms", g.AvgLatencyMs, b.AvgLatencyMs, b.StddevLatencyMs); ok {
			anomalies = append(anomalies, a)
		}

		currentErrRate := float64(g.ErrorCount) / float64(g.Calls)
		anomalies = append(anomalies, d.errorRateMetric(b, currentErrRate))
	}

	return anomalies, nil
}

func (d *Detector) zScoreMetric(b *Baseline, name string, current, mean, stddev float64) (Anomaly, bool) {
	if stddev == 0 {
		return Anomaly{}, false
	}

	z := (current - mean) / stddev
	a := Anomaly{
		AgentName:      b.AgentName,
		Model:          b.Model,
		MetricName:     name,
		CurrentValue:   current,
		BaselineMean:   mean,
		BaselineStddev: stddev,
		ZScore:         z,
		IsAnomaly:      math.Abs(z) >= d.cfg.AnomalyZThreshold,
	}
	if a.IsAnomaly {
		a.Severity = SeverityMedium
		if math.Abs(z) > d.cfg.HighSeverityZ {
			a.Severity = SeverityHigh
		}
	}

	return a, true
}

// errorRateMetric uses a ratio comparison rather than a z-score: an error
// rate baseline of exactly zero would make any z-score degenerate, and small
// baselines inflate z wildly.
func (d *Detector) errorRateMetric(b *Baseline, current float64) Anomaly {
	a := Anomaly{
		AgentName:    b.AgentName,
		Model:        b.Model,
		MetricName:   "error_rate",
		CurrentValue: current,
		BaselineMean: b.AvgErrorRate,
	}

	if b.AvgErrorRate > 0 {
		if current > b.AvgErrorRate*d.cfg.ErrorRateRatio {
			a.IsAnomaly = true
			a.Severity = SeverityMedium
			if current > b.AvgErrorRate*d.cfg.ErrorRateHighRatio {
				a.Severity = SeverityHigh
			}
		}
	} else if current > 0 {
		// Baseline recorded no errors at all; any failures are new behavior.
		a.IsAnomaly = true
		a.Severity = SeverityMedium
	}

	return a
}
