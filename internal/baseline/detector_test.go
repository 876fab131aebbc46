package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/agentcost/agentcost/config"
	"github.com/agentcost/agentcost/internal/events"
)

func detectorWith(baselines []*Baseline, recent []events.GroupStats) *Detector {
	es := &mockEventStore{
		groupStatsFunc: func(ctx context.Context, projectID string, from, to time.Time) ([]events.GroupStats, error) {
			return recent, nil
		},
	}
	bs := &mockBaselineStore{
		listFunc: func(ctx context.Context, projectID string) ([]*Baseline, error) {
			return baselines, nil
		},
	}
	return NewDetector(es, bs, config.DefaultEngineConfig())
}

func findMetric(anomalies []Anomaly, name string) *Anomaly {
	for i := range anomalies {
		if anomalies[i].MetricName == name {
			return &anomalies[i]
		}
	}
	return nil
}

func TestDetect_LatencySpikeIsHighSeverity(t *testing.T) {
	d := detectorWith(
		[]*Baseline{{
			ProjectID:       "proj-1",
			AgentName:       "support-bot",
			Model:           "gpt-4",
			AvgLatencyMs:    500,
			StddevLatencyMs: 50,
		}},
		[]events.GroupStats{{
			AgentName:    "support-bot",
			Model:        "gpt-4",
			Calls:        12,
			AvgLatencyMs: 700,
		}},
	)

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	a := findMetric(anomalies, "latency_ms")
	if a == nil {
		t.Fatal("Expected latency_ms metric")
	}
	if a.ZScore != 4.0 {
		t.Errorf("Expected z-score 4.0, got %f", a.ZScore)
	}
	if !a.IsAnomaly {
		t.Error("Expected anomaly flag set")
	}
	if a.Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", a.Severity)
	}
}

func TestDetect_ZeroStddevNeverFlags(t *testing.T) {
	d := detectorWith(
		[]*Baseline{{
			ProjectID:      "proj-1",
			AgentName:      "support-bot",
			Model:          "gpt-4",
			AvgCostPerCall: 0.05,
			// Constant cost in the baseline window; z-score is undefined.
			StddevCostPerCall: 0,
			AvgLatencyMs:      500,
			StddevLatencyMs:   0,
		}},
		[]events.GroupStats{{
			AgentName:    "support-bot",
			Model:        "gpt-4",
			Calls:        10,
			AvgCost:      5.0,
			AvgLatencyMs: 9000,
		}},
	)

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if a := findMetric(anomalies, "cost_per_call"); a != nil {
		t.Errorf("Expected cost metric skipped on zero stddev, got %+v", a)
	}
	if a := findMetric(anomalies, "latency_ms"); a != nil {
		t.Errorf("Expected latency metric skipped on zero stddev, got %+v", a)
	}
}

func TestDetect_ModerateDeviationIsMediumSeverity(t *testing.T) {
	d := detectorWith(
		[]*Baseline{{
			AgentName:         "support-bot",
			Model:             "gpt-4",
			AvgCostPerCall:    0.05,
			StddevCostPerCall: 0.01,
		}},
		[]events.GroupStats{{
			AgentName: "support-bot",
			Model:     "gpt-4",
			Calls:     10,
			AvgCost:   0.075, // z = 2.5
		}},
	)

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	a := findMetric(anomalies, "cost_per_call")
	if a == nil {
		t.Fatal("Expected cost_per_call metric")
	}
	if !a.IsAnomaly {
		t.Error("Expected anomaly at z=2.5")
	}
	if a.Severity != SeverityMedium {
		t.Errorf("Expected medium severity, got %s", a.Severity)
	}
}

func TestDetect_BelowThresholdReturnedUnflagged(t *testing.T) {
	d := detectorWith(
		[]*Baseline{{
			AgentName:         "support-bot",
			Model:             "gpt-4",
			AvgCostPerCall:    0.05,
			StddevCostPerCall: 0.01,
		}},
		[]events.GroupStats{{
			AgentName: "support-bot",
			Model:     "gpt-4",
			Calls:     10,
			AvgCost:   0.06, // z = 1.0
		}},
	)

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	a := findMetric(anomalies, "cost_per_call")
	if a == nil {
		t.Fatal("Expected cost_per_call metric returned even when normal")
	}
	if a.IsAnomaly {
		t.Error("Expected no anomaly at z=1.0")
	}
	if a.Severity != "" {
		t.Errorf("Expected empty severity when not anomalous, got %s", a.Severity)
	}
}

func TestDetect_ErrorRateRatioThresholds(t *testing.T) {
	tests := []struct {
		name        string
		baseline    float64
		errorCount  int
		calls       int
		wantAnomaly bool
		wantSev     string
	}{
		{"below ratio", 0.10, 12, 100, false, ""},
		{"above medium ratio", 0.10, 16, 100, true, SeverityMedium},
		{"above high ratio", 0.10, 25, 100, true, SeverityHigh},
		{"zero baseline with errors", 0, 3, 100, true, SeverityMedium},
		{"zero baseline no errors", 0, 0, 100, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := detectorWith(
				[]*Baseline{{
					AgentName:    "support-bot",
					Model:        "gpt-4",
					AvgErrorRate: tt.baseline,
				}},
				[]events.GroupStats{{
					AgentName:  "support-bot",
					Model:      "gpt-4",
					Calls:      tt.calls,
					ErrorCount: tt.errorCount,
				}},
			)

			anomalies, err := d.Detect(context.Background(), "proj-1", 24)
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}

			a := findMetric(anomalies, "error_rate")
			if a == nil {
				t.Fatal("Expected error_rate metric")
			}
			if a.IsAnomaly != tt.wantAnomaly {
				t.Errorf("Expected anomaly=%v, got %v", tt.wantAnomaly, a.IsAnomaly)
			}
			if a.Severity != tt.wantSev {
				t.Errorf("Expected severity %q, got %q", tt.wantSev, a.Severity)
			}
		})
	}
}

func TestDetect_NoRecentTrafficSkipsGroup(t *testing.T) {
	d := detectorWith(
		[]*Baseline{{
			AgentName:         "idle-bot",
			Model:             "gpt-4",
			AvgCostPerCall:    0.05,
			StddevCostPerCall: 0.01,
		}},
		nil,
	)

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("Expected no metrics for idle group, got %d", len(anomalies))
	}
}

func TestDetect_NoBaselinesReturnsNil(t *testing.T) {
	d := detectorWith(nil, []events.GroupStats{{AgentName: "support-bot", Model: "gpt-4", Calls: 10}})

	anomalies, err := d.Detect(context.Background(), "proj-1", 24)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if anomalies != nil {
		t.Errorf("Expected nil without baselines, got %v", anomalies)
	}
}
