// Package optimizer turns event aggregates, baselines and pricing data into
// prioritized cost-optimization suggestions.
package optimizer

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcost/agentcost/config"
	"github.com/agentcost/agentcost/internal/baseline"
	"github.com/agentcost/agentcost/internal/events"
	"github.com/agentcost/agentcost/internal/pattern"
	"github.com/agentcost/agentcost/internal/pricing"
	"github.com/agentcost/agentcost/internal/recommend"
)

// How many of the top suggestions get persisted as recommendations.
const persistTopN = 10

// Trailing window anomaly detection evaluates.
const anomalyRecentHours = 24

// BaselineSource is the slice of the baseline computer the synthesizer needs.
type BaselineSource interface {
	EnsureExist(ctx context.Context, projectID string, days int) error
	Has(ctx context.Context, projectID string) (bool, error)
	Get(ctx context.Context, projectID, agentName, model string) (*baseline.Baseline, error)
}

// AnomalySource yields evaluated metrics for a project.
type AnomalySource interface {
	Detect(ctx context.Context, projectID string, recentHours int) ([]baseline.Anomaly, error)
}

// CachingSource yields duplicate-input opportunities.
type CachingSource interface {
	AnalyzeCachingOpportunities(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]pattern.CachingOpportunity, error)
}

// RecommendationSink persists suggestions and reports lifecycle outcomes.
type RecommendationSink interface {
	Create(ctx context.Context, projectID string, in recommend.CreateInput) (*recommend.Recommendation, error)
	Effectiveness(ctx context.Context, projectID string) (*recommend.Effectiveness, error)
}

type Synthesizer struct {
	events    events.Store
	baselines BaselineSource
	anomalies AnomalySource
	patterns  CachingSource
	pricing   pricing.Service
	tracker   RecommendationSink
	breaker   *gobreaker.CircuitBreaker
	cfg       config.EngineConfig
	tracer    trace.Tracer
	now       func() time.Time
}

func NewSynthesizer(
	eventStore events.Store,
	baselines BaselineSource,
	anomalies AnomalySource,
	patterns CachingSource,
	pricingSvc pricing.Service,
	tracker RecommendationSink,
	cfg config.EngineConfig,
	tracer trace.Tracer,
) *Synthesizer {
	settings := gobreaker.Settings{
		Name:        "pricing",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Synthesizer{
		events:    eventStore,
		baselines: baselines,
		anomalies: anomalies,
		patterns:  patterns,
		pricing:   pricingSvc,
		tracker:   tracker,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		cfg:       cfg,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Suggestions runs all five analyzers and returns the merged, sorted list.
// With persist=true the top suggestions are also written to the
// recommendation store; otherwise the call is side-effect-free apart from the
// lazy baseline bootstrap.
func (s *Synthesizer) Suggestions(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]Suggestion, error) {
	suggestions, err := s.generate(ctx, projectID, days, includeLowPriority)
	if err != nil {
		return nil, err
	}

	if persist {
		for i, sg := range suggestions {
			if i >= persistTopN {
				break
			}
			_, err := s.tracker.Create(ctx, projectID, recommend.CreateInput{
				Type:                    sg.Type,
				Title:                   sg.Title,
				Description:             sg.Description,
				AgentName:               sg.AgentName,
				Model:                   sg.Model,
				AlternativeModel:        sg.AlternativeModel,
				EstimatedMonthlySavings: sg.EstimatedSavingsMonthly,
				EstimatedSavingsPercent: sg.EstimatedSavingsPercent,
				Metrics:                 sg.Metrics,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to persist recommendation: %w", err)
			}
		}
	}

	return suggestions, nil
}

// generate is the side-effect-free synthesis core shared by Suggestions and
// Summary.
func (s *Synthesizer) generate(ctx context.Context, projectID string, days int, includeLowPriority bool) ([]Suggestion, error) {
	if days < 1 {
		days = 1
	}

	ctx, span := s.tracer.Start(ctx, "optimizer.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.Int("days", days),
	)

	// Anomaly detection needs baselines; bootstrap them on first use.
	if err := s.baselines.EnsureExist(ctx, projectID, days); err != nil {
		return nil, fmt.Errorf("failed to ensure baselines: %w", err)
	}

	now := s.now().UTC()
	from := now.AddDate(0, 0, -days)

	var suggestions []Suggestion

	downgrades, err := s.analyzeModelUsage(ctx, projectID, from, now, days)
	if err != nil {
		return nil, err
	}
	suggestions = append(suggestions, downgrades...)

	caching, err := s.analyzeCaching(ctx, projectID, days)
	if err != nil {
		return nil, err
	}
	suggestions = append(suggestions, caching...)

	anomalies, err := s.analyzeAnomalies(ctx, projectID)
	if err != nil {
		return nil, err
	}
	suggestions = append(suggestions, anomalies...)

	// Error and latency analysis share one grouped-stats query.
	stats, err := s.events.GroupStats(ctx, projectID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	errorFixes, err := s.analyzeErrorPatterns(ctx, projectID, stats, days)
	if err != nil {
		return nil, err
	}
	suggestions = append(suggestions, errorFixes...)

	latency, err := s.analyzeLatency(ctx, projectID, stats)
	if err != nil {
		return nil, err
	}
	suggestions = append(suggestions, latency...)

	if !includeLowPriority {
		kept := suggestions[:0]
		for _, sg := range suggestions {
			if sg.Priority != PriorityLow {
				kept = append(kept, sg)
			}
		}
		suggestions = kept
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].EstimatedSavingsMonthly > suggestions[j].EstimatedSavingsMonthly
	})

	span.SetAttributes(attribute.Int("suggestion_count", len(suggestions)))
	return suggestions, nil
}

func (s *Synthesizer) analyzeModelUsage(ctx context.Context, projectID string, from, to time.Time, days int) ([]Suggestion, error) {
	usage, err := s.events.ModelUsage(ctx, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}

	var suggestions []Suggestion
	for _, u := range usage {
		if u.Calls < s.cfg.MinSampleCount || u.TotalCost < 0.01 {
			continue
		}

		alternatives, err := s.discoverAlternatives(ctx, u.Model, int(u.AvgInputTokens), int(u.AvgOutputTokens))
		if err != nil {
			// Pricing being down degrades this one model's analysis, never
			// the whole batch.
			log.Printf("optimizer: pricing lookup failed for %s: %v", u.Model, err)
			continue
		}

		for _, alt := range alternatives {
			inputSavings := float64(u.TotalInputTokens) / 1000 * alt.Savings.InputPer1K
			outputSavings := float64(u.TotalOutputTokens) / 1000 * alt.Savings.OutputPer1K
			periodSavings := inputSavings + outputSavings
			if periodSavings <= 0 {
				continue
			}

			monthlySavings := periodSavings / float64(days) * 30
			if monthlySavings < s.cfg.MinActionableSavingsUSD {
				continue
			}

			monthlyCost := u.TotalCost / float64(days) * 30
			savingsPercent := 0.0
			if monthlyCost > 0 {
				savingsPercent = monthlySavings / monthlyCost * 100
			}

			suggestions = append(suggestions, Suggestion{
				Type:  TypeModelDowngrade,
				Title: fmt.Sprintf("Consider %s for %s", alt.Model, u.AgentName),
				Description: fmt.Sprintf(
					"Agent '%s' uses %s with average output of %.0f tokens. Switching to %s could reduce costs.",
					u.AgentName, u.Model, u.AvgOutputTokens, alt.Model,
				),
				AgentName:               u.AgentName,
				Model:                   u.Model,
				AlternativeModel:        alt.Model,
				EstimatedSavingsMonthly: round2(monthlySavings),
				EstimatedSavingsPercent: round1(savingsPercent),
				Priority:                s.priority(monthlySavings),
				ActionItems:             s.modelSwitchActions(u.AgentName, u.Model, alt.Model, monthlySavings, alt.QualityImpact, u.Calls),
				Metrics: DowngradeMetrics{
					CurrentCalls:       u.Calls,
					CurrentMonthlyCost: round2(monthlyCost),
					AvgInputTokens:     round1(u.AvgInputTokens),
					AvgOutputTokens:    round1(u.AvgOutputTokens),
					SavingsPercentage:  round1(alt.Savings.Percentage),
					QualityImpact:      alt.QualityImpact,
					Source:             alt.Source,
					ConfidenceScore:    alt.ConfidenceScore,
					TimesImplemented:   alt.TimesImplemented,
					SavingsAccuracy:    alt.SavingsAccuracy,
				},
			})
			// Only the best viable alternative per group.
			break
		}
	}

	return suggestions, nil
}

func (s *Synthesizer) discoverAlternatives(ctx context.Context, model string, avgInputTokens, avgOutputTokens int) ([]pricing.Alternative, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.pricing.DiscoverAlternatives(ctx, model, avgInputTokens, avgOutputTokens, 3)
	})
	if err != nil {
		return nil, err
	}
	return result.([]pricing.Alternative), nil
}

func (s *Synthesizer) analyzeCaching(ctx context.Context, projectID string, days int) ([]Suggestion, error) {
	opportunities, err := s.patterns.AnalyzeCachingOpportunities(
		ctx, projectID, days, s.cfg.MinCachingOccurrences, s.cfg.MinCachingSavingsUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze caching opportunities: %w", err)
	}

	var suggestions []Suggestion
	for _, opp := range opportunities {
		suggestions = append(suggestions, Suggestion{
			Type:  TypeCaching,
			Title: fmt.Sprintf("Add caching for %s", opp.AgentName),
			Description: fmt.Sprintf(
				"Agent '%s' has %.0f%% duplicate queries. Implementing response caching could save approximately $%.2f/month based on observed patterns.",
				opp.AgentName, opp.DuplicateRate, opp.EstimatedMonthlySavings,
			),
			AgentName:               opp.AgentName,
			EstimatedSavingsMonthly: round2(opp.EstimatedMonthlySavings),
			EstimatedSavingsPercent: round1(opp.DuplicateRate),
			Priority:                s.priority(opp.EstimatedMonthlySavings),
			ActionItems:             s.cachingActions(opp.AgentName, opp.DuplicateRate, opp.UniquePatterns, opp.DuplicateCalls),
			Metrics: CachingMetrics{
				UniquePatterns: opp.UniquePatterns,
				TotalCalls:     opp.TotalCalls,
				DuplicateCalls: opp.DuplicateCalls,
				DuplicateRate:  round1(opp.DuplicateRate),
			},
		})
	}

	return suggestions, nil
}

func (s *Synthesizer) analyzeAnomalies(ctx context.Context, projectID string) ([]Suggestion, error) {
	anomalies, err := s.anomalies.Detect(ctx, projectID, anomalyRecentHours)
	if err != nil {
		return nil, fmt.Errorf("failed to detect anomalies: %w", err)
	}

	var suggestions []Suggestion
	for _, a := range anomalies {
		if !a.IsAnomaly {
			continue
		}

		group := a.AgentName + "/" + a.Model
		var metricType, description string
		switch a.MetricName {
		case "cost_per_call":
			metricType = "cost"
			description = fmt.Sprintf(
				"Cost per call is %.1f standard deviations %s than normal for %s. Current: $%.4f, Baseline: $%.4f",
				math.Abs(a.ZScore), direction(a.ZScore), group, a.CurrentValue, a.BaselineMean,
			)
		case "latency_ms":
			metricType = "latency"
			description = fmt.Sprintf(
				"Latency is %.1f standard deviations %s than normal for %s. Current: %.0fms, Baseline: %.0fms",
				math.Abs(a.ZScore), direction(a.ZScore), group, a.CurrentValue, a.BaselineMean,
			)
		case "error_rate":
			metricType = "error"
			description = fmt.Sprintf(
				"Error rate is elevated for %s. Current: %.1f%%, Baseline: %.1f%%",
				group, a.CurrentValue*100, a.BaselineMean*100,
			)
		default:
			continue
		}

		suggestions = append(suggestions, Suggestion{
			Type:        TypeAnomalyAlert,
			Title:       fmt.Sprintf("Anomaly detected: %s for %s", metricType, group),
			Description: description,
			AgentName:   a.AgentName,
			Model:       a.Model,
			Priority:    a.Severity,
			ActionItems: s.anomalyActions(metricType, group, a.ZScore, a.CurrentValue, a.BaselineMean),
			Metrics: AnomalyMetrics{
				MetricName:     a.MetricName,
				CurrentValue:   round4(a.CurrentValue),
				BaselineMean:   round4(a.BaselineMean),
				BaselineStddev: round4(a.BaselineStddev),
				ZScore:         round2(a.ZScore),
			},
		})
	}

	return suggestions, nil
}

func (s *Synthesizer) analyzeErrorPatterns(ctx context.Context, projectID string, stats []events.GroupStats, days int) ([]Suggestion, error) {
	var suggestions []Suggestion
	for _, g := range stats {
		if g.Calls < s.cfg.MinSampleCount || g.ErrorCount < 3 {
			continue
		}

		errorRate := float64(g.ErrorCount) / float64(g.Calls)

		b, err := s.baselines.Get(ctx, projectID, g.AgentName, g.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to get baseline: %w", err)
		}

		baselineErrorRate := 0.02
		if b != nil {
			baselineErrorRate = b.AvgErrorRate
		}

		if errorRate <= baselineErrorRate*s.cfg.ErrorRateRatio {
			continue
		}

		monthlyWasted := g.FailedCost / float64(days) * 30
		if monthlyWasted < s.cfg.MinErrorSavingsUSD {
			continue
		}

		suggestions = append(suggestions, Suggestion{
			Type:  TypeErrorReduction,
			Title: fmt.Sprintf("Reduce errors in %s", g.AgentName),
			Description: fmt.Sprintf(
				"Agent '%s' using %s has %.1f%% error rate (baseline: %.1f%%), wasting $%.2f/month on failed calls.",
				g.AgentName, g.Model, errorRate*100, baselineErrorRate*100, monthlyWasted,
			),
			AgentName:               g.AgentName,
			Model:                   g.Model,
			EstimatedSavingsMonthly: round2(monthlyWasted),
			EstimatedSavingsPercent: round1(errorRate * 100),
			Priority:                s.priority(monthlyWasted),
			ActionItems:             s.errorActions(g.AgentName, g.Model, errorRate, baselineErrorRate, g.ErrorCount, monthlyWasted),
			Metrics: ErrorMetrics{
				TotalCalls:        g.Calls,
				ErrorCount:        g.ErrorCount,
				ErrorRate:         round2(errorRate * 100),
				BaselineErrorRate: round2(baselineErrorRate * 100),
				WastedCost:        round4(g.FailedCost),
			},
		})
	}

	return suggestions, nil
}

func (s *Synthesizer) analyzeLatency(ctx context.Context, projectID string, stats []events.GroupStats) ([]Suggestion, error) {
	var suggestions []Suggestion
	for _, g := range stats {
		if g.Calls < s.cfg.MinSampleCount {
			continue
		}

		b, err := s.baselines.Get(ctx, projectID, g.AgentName, g.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to get baseline: %w", err)
		}
		if b == nil || b.StddevLatencyMs == 0 {
			continue
		}

		z := (g.AvgLatencyMs - b.AvgLatencyMs) / b.StddevLatencyMs
		if z < s.cfg.AnomalyZThreshold {
			continue
		}

		priority := PriorityMedium
		if z > s.cfg.HighSeverityZ {
			priority = PriorityHigh
		}

		suggestions = append(suggestions, Suggestion{
			Type:  TypePromptOptimization,
			Title: fmt.Sprintf("Optimize prompts for %s", g.AgentName),
			Description: fmt.Sprintf(
				"Agent '%s' has elevated latency (%.0fms vs %.0fms baseline) with %.0f average input tokens. Consider shortening prompts or using streaming.",
				g.AgentName, g.AvgLatencyMs, b.AvgLatencyMs, g.AvgInputTokens,
			),
			AgentName:   g.AgentName,
			Model:       g.Model,
			Priority:    priority,
			ActionItems: s.latencyActions(g.AgentName, g.Model, g.AvgLatencyMs, b.AvgLatencyMs, g.AvgInputTokens, z),
			Metrics: LatencyMetrics{
				AvgLatencyMs:      math.Round(g.AvgLatencyMs),
				BaselineLatencyMs: math.Round(b.AvgLatencyMs),
				ZScore:            round2(z),
				AvgInputTokens:    math.Round(g.AvgInputTokens),
			},
		})
	}

	return suggestions, nil
}

func (s *Synthesizer) priority(monthlySavings float64) string {
	switch {
	case monthlySavings >= s.cfg.HighPriorityUSD:
		return PriorityHigh
	case monthlySavings >= s.cfg.MediumPriorityUSD:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func direction(z float64) string {
	if z > 0 {
		return "higher"
	}
	return "lower"
}

// Rounding contract: money to 2 decimals, percentages to 1, raw metric values
// to 4, applied here at the synthesis boundary only.
func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
