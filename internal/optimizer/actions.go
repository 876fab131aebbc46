package optimizer

import (
	"fmt"
	"math"
)

// Action-item builders produce concrete remediation steps from simple
// threshold rules over the computed values. They are descriptive text for the
// caller, never executed here.

func (s *Synthesizer) modelSwitchActions(agent, currentModel, alternativeModel string, monthlySavings float64, qualityImpact string, calls int) []string {
	var actions []string

	switch qualityImpact {
	case "minimal":
		actions = append(actions, fmt.Sprintf(
			"Run A/B test: route 10%% of %s traffic to %s and compare output quality scores",
			agent, alternativeModel,
		))
	case "moderate":
		actions = append(actions, fmt.Sprintf(
			"Evaluate %s on your %s test suite - expect some quality differences",
			alternativeModel, agent,
		))
	default:
		actions = append(actions, fmt.Sprintf(
			"Thoroughly test %s - significant capability differences expected vs %s",
			alternativeModel, currentModel,
		))
	}

	if calls > 1000 {
		actions = append(actions, fmt.Sprintf(
			"With %d calls/period, implement gradual rollout: 10%% -> 25%% -> 50%% -> 100%% over 2 weeks",
			calls,
		))
	} else {
		actions = append(actions, fmt.Sprintf("Switch %s configuration from %s to %s", agent, currentModel, alternativeModel))
	}

	actions = append(actions, fmt.Sprintf("Monitor %s error rates and user feedback for 48 hours after switch", agent))

	if monthlySavings > 100 {
		actions = append(actions, fmt.Sprintf("Expected savings: $%.2f/month - prioritize this migration", monthlySavings))
	}

	return actions
}

func (s *Synthesizer) cachingActions(agent string, duplicateRate float64, uniquePatterns, duplicateCalls int) []string {
	var actions []string

	cacheSize := uniquePatterns * 2
	if cacheSize > 10000 {
		cacheSize = 10000
	}
	actions = append(actions, fmt.Sprintf(
		"Implement cache with size %d entries - you have %d unique query patterns",
		cacheSize, uniquePatterns,
	))

	switch {
	case duplicateRate > 50:
		actions = append(actions, fmt.Sprintf(
			"High duplicate rate (%.0f%%) - use aggressive caching with 1-hour TTL",
			duplicateRate,
		))
	case duplicateRate > 20:
		actions = append(actions, fmt.Sprintf(
			"Moderate duplicates (%.0f%%) - use 30-minute TTL with LRU eviction",
			duplicateRate,
		))
	default:
		actions = append(actions, fmt.Sprintf("Use 15-minute TTL for %s cache", agent))
	}

	if duplicateCalls > 100 {
		actions = append(actions, fmt.Sprintf(
			"Add semantic similarity matching - %d duplicate calls may have slight variations",
			duplicateCalls,
		))
	}

	actions = append(actions, fmt.Sprintf("Log cache hits/misses for %s to measure effectiveness", agent))

	return actions
}

func (s *Synthesizer) anomalyActions(metricType, group string, zScore, currentValue, baselineMean float64) []string {
	var actions []string

	deviationPct := 0.0
	if baselineMean != 0 {
		deviationPct = math.Abs((currentValue - baselineMean) / baselineMean * 100)
	}

	switch metricType {
	case "cost":
		if zScore > 0 {
			actions = append(actions, fmt.Sprintf(
				"Cost increased %.0f%% for %s - check for prompt length changes or model switches",
				deviationPct, group,
			))
			actions = append(actions, fmt.Sprintf("Compare recent %s token counts to baseline", group))
		} else {
			actions = append(actions, fmt.Sprintf(
				"Cost decreased %.0f%% for %s - verify functionality is not degraded",
				deviationPct, group,
			))
		}
	case "latency":
		if zScore > 0 {
			actions = append(actions, fmt.Sprintf(
				"Latency increased %.0f%% for %s - check provider status page for incidents",
				deviationPct, group,
			))
			actions = append(actions, "Review recent prompt changes that may have increased token count")
		} else {
			actions = append(actions, fmt.Sprintf("Latency improved for %s - no action needed", group))
		}
	case "error":
		actions = append(actions, fmt.Sprintf(
			"Error rate at %.1f%% for %s - check API logs for specific error types",
			currentValue*100, group,
		))
		actions = append(actions, fmt.Sprintf("Verify input validation is working for %s", group))
	}

	if math.Abs(zScore) > 3 {
		actions = append(actions, fmt.Sprintf("Urgent: %.1f-sigma deviation requires immediate investigation", math.Abs(zScore)))
	}

	return actions
}

func (s *Synthesizer) errorActions(agent, model string, errorRate, baselineErrorRate float64, errorCount int, monthlyWasted float64) []string {
	var actions []string

	if errorRate > 0.10 {
		actions = append(actions, fmt.Sprintf(
			"Critical: %.1f%% error rate on %s - query last %d failed requests for common patterns",
			errorRate*100, agent, errorCount,
		))
	} else {
		errorIncrease := 0.0
		if baselineErrorRate > 0 {
			errorIncrease = (errorRate - baselineErrorRate) / baselineErrorRate * 100
		}
		actions = append(actions, fmt.Sprintf(
			"Error rate %.0f%% above baseline - review %s error logs from past 24 hours",
			errorIncrease, agent,
		))
	}

	if errorCount > 50 {
		actions = append(actions, fmt.Sprintf(
			"Implement retry with exponential backoff for %s - %d failures may be transient",
			model, errorCount,
		))
	}

	if monthlyWasted > 10 {
		actions = append(actions, fmt.Sprintf(
			"Add pre-call validation for %s - $%.2f/month wasted on failed requests",
			agent, monthlyWasted,
		))
	}

	actions = append(actions, fmt.Sprintf("Consider adding fallback model for %s when %s fails", agent, model))

	return actions
}

func (s *Synthesizer) latencyActions(agent, model string, avgLatency, baselineLatency, avgInputTokens, zScore float64) []string {
	var actions []string

	if avgInputTokens > 2000 {
		actions = append(actions, fmt.Sprintf(
			"Reduce prompt size for %s - currently %.0f tokens, aim for <2000 tokens",
			agent, avgInputTokens,
		))
	}

	if avgLatency-baselineLatency > 1000 {
		actions = append(actions, fmt.Sprintf(
			"Latency increased by %.0fms - check if %s is experiencing provider-side delays",
			avgLatency-baselineLatency, model,
		))
	}

	if zScore > 3.0 {
		actions = append(actions, fmt.Sprintf(
			"Severe latency issue (%.1f-sigma) - consider switching to faster model variant or enabling streaming for %s",
			zScore, agent,
		))
	} else {
		actions = append(actions, fmt.Sprintf("Enable response streaming for %s to improve perceived latency", agent))
	}

	actions = append(actions, fmt.Sprintf("Profile %s prompt construction to identify bottlenecks", agent))

	return actions
}
