// Package pattern detects repeated input fingerprints and quantifies the
// savings caching those calls would unlock.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentcost/agentcost/internal/events"
)

// CachingOpportunity summarizes the duplicate traffic for one agent.
// Derived per call, never stored.
type CachingOpportunity struct {
	AgentName               string  `json:"agent_name"`
	UniquePatterns          int     `json:"unique_patterns"`
	TotalCalls              int     `json:"total_calls"`
	DuplicateCalls          int     `json:"duplicate_calls"`
	DuplicateRate           float64 `json:"duplicate_rate"`
	EstimatedMonthlySavings float64 `json:"estimated_monthly_savings"`
}

type Analyzer struct {
	events events.Store
	now    func() time.Time
}

func NewAnalyzer(eventStore events.Store) *Analyzer {
	return &Analyzer{events: eventStore, now: time.Now}
}

// AnalyzeCachingOpportunities groups in-window events by (agent, input_hash),
// keeps hashes seen at least minOccurrences times, and prices the calls beyond
// the first occurrence of each hash as avoidable. Savings are normalized to a
// 30-day month; opportunities below minSavings are dropped.
func (a *Analyzer) AnalyzeCachingOpportunities(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]CachingOpportunity, error) {
	if days < 1 {
		days = 1
	}
	if minOccurrences < 2 {
		minOccurrences = 2
	}

	now := a.now().UTC()
	from := now.AddDate(0, 0, -days)

	groups, err := a.events.PatternGroups(ctx, projectID, from, now, minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	totals, err := a.events.AgentCallTotals(ctx, projectID, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent totals: %w", err)
	}

	type agentAgg struct {
		uniquePatterns int
		duplicateCalls int
		duplicateCost  float64
	}
	byAgent := make(map[string]*agentAgg)
	for _, g := range groups {
		agg := byAgent[g.AgentName]
		if agg == nil {
			agg = &agentAgg{}
			byAgent[g.AgentName] = agg
		}
		agg.uniquePatterns++
		extra := g.Occurrences - 1
		agg.duplicateCalls += extra
		// Cost of every occurrence beyond the first, priced at the hash's
		// average per-call cost.
		agg.duplicateCost += g.AvgCost * float64(extra)
	}

	var opportunities []CachingOpportunity
	for agent, agg := range byAgent {
		total := totals[agent]
		if total == 0 {
			continue
		}

		monthlySavings := agg.duplicateCost / float64(days) * 30
		if monthlySavings < minSavings {
			continue
		}

		opportunities = append(opportunities, CachingOpportunity{
			AgentName:               agent,
			UniquePatterns:          agg.uniquePatterns,
			TotalCalls:              total,
			DuplicateCalls:          agg.duplicateCalls,
			DuplicateRate:           float64(agg.duplicateCalls) / float64(total) * 100,
			EstimatedMonthlySavings: monthlySavings,
		})
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].EstimatedMonthlySavings > opportunities[j].EstimatedMonthlySavings
	})

	return opportunities, nil
}
