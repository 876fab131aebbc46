package optimizer

import (
	"context"
	"fmt"

	"github.com/agentcost/agentcost/internal/recommend"
)

// Reasons Summary gives for an empty suggestion list.
const (
	EmptyNoData           = "no_data"           // zero events in the window
	EmptyInsufficientData = "insufficient_data" // too few events for any baseline
	EmptyNoBaselines      = "no_baselines"      // events exist, no group reached the sample minimum
	EmptyOptimized        = "optimized"         // data and baselines exist, nothing to suggest
)

type TypeBreakdown struct {
	Count   int     `json:"count"`
	Savings float64 `json:"savings"`
}

type Summary struct {
	TotalPotentialSavingsMonthly float64                  `json:"total_potential_savings_monthly"`
	TotalPotentialSavingsPercent float64                  `json:"total_potential_savings_percent"`
	CurrentMonthlySpend          float64                  `json:"current_monthly_spend"`
	SuggestionCount              int                      `json:"suggestion_count"`
	HighPriorityCount            int                      `json:"high_priority_count"`
	ByType                       map[string]TypeBreakdown `json:"by_type"`
	Effectiveness                *recommend.Effectiveness `json:"effectiveness"`
	Suggestions                  []Suggestion             `json:"suggestions"`
	HasData                      bool                     `json:"has_data"`
	HasBaselines                 bool                     `json:"has_baselines"`
	EventCount                   int                      `json:"event_count"`
	EmptyReason                  string                   `json:"empty_reason,omitempty"`
}

// Summary runs the synthesis without persistence and wraps it with spend
// context, lifecycle effectiveness, and an empty-state classification.
func (s *Synthesizer) Summary(ctx context.Context, projectID string, days int) (*Summary, error) {
	if days < 1 {
		days = 1
	}

	suggestions, err := s.generate(ctx, projectID, days, true)
	if err != nil {
		return nil, err
	}

	totalSavings := 0.0
	highPriority := 0
	byType := make(map[string]TypeBreakdown)
	for _, sg := range suggestions {
		totalSavings += sg.EstimatedSavingsMonthly
		if sg.Priority == PriorityHigh {
			highPriority++
		}
		b := byType[sg.Type]
		b.Count++
		b.Savings = round2(b.Savings + sg.EstimatedSavingsMonthly)
		byType[sg.Type] = b
	}

	now := s.now().UTC()
	overview, err := s.events.ProjectOverview(ctx, projectID, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, fmt.Errorf("failed to load project overview: %w", err)
	}

	monthlySpend := overview.TotalCost / float64(days) * 30
	savingsPercent := 0.0
	if monthlySpend > 0 {
		savingsPercent = totalSavings / monthlySpend * 100
	}

	effectiveness, err := s.tracker.Effectiveness(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effectiveness: %w", err)
	}

	hasBaselines, err := s.baselines.Has(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check baselines: %w", err)
	}

	summary := &Summary{
		TotalPotentialSavingsMonthly: round2(totalSavings),
		TotalPotentialSavingsPercent: round1(savingsPercent),
		CurrentMonthlySpend:          round2(monthlySpend),
		SuggestionCount:              len(suggestions),
		HighPriorityCount:            highPriority,
		ByType:                       byType,
		Effectiveness:                effectiveness,
		Suggestions:                  topN(suggestions, 5),
		HasData:                      overview.TotalCalls > 0,
		HasBaselines:                 hasBaselines,
		EventCount:                   overview.TotalCalls,
	}

	if len(suggestions) == 0 {
		switch {
		case !summary.HasData:
			summary.EmptyReason = EmptyNoData
		case !hasBaselines && overview.TotalCalls < s.cfg.MinSampleCount:
			summary.EmptyReason = EmptyInsufficientData
		case !hasBaselines:
			summary.EmptyReason = EmptyNoBaselines
		default:
			summary.EmptyReason = EmptyOptimized
		}
	}

	return summary, nil
}

func topN(suggestions []Suggestion, n int) []Suggestion {
	if len(suggestions) <= n {
		return suggestions
	}
	return suggestions[:n]
}
