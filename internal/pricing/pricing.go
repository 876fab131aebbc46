// Package pricing maintains the model price catalog and ranks cheaper
// alternatives for a given usage profile.
package pricing

import (
	"context"
	"sort"
)

// Quality impact tags for a model switch.
const (
	ImpactMinimal     = "minimal"
	ImpactModerate    = "moderate"
	ImpactSignificant = "significant"
)

// Alternative sources: "learned" alternatives are backed by implemented
// recommendations; "dynamic" ones come purely from the price catalog.
const (
	SourceLearned = "learned"
	SourceDynamic = "dynamic"
)

// ModelPricing is one catalog row, per-1k-token prices in USD.
type ModelPricing struct {
	ModelName        string
	Provider         string
	InputPricePer1K  float64
	OutputPricePer1K float64
	Active           bool
}

// Savings holds the per-1k price deltas of an alternative versus the current
// model, plus the estimated relative saving for the caller's token profile.
type Savings struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
	Percentage  float64 `json:"percentage"`
}

// Alternative is one ranked downgrade candidate.
type Alternative struct {
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	Savings          Savings `json:"savings"`
	QualityImpact    string  `json:"quality_impact"`
	Source           string  `json:"source"`
	ConfidenceScore  float64 `json:"confidence_score"`
	TimesImplemented int     `json:"times_implemented"`
	SavingsAccuracy  float64 `json:"savings_accuracy"`
}

// OutcomeStats summarizes implemented recommendations for a (model,
// alternative) pair, fed back from the recommendation tracker.
type OutcomeStats struct {
	TimesImplemented int
	SavingsAccuracy  float64 // actual/estimated ratio, 0 when unknown
}

type Service interface {
	// DiscoverAlternatives returns cheaper active models for the usage
	// profile, ordered by estimated savings. An unknown current model yields
	// an empty result, not an error.
	DiscoverAlternatives(ctx context.Context, model string, avgInputTokens, avgOutputTokens, maxResults int) ([]Alternative, error)
}

// rankAlternatives is the pure ranking core: candidates priced below the
// current model for this token profile, best estimated saving first.
func rankAlternatives(current ModelPricing, candidates []ModelPricing, outcomes map[string]OutcomeStats, avgInputTokens, avgOutputTokens, maxResults int) []Alternative {
	currentCost := perCallCost(current, avgInputTokens, avgOutputTokens)
	if currentCost <= 0 {
		return nil
	}

	var alts []Alternative
	for _, c := range candidates {
		if !c.Active || c.ModelName == current.ModelName {
			continue
		}

		altCost := perCallCost(c, avgInputTokens, avgOutputTokens)
		saved := currentCost - altCost
		if saved <= 0 {
			continue
		}

		pct := saved / currentCost * 100
		alt := Alternative{
			Model:    c.ModelName,
			Provider: c.Provider,
			Savings: Savings{
				InputPer1K:  current.InputPricePer1K - c.InputPricePer1K,
				OutputPer1K: current.OutputPricePer1K - c.OutputPricePer1K,
				Percentage:  pct,
			},
			QualityImpact:   qualityImpact(current, c, pct),
			Source:          SourceDynamic,
			ConfidenceScore: 0.5,
		}

		if o, ok := outcomes[c.ModelName]; ok && o.TimesImplemented > 0 {
			alt.Source = SourceLearned
			alt.TimesImplemented = o.TimesImplemented
			alt.SavingsAccuracy = o.SavingsAccuracy
			alt.ConfidenceScore = learnedConfidence(o)
		}

		alts = append(alts, alt)
	}

	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].Savings.Percentage > alts[j].Savings.Percentage
	})

	if maxResults > 0 && len(alts) > maxResults {
		alts = alts[:maxResults]
	}

	return alts
}

func perCallCost(p ModelPricing, avgInputTokens, avgOutputTokens int) float64 {
	return float64(avgInputTokens)/1000*p.InputPricePer1K +
		float64(avgOutputTokens)/1000*p.OutputPricePer1K
}

// qualityImpact is a coarse heuristic: a small price gap within the same
// provider family is usually an adjacent tier; a large gap or a provider
// switch carries more capability risk.
func qualityImpact(current, alt ModelPricing, savingsPct float64) string {
	sameProvider := current.Provider == alt.Provider
	switch {
	case sameProvider && savingsPct < 40:
		return ImpactMinimal
	case savingsPct < 70:
		return ImpactModerate
	default:
		return ImpactSignificant
	}
}

// learnedConfidence grows with adoption and with how close actual savings
// landed to the estimates, capped below certainty.
func learnedConfidence(o OutcomeStats) float64 {
	conf := 0.6 + 0.05*float64(o.TimesImplemented)
	if o.SavingsAccuracy > 0.8 && o.SavingsAccuracy < 1.2 {
		conf += 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
