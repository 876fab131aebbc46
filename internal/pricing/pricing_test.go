package pricing

import "testing"

func catalog() (ModelPricing, []ModelPricing) {
	current := ModelPricing{
		ModelName:        "gpt-4",
		Provider:         "openai",
		InputPricePer1K:  0.03,
		OutputPricePer1K: 0.06,
		Active:           true,
	}
	candidates := []ModelPricing{
		current,
		{ModelName: "gpt-4o", Provider: "openai", InputPricePer1K: 0.0025, OutputPricePer1K: 0.01, Active: true},
		{ModelName: "gpt-4o-mini", Provider: "openai", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, Active: true},
		{ModelName: "claude-3-opus", Provider: "anthropic", InputPricePer1K: 0.015, OutputPricePer1K: 0.075, Active: true},
		{ModelName: "retired-model", Provider: "openai", InputPricePer1K: 0.001, OutputPricePer1K: 0.002, Active: false},
	}
	return current, candidates
}

func TestRankAlternatives_CheaperModelsOnly(t *testing.T) {
	current, candidates := catalog()

	alts := rankAlternatives(current, candidates, nil, 1000, 1000, 0)

	for _, a := range alts {
		if a.Model == "gpt-4" {
			t.Error("Current model must not be its own alternative")
		}
		if a.Model == "retired-model" {
			t.Error("Inactive models must be excluded")
		}
		if a.Savings.Percentage <= 0 {
			t.Errorf("Expected positive savings for %s, got %f", a.Model, a.Savings.Percentage)
		}
	}
	// claude-3-opus is pricier for this profile (0.015 + 0.075 > 0.03 + 0.06).
	for _, a := range alts {
		if a.Model == "claude-3-opus" {
			t.Error("More expensive model offered as alternative")
		}
	}
}

func TestRankAlternatives_OrderedBySavings(t *testing.T) {
	current, candidates := catalog()

	alts := rankAlternatives(current, candidates, nil, 1000, 1000, 0)

	if len(alts) != 2 {
		t.Fatalf("Expected 2 alternatives, got %d", len(alts))
	}
	if alts[0].Model != "gpt-4o-mini" {
		t.Errorf("Expected cheapest model first, got %s", alts[0].Model)
	}
	for i := 1; i < len(alts); i++ {
		if alts[i].Savings.Percentage > alts[i-1].Savings.Percentage {
			t.Errorf("Expected descending savings, got %f before %f",
				alts[i-1].Savings.Percentage, alts[i].Savings.Percentage)
		}
	}
}

func TestRankAlternatives_MaxResults(t *testing.T) {
	current, candidates := catalog()

	alts := rankAlternatives(current, candidates, nil, 1000, 1000, 1)

	if len(alts) != 1 {
		t.Errorf("Expected results capped at 1, got %d", len(alts))
	}
}

func TestRankAlternatives_ZeroCostProfileYieldsNothing(t *testing.T) {
	current, candidates := catalog()

	if alts := rankAlternatives(current, candidates, nil, 0, 0, 0); alts != nil {
		t.Errorf("Expected nil for a zero-cost profile, got %v", alts)
	}
}

func TestRankAlternatives_LearnedOutcomesRaiseConfidence(t *testing.T) {
	current, candidates := catalog()
	outcomes := map[string]OutcomeStats{
		"gpt-4o": {TimesImplemented: 4, SavingsAccuracy: 0.95},
	}

	alts := rankAlternatives(current, candidates, outcomes, 1000, 1000, 0)

	var learned, dynamic *Alternative
	for i := range alts {
		switch alts[i].Model {
		case "gpt-4o":
			learned = &alts[i]
		case "gpt-4o-mini":
			dynamic = &alts[i]
		}
	}
	if learned == nil || dynamic == nil {
		t.Fatal("Expected both alternatives present")
	}

	if learned.Source != SourceLearned {
		t.Errorf("Expected learned source, got %s", learned.Source)
	}
	if learned.TimesImplemented != 4 {
		t.Errorf("Expected 4 implementations, got %d", learned.TimesImplemented)
	}
	// 0.6 base + 4 * 0.05 adoption + 0.1 accuracy bonus.
	if learned.ConfidenceScore < 0.899 || learned.ConfidenceScore > 0.901 {
		t.Errorf("Expected confidence ~0.9, got %f", learned.ConfidenceScore)
	}

	if dynamic.Source != SourceDynamic {
		t.Errorf("Expected dynamic source, got %s", dynamic.Source)
	}
	if dynamic.ConfidenceScore != 0.5 {
		t.Errorf("Expected base confidence 0.5, got %f", dynamic.ConfidenceScore)
	}
}

func TestLearnedConfidence_Capped(t *testing.T) {
	conf := learnedConfidence(OutcomeStats{TimesImplemented: 20, SavingsAccuracy: 1.0})
	if conf != 0.95 {
		t.Errorf("Expected confidence capped at 0.95, got %f", conf)
	}
}

func TestQualityImpact_Buckets(t *testing.T) {
	openai := func(name string) ModelPricing {
		return ModelPricing{ModelName: name, Provider: "openai"}
	}
	anthropic := func(name string) ModelPricing {
		return ModelPricing{ModelName: name, Provider: "anthropic"}
	}

	tests := []struct {
		name    string
		current ModelPricing
		alt     ModelPricing
		pct     float64
		want    string
	}{
		{"same provider small gap", openai("gpt-4"), openai("gpt-4o"), 30, ImpactMinimal},
		{"same provider medium gap", openai("gpt-4"), openai("gpt-4o-mini"), 60, ImpactModerate},
		{"cross provider small gap", openai("gpt-4"), anthropic("claude-3-haiku"), 30, ImpactModerate},
		{"huge gap", openai("gpt-4"), openai("gpt-3.5-turbo"), 95, ImpactSignificant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qualityImpact(tt.current, tt.alt, tt.pct); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
