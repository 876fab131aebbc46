package optimizer

// Suggestion types. Latency findings are emitted as prompt_optimization since
// shorter prompts are the usual remedy.
const (
	TypeModelDowngrade     = "model_downgrade"
	TypeCaching            = "caching"
	TypePromptOptimization = "prompt_optimization"
	TypeErrorReduction     = "error_reduction"
	TypeAnomalyAlert       = "anomaly_alert"
)

// Priority buckets.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Suggestion is the transient unit returned to API callers. A subset of
// suggestions becomes persisted recommendations; see the recommend package.
type Suggestion struct {
	Type                    string   `json:"type"`
	Title                   string   `json:"title"`
	Description             string   `json:"description"`
	AgentName               string   `json:"agent_name,omitempty"`
	Model                   string   `json:"model,omitempty"`
	AlternativeModel        string   `json:"alternative_model,omitempty"`
	EstimatedSavingsMonthly float64  `json:"estimated_savings_monthly"`
	EstimatedSavingsPercent float64  `json:"estimated_savings_percent"`
	Priority                string   `json:"priority"`
	ActionItems             []string `json:"action_items"`
	Metrics                 Metrics  `json:"metrics"`
}

// Metrics is the typed per-suggestion payload. One variant per suggestion
// type keeps serialization exhaustive instead of an open map.
type Metrics interface {
	isMetrics()
}

type DowngradeMetrics struct {
	CurrentCalls       int     `json:"current_calls"`
	CurrentMonthlyCost float64 `json:"current_monthly_cost"`
	AvgInputTokens     float64 `json:"avg_input_tokens"`
	AvgOutputTokens    float64 `json:"avg_output_tokens"`
	SavingsPercentage  float64 `json:"savings_percentage"`
	QualityImpact      string  `json:"quality_impact"`
	Source             string  `json:"source,omitempty"`
	ConfidenceScore    float64 `json:"confidence_score,omitempty"`
	TimesImplemented   int     `json:"times_implemented,omitempty"`
	SavingsAccuracy    float64 `json:"savings_accuracy,omitempty"`
}

type CachingMetrics struct {
	UniquePatterns int     `json:"unique_patterns"`
	TotalCalls     int     `json:"total_calls"`
	DuplicateCalls int     `json:"duplicate_calls"`
	DuplicateRate  float64 `json:"duplicate_rate"`
}

type AnomalyMetrics struct {
	MetricName     string  `json:"metric_name"`
	CurrentValue   float64 `json:"current_value"`
	BaselineMean   float64 `json:"baseline_mean"`
	BaselineStddev float64 `json:"baseline_stddev"`
	ZScore         float64 `json:"z_score"`
}

type ErrorMetrics struct {
	TotalCalls        int     `json:"total_calls"`
	ErrorCount        int     `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	BaselineErrorRate float64 `json:"baseline_error_rate"`
	WastedCost        float64 `json:"wasted_cost"`
}

type LatencyMetrics struct {
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	BaselineLatencyMs float64 `json:"baseline_latency_ms"`
	ZScore            float64 `json:"z_score"`
	AvgInputTokens    float64 `json:"avg_input_tokens"`
}

func (DowngradeMetrics) isMetrics() {}
func (CachingMetrics) isMetrics()   {}
func (AnomalyMetrics) isMetrics()   {}
func (ErrorMetrics) isMetrics()     {}
func (LatencyMetrics) isMetrics()   {}
