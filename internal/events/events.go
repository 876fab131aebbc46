package events

import (
	"context"
	"time"
)

// Event is a single recorded LLM call. Rows are written by the ingestion
// pipeline and are read-only here.
type Event struct {
	ID           string
	ProjectID    string
	AgentName    string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	LatencyMs    int64
	Success      bool
	InputHash    string // fingerprint of normalized request content, may be empty
	Timestamp    time.Time
}

// ModelUsage is the per (model, agent) aggregate used by the downgrade analyzer.
type ModelUsage struct {
	Model             string
	AgentName         string
	Calls             int
	TotalCost         float64
	AvgInputTokens    float64
	AvgOutputTokens   float64
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// GroupStats is the per (agent, model) statistical aggregate consumed by the
// baseline computer and the anomaly detector.
type GroupStats struct {
	AgentName       string
	Model           string
	Calls           int
	AvgCost         float64
	StddevCost      float64
	AvgInputTokens  float64
	StddevInput     float64
	AvgOutputTokens float64
	StddevOutput    float64
	AvgLatencyMs    float64
	StddevLatencyMs float64
	ErrorCount      int
	FailedCost      float64
}

// DailyCalls is the call count for one (agent, model) on one UTC calendar day.
type DailyCalls struct {
	AgentName string
	Model     string
	Day       time.Time
	Calls     int
}

// PatternGroup is a repeated input fingerprint for one agent.
type PatternGroup struct {
	AgentName   string
	InputHash   string
	Occurrences int
	TotalCost   float64
	AvgCost     float64
}

// Overview is the project-wide spend summary for a window.
type Overview struct {
	TotalCalls int
	TotalCost  float64
}

type Store interface {
	ModelUsage(ctx context.Context, projectID string, from, to time.Time) ([]ModelUsage, error)
	GroupStats(ctx context.Context, projectID string, from, to time.Time) ([]GroupStats, error)
	DailyCalls(ctx context.Context, projectID string, from, to time.Time) ([]DailyCalls, error)
	PatternGroups(ctx context.Context, projectID string, from, to time.Time, minOccurrences int) ([]PatternGroup, error)
	AgentCallTotals(ctx context.Context, projectID string, from, to time.Time) (map[string]int, error)
	ProjectOverview(ctx context.Context, projectID string, from, to time.Time) (*Overview, error)
}
