// Package api exposes the optimization engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/agentcost/agentcost/internal/auth"
	"github.com/agentcost/agentcost/internal/baseline"
	"github.com/agentcost/agentcost/internal/optimizer"
	"github.com/agentcost/agentcost/internal/pattern"
	"github.com/agentcost/agentcost/internal/recommend"
	"github.com/agentcost/agentcost/pkg/ratelimit"
)

const summaryCacheTTL = 5 * time.Minute

// Engine is the suggestion surface of the optimizer.
type Engine interface {
	Suggestions(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error)
	Summary(ctx context.Context, projectID string, days int) (*optimizer.Summary, error)
}

// Baselines is the baseline surface exposed to callers.
type Baselines interface {
	Compute(ctx context.Context, projectID string, days int) (*baseline.ComputeResult, error)
	List(ctx context.Context, projectID string) ([]*baseline.Baseline, error)
}

// Patterns is the caching-opportunity surface.
type Patterns interface {
	AnalyzeCachingOpportunities(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]pattern.CachingOpportunity, error)
}

// Recommendations is the lifecycle surface of the tracker.
type Recommendations interface {
	Pending(ctx context.Context, projectID string) ([]*recommend.Recommendation, error)
	MarkImplemented(ctx context.Context, id, projectID string) (*recommend.Recommendation, error)
	MarkDismissed(ctx context.Context, id, projectID, feedback string) (*recommend.Recommendation, error)
	Effectiveness(ctx context.Context, projectID string) (*recommend.Effectiveness, error)
}

type Handler struct {
	engine    Engine
	baselines Baselines
	patterns  Patterns
	recs      Recommendations
	limiter   *ratelimit.Limiter
	cache     *redis.Client
}

func NewHandler(engine Engine, baselines Baselines, patterns Patterns, recs Recommendations, limiter *ratelimit.Limiter, cache *redis.Client) *Handler {
	return &Handler{
		engine:    engine,
		baselines: baselines,
		patterns:  patterns,
		recs:      recs,
		limiter:   limiter,
		cache:     cache,
	}
}

// Routes mounts every optimization endpoint on r. The auth middleware must
// already have injected the project ID.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/optimizations", h.HandleSuggestions)
	r.Post("/v1/optimizations/recommendations/generate", h.HandleGenerate)
	r.Get("/v1/optimizations/summary", h.HandleSummary)
	r.Post("/v1/optimizations/baselines/refresh", h.HandleRefreshBaselines)
	r.Get("/v1/optimizations/baselines", h.HandleBaselines)
	r.Get("/v1/optimizations/caching-opportunities", h.HandleCachingOpportunities)
	r.Get("/v1/optimizations/recommendations", h.HandlePendingRecommendations)
	r.Post("/v1/optimizations/recommendations/{id}/implement", h.HandleImplement)
	r.Post("/v1/optimizations/recommendations/{id}/dismiss", h.HandleDismiss)
	r.Get("/v1/optimizations/recommendations/effectiveness", h.HandleEffectiveness)
}

func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, true)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30, 1, 90)
	includeLow := queryBool(r, "include_low_priority", true)

	suggestions, err := h.engine.Suggestions(r.Context(), projectID, days, includeLow, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []optimizer.Suggestion{}
	}

	writeJSON(w, http.StatusOK, suggestions)
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, true)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30, 1, 90)
	includeLow := queryBool(r, "include_low_priority", true)

	suggestions, err := h.engine.Suggestions(r.Context(), projectID, days, includeLow, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []optimizer.Suggestion{}
	}

	// New recommendations invalidate any cached summary.
	if h.cache != nil {
		_ = h.cache.Del(r.Context(), summaryCacheKey(projectID, days)).Err()
	}

	writeJSON(w, http.StatusOK, suggestions)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30, 1, 90)
	cacheKey := summaryCacheKey(projectID, days)

	if h.cache != nil {
		cached, err := h.cache.Get(r.Context(), cacheKey).Bytes()
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	summary, err := h.engine.Summary(r.Context(), projectID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			_ = h.cache.Set(r.Context(), cacheKey, data, summaryCacheTTL).Err()
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleRefreshBaselines(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30, 7, 90)

	result, err := h.baselines.Compute(r.Context(), projectID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleBaselines(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	agentFilter := r.URL.Query().Get("agent_name")
	modelFilter := r.URL.Query().Get("model")

	baselines, err := h.baselines.List(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(baselines))
	for _, b := range baselines {
		if agentFilter != "" && b.AgentName != agentFilter {
			continue
		}
		if modelFilter != "" && b.Model != modelFilter {
			continue
		}
		out = append(out, map[string]any{
			"agent_name":           b.AgentName,
			"model":                b.Model,
			"avg_cost_per_call":    b.AvgCostPerCall,
			"stddev_cost_per_call": b.StddevCostPerCall,
			"avg_input_tokens":     b.AvgInputTokens,
			"avg_output_tokens":    b.AvgOutputTokens,
			"avg_latency_ms":       b.AvgLatencyMs,
			"stddev_latency_ms":    b.StddevLatencyMs,
			"avg_daily_calls":      b.AvgDailyCalls,
			"avg_error_rate":       b.AvgErrorRate,
			"sample_count":         b.SampleCount,
			"last_calculated_at":   b.LastCalculatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleCachingOpportunities(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	minOccurrences := queryInt(r, "min_occurrences", 5, 2, 1000)
	days := queryInt(r, "days", 30, 1, 90)

	opportunities, err := h.patterns.AnalyzeCachingOpportunities(r.Context(), projectID, days, minOccurrences, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total := 0.0
	for _, o := range opportunities {
		total += o.EstimatedMonthlySavings
	}
	if opportunities == nil {
		opportunities = []pattern.CachingOpportunity{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities":                   opportunities,
		"total_potential_monthly_savings": total,
	})
}

func (h *Handler) HandlePendingRecommendations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	recs, err := h.recs.Pending(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*recommend.Recommendation{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) HandleImplement(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := h.recs.MarkImplemented(r.Context(), id, projectID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"recommendation_id": id,
		"implemented_at":    rec.ImplementedAt.Format(time.RFC3339),
		"message":           "Recommendation marked as implemented. We'll track the results.",
	})
}

func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Feedback string `json:"feedback"`
	}
	if r.Body != nil {
		// A missing or empty body means no feedback.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	rec, err := h.recs.MarkDismissed(r.Context(), id, projectID, body.Feedback)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"recommendation_id": id,
		"dismissed_at":      rec.DismissedAt.Format(time.RFC3339),
		"message":           "Recommendation dismissed. Thank you for your feedback.",
	})
}

func (h *Handler) HandleEffectiveness(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.prepare(w, r, false)
	if !ok {
		return
	}

	eff, err := h.recs.Effectiveness(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, eff)
}

// prepare extracts the project from context and optionally charges the
// per-project rate limit (synthesis endpoints only).
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, rateLimited bool) (string, bool) {
	projectID := auth.GetProjectID(r.Context())
	if projectID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	if rateLimited && h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), projectID)
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60s")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return "", false
		}
	}

	return projectID, true
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, recommend.ErrUnavailable) {
		writeError(w, http.StatusNotFound,
			"This recommendation is no longer available. It may have expired or already been actioned.")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func summaryCacheKey(projectID string, days int) string {
	return fmt.Sprintf("optimization:summary:%s:%d", projectID, days)
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
