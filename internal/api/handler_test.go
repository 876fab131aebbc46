package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	extratelimit "github.com/vnmchuo/ratelimiter"

	"github.com/agentcost/agentcost/internal/auth"
	"github.com/agentcost/agentcost/internal/baseline"
	"github.com/agentcost/agentcost/internal/optimizer"
	"github.com/agentcost/agentcost/internal/pattern"
	"github.com/agentcost/agentcost/internal/recommend"
	"github.com/agentcost/agentcost/pkg/ratelimit"
)

// Mock Engine
type mockEngine struct {
	suggestionsFunc func(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error)
	summaryFunc     func(ctx context.Context, projectID string, days int) (*optimizer.Summary, error)
}

func (m *mockEngine) Suggestions(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error) {
	if m.suggestionsFunc != nil {
		return m.suggestionsFunc(ctx, projectID, days, includeLowPriority, persist)
	}
	return nil, nil
}

func (m *mockEngine) Summary(ctx context.Context, projectID string, days int) (*optimizer.Summary, error) {
	if m.summaryFunc != nil {
		return m.summaryFunc(ctx, projectID, days)
	}
	return &optimizer.Summary{}, nil
}

// Mock Baselines
type mockBaselines struct {
	computeFunc func(ctx context.Context, projectID string, days int) (*baseline.ComputeResult, error)
	listFunc    func(ctx context.Context, projectID string) ([]*baseline.Baseline, error)
}

func (m *mockBaselines) Compute(ctx context.Context, projectID string, days int) (*baseline.ComputeResult, error) {
	if m.computeFunc != nil {
		return m.computeFunc(ctx, projectID, days)
	}
	return &baseline.ComputeResult{}, nil
}

func (m *mockBaselines) List(ctx context.Context, projectID string) ([]*baseline.Baseline, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, projectID)
	}
	return nil, nil
}

// Mock Patterns
type mockPatterns struct {
	analyzeFunc func(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]pattern.CachingOpportunity, error)
}

func (m *mockPatterns) AnalyzeCachingOpportunities(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]pattern.CachingOpportunity, error) {
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, projectID, days, minOccurrences, minSavings)
	}
	return nil, nil
}

// Mock Recommendations
type mockRecommendations struct {
	pendingFunc         func(ctx context.Context, projectID string) ([]*recommend.Recommendation, error)
	markImplementedFunc func(ctx context.Context, id, projectID string) (*recommend.Recommendation, error)
	markDismissedFunc   func(ctx context.Context, id, projectID, feedback string) (*recommend.Recommendation, error)
	effectivenessFunc   func(ctx context.Context, projectID string) (*recommend.Effectiveness, error)
}

func (m *mockRecommendations) Pending(ctx context.Context, projectID string) ([]*recommend.Recommendation, error) {
	if m.pendingFunc != nil {
		return m.pendingFunc(ctx, projectID)
	}
	return nil, nil
}

func (m *mockRecommendations) MarkImplemented(ctx context.Context, id, projectID string) (*recommend.Recommendation, error) {
	if m.markImplementedFunc != nil {
		return m.markImplementedFunc(ctx, id, projectID)
	}
	return nil, recommend.ErrUnavailable
}

func (m *mockRecommendations) MarkDismissed(ctx context.Context, id, projectID, feedback string) (*recommend.Recommendation, error) {
	if m.markDismissedFunc != nil {
		return m.markDismissedFunc(ctx, id, projectID, feedback)
	}
	return nil, recommend.ErrUnavailable
}

func (m *mockRecommendations) Effectiveness(ctx context.Context, projectID string) (*recommend.Effectiveness, error) {
	if m.effectivenessFunc != nil {
		return m.effectivenessFunc(ctx, projectID)
	}
	return &recommend.Effectiveness{}, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

type handlerMocks struct {
	engine    *mockEngine
	baselines *mockBaselines
	patterns  *mockPatterns
	recs      *mockRecommendations
}

func setupTest(limiterAllowed bool) (*chi.Mux, *handlerMocks) {
	mocks := &handlerMocks{
		engine:    &mockEngine{},
		baselines: &mockBaselines{},
		patterns:  &mockPatterns{},
		recs:      &mockRecommendations{},
	}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	h := NewHandler(mocks.engine, mocks.baselines, mocks.patterns, mocks.recs, limiter, nil)

	r := chi.NewRouter()
	h.Routes(r)
	return r, mocks
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(auth.WithProjectID(req.Context(), "test-project"))
}

func TestHandleSuggestions_Unauthorized(t *testing.T) {
	r, _ := setupTest(true)
	req := httptest.NewRequest("GET", "/v1/optimizations", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "unauthorized" {
		t.Errorf("Expected unauthorized error, got %v", resp["error"])
	}
}

func TestHandleSuggestions_RateLimited(t *testing.T) {
	r, _ := setupTest(false)
	req := authed(httptest.NewRequest("GET", "/v1/optimizations", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60s" {
		t.Errorf("Expected Retry-After: 60s header, got %s", w.Header().Get("Retry-After"))
	}
}

func TestHandleSuggestions_Success(t *testing.T) {
	r, mocks := setupTest(true)
	var gotDays int
	var gotPersist bool
	mocks.engine.suggestionsFunc = func(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error) {
		gotDays = days
		gotPersist = persist
		return []optimizer.Suggestion{
			{Type: optimizer.TypeCaching, AgentName: "faq-bot", EstimatedSavingsMonthly: 25, Priority: optimizer.PriorityMedium},
		}, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations?days=14", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if gotDays != 14 {
		t.Errorf("Expected days=14 passed through, got %d", gotDays)
	}
	if gotPersist {
		t.Error("Expected read-only suggestions, got persist=true")
	}

	var resp []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(resp))
	}
	if resp[0]["type"] != "caching" {
		t.Errorf("Expected caching type, got %v", resp[0]["type"])
	}
}

func TestHandleSuggestions_ClampsDays(t *testing.T) {
	r, mocks := setupTest(true)
	var gotDays int
	mocks.engine.suggestionsFunc = func(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error) {
		gotDays = days
		return nil, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations?days=365", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if gotDays != 90 {
		t.Errorf("Expected days clamped to 90, got %d", gotDays)
	}
	// Nil results serialize as an empty array, not null.
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty array body, got %q", body)
	}
}

func TestHandleGenerate_Persists(t *testing.T) {
	r, mocks := setupTest(true)
	var gotPersist bool
	mocks.engine.suggestionsFunc = func(ctx context.Context, projectID string, days int, includeLowPriority, persist bool) ([]optimizer.Suggestion, error) {
		gotPersist = persist
		return nil, nil
	}

	req := authed(httptest.NewRequest("POST", "/v1/optimizations/recommendations/generate", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !gotPersist {
		t.Error("Expected generate to persist recommendations")
	}
}

func TestHandleSummary_Success(t *testing.T) {
	r, mocks := setupTest(true)
	mocks.engine.summaryFunc = func(ctx context.Context, projectID string, days int) (*optimizer.Summary, error) {
		return &optimizer.Summary{
			SuggestionCount: 0,
			EmptyReason:     optimizer.EmptyNoData,
		}, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations/summary", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["empty_reason"] != "no_data" {
		t.Errorf("Expected no_data empty reason, got %v", resp["empty_reason"])
	}
}

func TestHandleRefreshBaselines_ClampsDaysFloor(t *testing.T) {
	r, mocks := setupTest(true)
	var gotDays int
	mocks.baselines.computeFunc = func(ctx context.Context, projectID string, days int) (*baseline.ComputeResult, error) {
		gotDays = days
		return &baseline.ComputeResult{Computed: 3, Days: days}, nil
	}

	req := authed(httptest.NewRequest("POST", "/v1/optimizations/baselines/refresh?days=2", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if gotDays != 7 {
		t.Errorf("Expected days clamped to 7, got %d", gotDays)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["computed"].(float64) != 3 {
		t.Errorf("Expected computed 3, got %v", resp["computed"])
	}
}

func TestHandleBaselines_Filters(t *testing.T) {
	r, mocks := setupTest(true)
	mocks.baselines.listFunc = func(ctx context.Context, projectID string) ([]*baseline.Baseline, error) {
		return []*baseline.Baseline{
			{AgentName: "support-bot", Model: "gpt-4", SampleCount: 50, LastCalculatedAt: time.Now()},
			{AgentName: "faq-bot", Model: "gpt-4o-mini", SampleCount: 30, LastCalculatedAt: time.Now()},
		}, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations/baselines?agent_name=support-bot", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp []map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp) != 1 {
		t.Fatalf("Expected 1 baseline after filter, got %d", len(resp))
	}
	if resp[0]["agent_name"] != "support-bot" {
		t.Errorf("Expected support-bot, got %v", resp[0]["agent_name"])
	}
	if resp[0]["sample_count"].(float64) != 50 {
		t.Errorf("Expected sample_count 50, got %v", resp[0]["sample_count"])
	}
}

func TestHandleCachingOpportunities_Totals(t *testing.T) {
	r, mocks := setupTest(true)
	var gotMin int
	mocks.patterns.analyzeFunc = func(ctx context.Context, projectID string, days, minOccurrences int, minSavings float64) ([]pattern.CachingOpportunity, error) {
		gotMin = minOccurrences
		return []pattern.CachingOpportunity{
			{AgentName: "a", EstimatedMonthlySavings: 12.5},
			{AgentName: "b", EstimatedMonthlySavings: 7.5},
		}, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations/caching-opportunities?min_occurrences=3", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if gotMin != 3 {
		t.Errorf("Expected min_occurrences 3, got %d", gotMin)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["total_potential_monthly_savings"].(float64) != 20 {
		t.Errorf("Expected total 20, got %v", resp["total_potential_monthly_savings"])
	}
	opps := resp["opportunities"].([]interface{})
	if len(opps) != 2 {
		t.Errorf("Expected 2 opportunities, got %d", len(opps))
	}
}

func TestHandleImplement_Success(t *testing.T) {
	r, mocks := setupTest(true)
	implementedAt := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	mocks.recs.markImplementedFunc = func(ctx context.Context, id, projectID string) (*recommend.Recommendation, error) {
		if id != "rec-123" {
			t.Errorf("Expected id rec-123, got %s", id)
		}
		if projectID != "test-project" {
			t.Errorf("Expected test-project, got %s", projectID)
		}
		return &recommend.Recommendation{
			ID:            id,
			Status:        recommend.StatusImplemented,
			ImplementedAt: &implementedAt,
		}, nil
	}

	req := authed(httptest.NewRequest("POST", "/v1/optimizations/recommendations/rec-123/implement", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["recommendation_id"] != "rec-123" {
		t.Errorf("Expected rec-123, got %v", resp["recommendation_id"])
	}
	if resp["implemented_at"] != "2026-08-15T12:00:00Z" {
		t.Errorf("Expected RFC3339 timestamp, got %v", resp["implemented_at"])
	}
}

func TestHandleImplement_Unavailable(t *testing.T) {
	r, _ := setupTest(true)

	req := authed(httptest.NewRequest("POST", "/v1/optimizations/recommendations/gone/implement", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	want := "This recommendation is no longer available. It may have expired or already been actioned."
	if resp["error"] != want {
		t.Errorf("Expected %q, got %q", want, resp["error"])
	}
}

func TestHandleDismiss_PassesFeedback(t *testing.T) {
	r, mocks := setupTest(true)
	dismissedAt := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	var gotFeedback string
	mocks.recs.markDismissedFunc = func(ctx context.Context, id, projectID, feedback string) (*recommend.Recommendation, error) {
		gotFeedback = feedback
		return &recommend.Recommendation{ID: id, Status: recommend.StatusDismissed, DismissedAt: &dismissedAt}, nil
	}

	body, _ := json.Marshal(map[string]string{"feedback": "already cached"})
	req := authed(httptest.NewRequest("POST", "/v1/optimizations/recommendations/rec-123/dismiss", bytes.NewReader(body)))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if gotFeedback != "already cached" {
		t.Errorf("Expected feedback passed through, got %q", gotFeedback)
	}
}

func TestHandleDismiss_Unavailable(t *testing.T) {
	r, _ := setupTest(true)

	req := authed(httptest.NewRequest("POST", "/v1/optimizations/recommendations/gone/dismiss", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandlePendingRecommendations_EmptyArray(t *testing.T) {
	r, _ := setupTest(true)

	req := authed(httptest.NewRequest("GET", "/v1/optimizations/recommendations", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty array body, got %q", body)
	}
}

func TestHandleEffectiveness_Success(t *testing.T) {
	r, mocks := setupTest(true)
	mocks.recs.effectivenessFunc = func(ctx context.Context, projectID string) (*recommend.Effectiveness, error) {
		return &recommend.Effectiveness{
			Total:              4,
			Implemented:        2,
			Dismissed:          1,
			Expired:            1,
			ImplementationRate: 0.5,
		}, nil
	}

	req := authed(httptest.NewRequest("GET", "/v1/optimizations/recommendations/effectiveness", nil))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["implementation_rate"].(float64) != 0.5 {
		t.Errorf("Expected implementation_rate 0.5, got %v", resp["implementation_rate"])
	}
}

func TestHandleSummary_Unauthorized(t *testing.T) {
	r, _ := setupTest(true)
	req := httptest.NewRequest("GET", "/v1/optimizations/summary", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}
