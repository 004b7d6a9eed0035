package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/huangsam/devyear/core/review"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineRequest(t *testing.T, stage schema.AiStage, payload any) contract.CompletionRequest {
	t.Helper()
	prompt, err := review.RenderPrompt(stage, payload)
	require.NoError(t, err)
	return contract.CompletionRequest{Stage: stage, Prompt: prompt}
}

func TestOfflineCompleter_UnitReview(t *testing.T) {
	in := schema.UnitReviewInput{
		UnitID:   "u1",
		Repo:     "api",
		WorkType: schema.FeatureWork,
		Commits:  []schema.CommitBrief{{SHA: "a", Message: "add export endpoint\n\nlong body"}},
		Files: []schema.FilePatch{
			{Path: "api/export.go", Additions: 80, Deletions: 10},
			{Path: "api/export_test.go", Additions: 40},
		},
	}

	out, err := OfflineCompleter{}.Complete(context.Background(), offlineRequest(t, schema.StageUnitReview, in))
	require.NoError(t, err)

	var got schema.UnitReview
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "feature: add export endpoint", got.Title)
	assert.Equal(t, "Feature in api across 1 commit and 130 changed lines.", got.Summary)
	assert.Equal(t, 4, got.Quality)
	assert.Equal(t, "medium", got.Complexity)
	assert.Contains(t, got.Strengths, "changes ship with tests")

	// Same input, same answer.
	again, err := OfflineCompleter{}.Complete(context.Background(), offlineRequest(t, schema.StageUnitReview, in))
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestOfflineCompleter_UntestedBugfix(t *testing.T) {
	in := schema.UnitReviewInput{WorkType: schema.BugfixWork, Title: "bugfix: api", PartialDiff: true}

	out, err := OfflineCompleter{}.Complete(context.Background(), offlineRequest(t, schema.StageUnitReview, in))
	require.NoError(t, err)

	var got schema.UnitReview
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "bugfix: api", got.Title)
	assert.Equal(t, 2, got.Quality)
	assert.True(t, got.PartialDiff)
	assert.Contains(t, got.Concerns, "no test changes accompany the code")
	assert.Contains(t, got.Concerns, "some diffs were unavailable")
}

func TestOfflineCompleter_Synthesis(t *testing.T) {
	in := schema.SynthesisInput{
		User: "alice",
		Year: 2024,
		Metrics: schema.DeveloperMetrics{
			TotalCommits: 40, Additions: 12500, Deletions: 300, ActiveDays: 10, ReposTouched: 2, LongestStreakDays: 6,
		},
		Units: []schema.ReviewedUnit{
			{UnitID: "u1", Repo: "api", Review: schema.UnitReview{Quality: 5, Strengths: []string{"tests"}}},
			{UnitID: "u2", Repo: "web", Review: schema.UnitReview{Quality: 2, Concerns: []string{"no tests"}}},
		},
		UnreviewedUnits: 1,
	}
	ctx := context.Background()

	out, err := OfflineCompleter{}.Complete(ctx, offlineRequest(t, schema.StageWorkPattern, in))
	require.NoError(t, err)
	var pattern schema.WorkPattern
	require.NoError(t, json.Unmarshal([]byte(out), &pattern))
	assert.Equal(t, []string{"api (1 unit)", "web (1 unit)"}, pattern.Themes)
	assert.Equal(t, "uneven", pattern.Consistency)

	out, err = OfflineCompleter{}.Complete(ctx, offlineRequest(t, schema.StageGrowth, in))
	require.NoError(t, err)
	var growth schema.GrowthInsight
	require.NoError(t, json.Unmarshal([]byte(out), &growth))
	assert.Equal(t, []string{"worked across 2 repositories", "sustained a 6 day streak"}, growth.Growth)
	assert.Equal(t, []string{"no tests", "1 sampled unit could not be reviewed"}, growth.Opportunities)

	in.Growth = &growth
	in.Pattern = &schema.WorkPattern{DominantWork: schema.FeatureWork}
	out, err = OfflineCompleter{}.Complete(ctx, offlineRequest(t, schema.StageExecutive, in))
	require.NoError(t, err)
	var exec schema.ExecutiveSummary
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, "alice made 40 commits in 2024 with 12,500 added and 300 removed across 2 repositories, active on 10 days. Most reviewed work was feature.", exec.Summary)
	assert.Contains(t, exec.Strengths, "tests")
	assert.Contains(t, exec.Strengths, "worked across 2 repositories")
	assert.Len(t, exec.ActionItems, len(exec.Improvements))
}

func TestOfflineCompleter_Errors(t *testing.T) {
	_, err := OfflineCompleter{}.Complete(context.Background(), contract.CompletionRequest{Stage: schema.StageUnitReview, Prompt: "hi"})
	assert.Error(t, err)

	_, err = OfflineCompleter{}.Complete(context.Background(), contract.CompletionRequest{
		Stage: schema.StageSampling, Prompt: review.PayloadStart + "{}" + review.PayloadEnd,
	})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = OfflineCompleter{}.Complete(ctx, offlineRequest(t, schema.StageGrowth, schema.SynthesisInput{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "1 repository", pluralize(1, "repository"))
	assert.Equal(t, "3 repositories", pluralize(3, "repository"))
	assert.Equal(t, "1,200 commits", pluralize(1200, "commit"))
}

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %q, "refusal": %q}}]
}`

type recorded struct {
	mu       sync.Mutex
	requests []map[string]any
}

func (r *recorded) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

func newOpenAIServer(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(raw, &req)
		rec.mu.Lock()
		rec.requests = append(rec.requests, req)
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestOpenAICompleter_Complete(t *testing.T) {
	srv, requests := newOpenAIServer(t, http.StatusOK, fmtBody(`{"summary": "ok"}`, ""))
	c := NewOpenAICompleter("test-key", srv.URL+"/v1", "gpt-4o-mini", 0)

	out, err := c.Complete(context.Background(), contract.CompletionRequest{
		Stage: schema.StageExecutive, System: "sys", Prompt: "user prompt",
	})

	require.NoError(t, err)
	assert.Equal(t, `{"summary": "ok"}`, out)
	require.Len(t, requests.all(), 1)
	req := requests.all()[0]
	assert.Equal(t, "gpt-4o-mini", req["model"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	assert.Equal(t, "openai", c.Name())
}

func TestOpenAICompleter_ModelOverride(t *testing.T) {
	srv, requests := newOpenAIServer(t, http.StatusOK, fmtBody(`{}`, ""))
	c := NewOpenAICompleter("test-key", srv.URL+"/v1", "gpt-4o-mini", 0)

	_, err := c.Complete(context.Background(), contract.CompletionRequest{Stage: schema.StageGrowth, Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", requests.all()[0]["model"])
}

func TestOpenAICompleter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newOpenAIServer(t, tt.status, `{"error": {"message": "nope", "type": "test"}}`)
			c := NewOpenAICompleter("test-key", srv.URL+"/v1", "gpt-4o-mini", 0)

			_, err := c.Complete(context.Background(), contract.CompletionRequest{Stage: schema.StageGrowth})

			require.Error(t, err)
			assert.Equal(t, tt.transient, contract.IsTransient(err))
			assert.Len(t, requests.all(), 1)
		})
	}
}

func TestOpenAICompleter_Refusal(t *testing.T) {
	srv, _ := newOpenAIServer(t, http.StatusOK, fmtBody("", "cannot help"))
	c := NewOpenAICompleter("test-key", srv.URL+"/v1", "gpt-4o-mini", 0)

	_, err := c.Complete(context.Background(), contract.CompletionRequest{Stage: schema.StageGrowth})
	assert.ErrorContains(t, err, "cannot help")
	assert.False(t, contract.IsTransient(err))
}

func TestNew(t *testing.T) {
	assert.IsType(t, OfflineCompleter{}, New(&contract.Config{}))
	assert.IsType(t, OfflineCompleter{}, New(&contract.Config{OpenAIAPIKey: "k", Offline: true}))
	assert.IsType(t, &OpenAICompleter{}, New(&contract.Config{OpenAIAPIKey: "k", Model: "gpt-4o-mini"}))
}

func fmtBody(content, refusal string) string {
	c, _ := json.Marshal(content)
	r, _ := json.Marshal(refusal)
	return strings.NewReplacer(`%q, "refusal": %q`, string(c)+`, "refusal": `+string(r)).Replace(completionBody)
}
