package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/huangsam/devyear/core"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/iocache"
	"github.com/huangsam/devyear/internal/llm"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var _ Service = &core.Orchestrator{} // Compile-time check

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{contract.NewValidationError("year", "bad"), http.StatusBadRequest},
		{fmt.Errorf("%w: r1", contract.ErrRunNotFound), http.StatusNotFound},
		{contract.ErrReportNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: r1", contract.ErrRunBusy), http.StatusConflict},
		{contract.ErrInvalidTransition, http.StatusConflict},
		{contract.ErrReportFinalized, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusCode(tt.err), tt.err.Error())
	}
}

func testCommits() []schema.Commit {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	commits := make([]schema.Commit, 0, 6)
	for i := range 6 {
		commits = append(commits, schema.Commit{
			SHA:         fmt.Sprintf("sha%02d", i),
			AuthorLogin: "alice",
			CommittedAt: start.Add(time.Duration(i) * 30 * time.Minute),
			Repo:        "api",
			Message:     fmt.Sprintf("feat: add billing export step %d", i),
			Additions:   20,
			Deletions:   4,
			Files:       []schema.FileChange{{Path: "billing/export.go", Additions: 20, Deletions: 4}},
		})
	}
	return commits
}

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	ctx := context.Background()
	store, err := iocache.Open(ctx, schema.SQLiteBackend, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	src := &contract.MockCommitSource{}
	src.On("ListRepos", mock.Anything, "acme").Return([]string{"api"}, nil)
	src.On("ListCommits", mock.Anything, mock.Anything).Return(testCommits(), nil)
	src.On("FetchDiff", mock.Anything, "acme", "api", mock.Anything).Return([]schema.FilePatch{{Path: "billing/export.go", Patch: "+func Export() {}"}}, nil)
	settings := &contract.MockSettingsSource{}
	settings.On("OrgSettings", mock.Anything, "acme").Return(schema.OrgSettings{}, nil)

	orch := core.NewOrchestrator(core.Deps{
		Store:     store,
		Commits:   src,
		Diffs:     src,
		Settings:  settings,
		Completer: llm.OfflineCompleter{},
	}, core.Options{Workers: 1, Now: func() time.Time { return time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC) }})

	s := NewServer(Config{
		Service: orch,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Ready:   []observability.ReadyCheck{func(context.Context) error { return nil }},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	})
	return srv, s
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRunLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/runs"

	var created schema.RunStatusView
	code := do(t, http.MethodPost, base, map[string]any{"org": "acme", "user": "alice", "year": 2024, "start": true}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.ID)
	runURL := base + "/" + created.ID

	require.Eventually(t, func() bool {
		var view schema.RunStatusView
		return do(t, http.MethodGet, runURL, nil, &view) == http.StatusOK && view.Status == schema.RunDone
	}, 10*time.Second, 20*time.Millisecond)

	var units []schema.WorkUnit
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, runURL+"/units?sampled=true", nil, &units))
	require.Len(t, units, 1)
	assert.Len(t, units[0].CommitSHAs, 6)

	var reviews []schema.AiReview
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, runURL+"/reviews", nil, &reviews))
	assert.Len(t, reviews, 5)

	var report schema.YearlyReport
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, runURL+"/report/notes", map[string]string{"notes": "promote"}, &report))
	assert.Equal(t, "promote", report.ManagerNotes)
	assert.Equal(t, 6, report.Metrics.TotalCommits)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, runURL+"/report/finalize", nil, &report))
	assert.True(t, report.Finalized)
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, runURL+"/report/notes", map[string]string{"notes": "late"}, nil))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, runURL+"/retry", map[string]string{"mode": "FULL_RESTART"}, nil))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodDelete, runURL, nil, nil))

	var runs []schema.RunStatusView
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"?org=acme&year=2024", nil, &runs))
	assert.Len(t, runs, 1)
}

func TestRunControl(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/runs"

	var created schema.RunStatusView
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, base, map[string]any{"org": "acme", "user": "alice", "year": 2024}, &created))
	assert.Equal(t, schema.RunQueued, created.Status)
	runURL := base + "/" + created.ID

	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, runURL+"/pause", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, runURL+"/retry", map[string]string{"mode": "LATER"}, nil))

	var view schema.RunStatusView
	require.Equal(t, http.StatusAccepted, do(t, http.MethodPost, runURL+"/cancel", nil, &view))
	assert.Equal(t, schema.RunFailed, view.Status)
	assert.Equal(t, schema.FailureCancelled, view.FailureKind)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, runURL, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, runURL, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, runURL+"/report", nil, nil))
}

// gatedService blocks the first Run until gate is closed.
type gatedService struct {
	Service
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (g *gatedService) Run(_ context.Context, id string) (*schema.AnalysisRun, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		<-g.gate
	}
	return &schema.AnalysisRun{ID: id, Status: schema.RunPaused}, nil
}

func (g *gatedService) runCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestLaunchWhilePreviousRunStops(t *testing.T) {
	svc := &gatedService{gate: make(chan struct{})}
	s := NewServer(Config{Service: svc})

	s.launch("r1")
	require.Eventually(t, func() bool { return svc.runCalls() == 1 }, time.Second, 5*time.Millisecond)

	// The run was resumed while its goroutine is still returning.
	s.launch("r1")
	close(svc.gate)

	idle := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.active) == 0
	}
	require.Eventually(t, idle, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, svc.runCalls())

	s.launch("r1")
	require.Eventually(t, idle, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, svc.runCalls())
	s.wg.Wait()
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/runs"

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base, map[string]any{"org": "acme", "user": "alice", "year": 1999}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"?year=last", nil, nil))

	req, err := http.NewRequest(http.MethodPost, base, bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProbes(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", nil, nil))
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/readyz", nil, nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := NewServer(Config{Ready: []observability.ReadyCheck{func(context.Context) error { return errors.New("store down") }}})
	rec := httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
