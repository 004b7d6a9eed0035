package iocache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), schema.SQLiteBackend, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRun(id string) *schema.AnalysisRun {
	return &schema.AnalysisRun{
		ID:     id,
		Org:    "acme",
		User:   "alice",
		Year:   2025,
		Status: schema.RunQueued,
		Phase:  schema.PhaseMetrics,
		Progress: schema.Progress{
			Version: schema.ProgressVersion,
			Phase:   schema.PhaseMetrics,
			RepoProgress: []schema.RepoProgress{
				{RepoName: "billing", Status: schema.ItemPending},
			},
		},
		Options: schema.RunOptions{OptionsVersion: 1, PromptVersion: "v1", Seed: 42, TopK: 7, Random: 3, Special: 2},
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("run-1")
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, schema.RunQueued, got.Status)
	assert.Equal(t, uint64(42), got.Options.Seed)
	require.Len(t, got.Progress.RepoProgress, 1)
	assert.Nil(t, got.StartedAt)

	ok, err := store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunQueued}, schema.RunInProgress, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second start loses the race.
	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunQueued}, schema.RunInProgress, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunInProgress, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	progress := got.Progress
	progress.Phase = schema.PhaseClustering
	progress.Message = "clustering billing"
	require.NoError(t, store.SaveProgress(ctx, "run-1", progress))

	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunInProgress}, schema.RunFailed, "boom")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.PhaseClustering, got.Phase)
	assert.Equal(t, "clustering billing", got.Progress.Message)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.FinishedAt)

	_, err = store.TransitionRun(ctx, "missing", []schema.RunStatus{schema.RunQueued}, schema.RunInProgress, "")
	assert.ErrorIs(t, err, contract.ErrRunNotFound)

	assert.ErrorIs(t, store.SaveProgress(ctx, "missing", progress), contract.ErrRunNotFound)
}

func TestStore_RunLease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	// Only IN_PROGRESS runs can be claimed.
	_, ok, err := store.ClaimRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunQueued}, schema.RunInProgress, "")
	require.NoError(t, err)
	require.True(t, ok)

	lease, ok, err := store.ClaimRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), lease)

	_, ok, err = store.ClaimRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Executing)
	assert.Equal(t, lease, got.Lease)

	// A paused run cannot go back to IN_PROGRESS while its lease is held.
	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunInProgress}, schema.RunPaused, "")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunPaused}, schema.RunInProgress, "")
	require.NoError(t, err)
	assert.False(t, ok)

	progress := got.Progress
	progress.Message = "finishing in-flight work"
	ok, err = store.CheckpointRun(ctx, "run-1", lease, progress)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.ReleaseRun(ctx, "run-1", lease))
	ok, err = store.TransitionRun(ctx, "run-1", []schema.RunStatus{schema.RunPaused}, schema.RunInProgress, "")
	require.NoError(t, err)
	require.True(t, ok)
	next, ok, err := store.ClaimRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), next)

	// The superseded lease can neither write nor release.
	progress.Message = "stale"
	ok, err = store.CheckpointRun(ctx, "run-1", lease, progress)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.ReleaseRun(ctx, "run-1", lease))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Executing)
	assert.Equal(t, "finishing in-flight work", got.Progress.Message)

	require.NoError(t, store.ReleaseRun(ctx, "run-1", next))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, got.Executing)

	_, _, err = store.ClaimRun(ctx, "missing")
	assert.ErrorIs(t, err, contract.ErrRunNotFound)
	_, err = store.CheckpointRun(ctx, "missing", 1, progress)
	assert.ErrorIs(t, err, contract.ErrRunNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice"} {
		run := newTestRun("run-" + user + string(rune('a'+i)))
		run.User = user
		run.Year = 2023 + i
		require.NoError(t, store.CreateRun(ctx, run))
	}

	all, err := store.ListRuns(ctx, schema.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alice, err := store.ListRuns(ctx, schema.RunFilter{Org: "acme", User: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	year, err := store.ListRuns(ctx, schema.RunFilter{User: "alice", Year: 2025})
	require.NoError(t, err)
	require.Len(t, year, 1)
	assert.Equal(t, 2025, year[0].Year)

	none, err := store.ListRuns(ctx, schema.RunFilter{Status: schema.RunDone})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUnits(runID string) []schema.WorkUnit {
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	return []schema.WorkUnit{
		{
			ID: "u1", RunID: runID, Repo: "billing", Author: "alice",
			CommitSHAs: []string{"c1", "c2"}, StartTime: start, EndTime: start.Add(time.Hour),
			WorkType: schema.FeatureWork, ImpactScore: 55.5,
			Factors: schema.ImpactFactors{Size: 30.5, CoreModule: 25, ChangedLines: 120},
			Title:   "feature: billing/api (2 commits)", Additions: 100, Deletions: 20,
			Files: []string{"billing/api/handler.go"},
		},
		{
			ID: "u2", RunID: runID, Repo: "billing", Author: "alice",
			CommitSHAs: []string{"c3"}, StartTime: start.Add(72 * time.Hour), EndTime: start.Add(72 * time.Hour),
			WorkType: schema.BugfixWork, IsSpecialCase: true,
			Title: "bugfix: billing/api (1 commits)", Additions: 3, Deletions: 1,
			Files: []string{"billing/api/handler.go"},
		},
	}
}

func TestStore_WorkUnits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	require.NoError(t, store.SaveWorkUnits(ctx, "run-1", "billing", testUnits("run-1")))
	// Saving again replaces rather than duplicates.
	require.NoError(t, store.SaveWorkUnits(ctx, "run-1", "billing", testUnits("run-1")))

	units, err := store.ListWorkUnits(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, []string{"c1", "c2"}, units[0].CommitSHAs)
	assert.InDelta(t, 30.5, units[0].Factors.Size, 1e-9)
	assert.True(t, units[1].IsSpecialCase)
	assert.Equal(t, []string{"billing/api/handler.go"}, units[1].Files)

	units[1].ImpactScore = 12.25
	units[1].Factors.Hotspot = 5
	require.NoError(t, store.UpdateUnitScore(ctx, units[1]))
	require.NoError(t, store.MarkSampled(ctx, "run-1", []string{"u2"}))
	require.NoError(t, store.UpdateUnitSummary(ctx, "u2", "Fix rounding", "Fixes invoice rounding."))

	units, err = store.ListWorkUnits(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, units[0].IsSampled)
	assert.True(t, units[1].IsSampled)
	assert.InDelta(t, 12.25, units[1].ImpactScore, 1e-9)
	assert.Equal(t, "Fix rounding", units[1].Title)

	// Resampling replaces the previous selection.
	require.NoError(t, store.MarkSampled(ctx, "run-1", []string{"u1"}))
	units, err = store.ListWorkUnits(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, units[0].IsSampled)
	assert.False(t, units[1].IsSampled)

	require.NoError(t, store.DeleteRepoUnits(ctx, "run-1", "billing"))
	units, err = store.ListWorkUnits(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestStore_ReviewsAndReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	failed := schema.AiReview{RunID: "run-1", Stage: schema.StageUnitReview, UnitID: "u1", Status: schema.ReviewFailed, Attempts: 3, Error: "timeout"}
	require.NoError(t, store.SaveReview(ctx, failed))
	payload, _ := json.Marshal(schema.UnitReview{Title: "Add API", Quality: 4})
	ok := schema.AiReview{RunID: "run-1", Stage: schema.StageUnitReview, UnitID: "u1", Status: schema.ReviewOK, Attempts: 1, PromptVersion: "v1", Payload: payload}
	require.NoError(t, store.SaveReview(ctx, ok))
	require.NoError(t, store.SaveReview(ctx, schema.AiReview{RunID: "run-1", Stage: schema.StageSampling, Status: schema.ReviewOK, Payload: json.RawMessage(`{"seed":42}`)}))

	reviews, err := store.ListReviews(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, schema.StageSampling, reviews[0].Stage)
	assert.True(t, reviews[1].OK())
	assert.JSONEq(t, string(payload), string(reviews[1].Payload))

	_, err = store.GetReport(ctx, "run-1")
	assert.ErrorIs(t, err, contract.ErrReportNotFound)

	report := schema.YearlyReport{
		RunID: "run-1", User: "alice", Year: 2025,
		Metrics:   schema.DeveloperMetrics{TotalCommits: 40, ActiveDays: 12},
		Summary:   "Strong year.",
		Strengths: []string{"ownership"},
		Stats:     schema.RunStats{Units: 2, ReviewedUnits: 1},
	}
	require.NoError(t, store.SaveReport(ctx, report))
	require.NoError(t, store.AnnotateReport(ctx, "run-1", "Discussed in 1:1"))

	got, err := store.GetReport(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Metrics.TotalCommits)
	assert.Equal(t, []string{"ownership"}, got.Strengths)
	assert.Equal(t, "Discussed in 1:1", got.ManagerNotes)
	assert.False(t, got.Finalized)

	// Regenerating the report replaces the content but keeps the notes.
	report.Summary = "Even stronger year."
	require.NoError(t, store.SaveReport(ctx, report))
	got, err = store.GetReport(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Even stronger year.", got.Summary)
	assert.Equal(t, "Discussed in 1:1", got.ManagerNotes)

	require.NoError(t, store.FinalizeReport(ctx, "run-1"))
	require.NoError(t, store.FinalizeReport(ctx, "run-1"))
	assert.ErrorIs(t, store.AnnotateReport(ctx, "run-1", "late edit"), contract.ErrReportFinalized)
	assert.ErrorIs(t, store.SaveReport(ctx, report), contract.ErrReportFinalized)
	assert.ErrorIs(t, store.FinalizeReport(ctx, "missing"), contract.ErrReportNotFound)
}

func TestStore_DeleteAndReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))
	require.NoError(t, store.SaveWorkUnits(ctx, "run-1", "billing", testUnits("run-1")))
	require.NoError(t, store.SaveReview(ctx, schema.AiReview{RunID: "run-1", Stage: schema.StageSampling, Status: schema.ReviewOK}))
	require.NoError(t, store.SaveDiff(ctx, schema.CommitDiff{SHA: "c1", Repo: "billing"}))

	require.NoError(t, store.ResetRun(ctx, "run-1"))
	units, err := store.ListWorkUnits(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, units)
	_, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, contract.ErrRunNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "run-1"), contract.ErrRunNotFound)

	// Diffs are shared across runs and survive deletion.
	_, hit, err := store.GetDiff(ctx, "billing", "c1")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestStore_DiffCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, hit, err := store.GetDiff(ctx, "billing", "c1")
	require.NoError(t, err)
	assert.False(t, hit)

	diff := schema.CommitDiff{
		SHA:  "c1",
		Repo: "billing",
		Files: []schema.FilePatch{
			{Path: "api/handler.go", Patch: "@@ -1 +1 @@\n-old\n+new\n", Additions: 1, Deletions: 1},
		},
	}
	require.NoError(t, store.SaveDiff(ctx, diff))

	got, hit, err := store.GetDiff(ctx, "billing", "c1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, diff.Files, got.Files)
	assert.False(t, got.Partial)
	assert.False(t, got.FetchedAt.IsZero())

	partial := schema.CommitDiff{SHA: "c1", Repo: "billing", Partial: true, Error: "rate limited"}
	require.NoError(t, store.SaveDiff(ctx, partial))
	got, _, err = store.GetDiff(ctx, "billing", "c1")
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Empty(t, got.Files)
	assert.Equal(t, "rate limited", got.Error)
}

func TestStore_Status(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", status.Backend)
	assert.Equal(t, int64(1), status.TotalRuns)
	assert.Equal(t, int64(1), status.RunsByStatus[schema.RunQueued])
	assert.Equal(t, int64(1), status.TableSizes[runsTable])
	assert.Contains(t, status.TableSizes, diffsTable)
}

func TestExecuteExport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	var out testWriter

	err := ExecuteExport(ctx, store, schema.RunFilter{}, filepath.Join(t.TempDir(), "export"), &out)
	assert.Error(t, err, "no runs to export")

	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))
	require.NoError(t, store.SaveWorkUnits(ctx, "run-1", "billing", testUnits("run-1")))
	prefix := filepath.Join(t.TempDir(), "export")
	require.NoError(t, ExecuteExport(ctx, store, schema.RunFilter{}, prefix, &out))
	assert.FileExists(t, prefix+".runs.parquet")
	assert.FileExists(t, prefix+".work_units.parquet")
	assert.Contains(t, out.String(), "Exported 2 work units")

	assert.Error(t, ExecuteExport(ctx, store, schema.RunFilter{}, "", &out))
}

type testWriter struct{ buf []byte }

func (w *testWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *testWriter) String() string { return string(w.buf) }

func TestMigrate_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")

	result, err := Migrate(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, uint(2), result.To)

	// Run migration again (should be a no-op)
	result, err = Migrate(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.False(t, result.Changed)

	// Rollback to version 0, then back up
	result, err = Migrate(schema.SQLiteBackend, dbPath, 0)
	require.NoError(t, err)
	assert.Equal(t, uint(0), result.To)

	result, err = Migrate(schema.SQLiteBackend, dbPath, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), result.To)

	result, err = Migrate(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, uint(2), result.To)
}

func TestMigrate_UnsupportedBackend(t *testing.T) {
	_, err := Migrate(schema.DatabaseBackend("oracle"), "", -1)
	assert.Error(t, err)
}

func TestStore_CorruptCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	_, err := store.db.ExecContext(ctx, `UPDATE devyear_runs SET progress = '{not json' WHERE id = 'run-1'`)
	require.NoError(t, err)
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.FailureFatal, got.Progress.FailureKind)
	assert.Contains(t, got.Progress.Message, "checkpoint is corrupt")

	_, err = store.db.ExecContext(ctx, `UPDATE devyear_runs SET progress = '{"version": 99}' WHERE id = 'run-1'`)
	require.NoError(t, err)
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.FailureFatal, got.Progress.FailureKind)
	assert.Contains(t, got.Progress.Message, "newer than supported")
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("user:pass@tcp(localhost:3306)/devyear")
	require.NoError(t, err)
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}
