// Package contract provides interfaces and shared utilities for internal architecture.
package contract

import (
	"context"
	"time"

	"github.com/huangsam/devyear/schema"
)

// CommitQuery selects commits from one repository. An empty Author matches everyone.
type CommitQuery struct {
	Org    string
	Repo   string
	Author string
	Since  time.Time
	Until  time.Time
}

// CommitSource delivers already-synced commit records.
// This allows the pipeline to be tested without a real git executable.
type CommitSource interface {
	// ListRepos returns the repositories of an organization in a stable order.
	ListRepos(ctx context.Context, org string) ([]string, error)

	// ListCommits returns the commits matching the query, oldest first.
	ListCommits(ctx context.Context, q CommitQuery) ([]schema.Commit, error)
}

// DiffSource fetches per-file patches for a commit.
type DiffSource interface {
	FetchDiff(ctx context.Context, org, repo, sha string) ([]schema.FilePatch, error)
}

// SettingsSource resolves organization settings.
type SettingsSource interface {
	OrgSettings(ctx context.Context, org string) (schema.OrgSettings, error)
}

// CompletionRequest is a structured prompt for one review stage.
type CompletionRequest struct {
	Stage  schema.AiStage
	Model  string
	System string
	Prompt string
}

// Completer is the text-completion capability used by the review engine.
type Completer interface {
	// Complete returns the raw completion text, expected to be JSON.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Name identifies the provider in logs and stored reviews.
	Name() string
}

// RunStore persists runs and everything derived from them.
type RunStore interface {
	// --- Runs ---

	CreateRun(ctx context.Context, run *schema.AnalysisRun) error
	GetRun(ctx context.Context, id string) (*schema.AnalysisRun, error)
	ListRuns(ctx context.Context, filter schema.RunFilter) ([]schema.AnalysisRun, error)

	// TransitionRun moves a run to status `to` only if its current status is in `from`.
	// It reports false when the run was in another status. This is the
	// single-execution guard for a run.
	TransitionRun(ctx context.Context, id string, from []schema.RunStatus, to schema.RunStatus, errMsg string) (bool, error)

	// SaveProgress writes the checkpoint and phase of a run.
	SaveProgress(ctx context.Context, id string, progress schema.Progress) error

	// ClaimRun takes the lease of an IN_PROGRESS run for one phase
	// execution and returns the new lease. It reports false, with the
	// current lease, when the run is not IN_PROGRESS or another execution
	// holds the lease.
	ClaimRun(ctx context.Context, id string) (int64, bool, error)

	// ReleaseRun gives up the lease if it is still the current one.
	ReleaseRun(ctx context.Context, id string, lease int64) error

	// CheckpointRun is SaveProgress for the holder of a lease. It reports
	// false without writing when the lease was superseded.
	CheckpointRun(ctx context.Context, id string, lease int64, progress schema.Progress) (bool, error)

	// DeleteRun removes a run and all derived rows.
	DeleteRun(ctx context.Context, id string) error

	// ResetRun removes derived units, reviews and report but keeps the run row.
	ResetRun(ctx context.Context, id string) error

	// --- Work units ---

	SaveWorkUnits(ctx context.Context, runID, repo string, units []schema.WorkUnit) error
	DeleteRepoUnits(ctx context.Context, runID, repo string) error
	ListWorkUnits(ctx context.Context, runID string) ([]schema.WorkUnit, error)
	UpdateUnitScore(ctx context.Context, unit schema.WorkUnit) error
	MarkSampled(ctx context.Context, runID string, unitIDs []string) error
	UpdateUnitSummary(ctx context.Context, unitID, title, summary string) error

	// --- Diff cache ---

	GetDiff(ctx context.Context, repo, sha string) (*schema.CommitDiff, bool, error)
	SaveDiff(ctx context.Context, diff schema.CommitDiff) error

	// --- Reviews and reports ---

	SaveReview(ctx context.Context, review schema.AiReview) error
	ListReviews(ctx context.Context, runID string) ([]schema.AiReview, error)
	SaveReport(ctx context.Context, report schema.YearlyReport) error
	GetReport(ctx context.Context, runID string) (*schema.YearlyReport, error)
	AnnotateReport(ctx context.Context, runID, notes string) error
	FinalizeReport(ctx context.Context, runID string) error

	// Close closes the underlying connection
	Close() error
}
