// Package core runs analysis runs through their phases.
//
// An Orchestrator owns the run lifecycle: it creates runs, acquires the
// single-execution marker, advances one phase at a time and persists a
// checkpoint after every unit of work so a run can resume after a crash,
// a pause or a failure.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/devyear/core/algo"
	"github.com/huangsam/devyear/core/diffs"
	"github.com/huangsam/devyear/core/review"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/schema"
)

// OptionsVersion is stored with every run so calibration changes are visible.
const OptionsVersion = 1

// CancelledMessage is the error of a run cancelled by its owner.
const CancelledMessage = "cancelled by user"

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     contract.RunStore
	Commits   contract.CommitSource
	Diffs     contract.DiffSource
	Settings  contract.SettingsSource
	Completer contract.Completer
}

// Options tune an Orchestrator.
type Options struct {
	Workers      int
	AIWorkers    int
	AIAttempts   int
	DiffAttempts int
	Model        string

	// RetryInterval is the first backoff delay of diff and AI retries.
	RetryInterval time.Duration

	Clustering schema.ClusterSettings
	Scoring    schema.ScoreSettings
	Sampling   schema.SampleSettings
	Hotspots   schema.HotspotSettings

	Logger  *slog.Logger
	Metrics *observability.PipelineMetrics
	Now     func() time.Time
}

// OptionsFromConfig maps the validated configuration to orchestrator options.
func OptionsFromConfig(cfg *contract.Config, logger *slog.Logger, metrics *observability.PipelineMetrics) Options {
	return Options{
		Workers:       cfg.Workers,
		AIWorkers:     cfg.AIWorkers,
		AIAttempts:    cfg.AIAttempts,
		DiffAttempts:  cfg.DiffAttempts,
		Model:         cfg.Model,
		RetryInterval: 500 * time.Millisecond,
		Clustering:    cfg.Clustering,
		Scoring:       cfg.Scoring,
		Sampling:      cfg.Sampling,
		Hotspots:      cfg.Hotspots,
		Logger:        logger,
		Metrics:       metrics,
	}
}

// Orchestrator drives runs through METRICS, CLUSTERING, SCORING, SAMPLING,
// DIFF_FETCH and AI_ANALYSIS.
type Orchestrator struct {
	store    contract.RunStore
	commits  contract.CommitSource
	settings contract.SettingsSource
	fetcher  *diffs.Fetcher
	engine   *review.Engine
	opts     Options
	logger   *slog.Logger
	metrics  *observability.PipelineMetrics
}

// errStopped reports that the run left IN_PROGRESS while a phase was running.
var errStopped = errors.New("run is no longer in progress")

// errSuperseded reports that a newer execution took over the run.
var errSuperseded = fmt.Errorf("%w: execution was superseded", contract.ErrRunBusy)

// NewOrchestrator creates an Orchestrator and fills unset options with defaults.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = contract.DefaultWorkers
	}
	if opts.AIWorkers < 1 {
		opts.AIWorkers = contract.DefaultAIWorkers
	}
	if opts.AIAttempts < 1 {
		opts.AIAttempts = contract.DefaultAIAttempts
	}
	if opts.DiffAttempts < 1 {
		opts.DiffAttempts = contract.DefaultDiffAttempts
	}
	if opts.Clustering == (schema.ClusterSettings{}) {
		opts.Clustering = schema.DefaultClusterSettings()
	}
	if opts.Scoring == (schema.ScoreSettings{}) {
		opts.Scoring = schema.DefaultScoreSettings()
	}
	if opts.Sampling == (schema.SampleSettings{}) {
		opts.Sampling = schema.DefaultSampleSettings()
	}
	if opts.Hotspots == (schema.HotspotSettings{}) {
		opts.Hotspots = schema.DefaultHotspotSettings()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopPipelineMetrics()
	}

	policy := func(attempts int) contract.RetryPolicy {
		return contract.RetryPolicy{Attempts: attempts, InitialInterval: opts.RetryInterval, MaxInterval: 20 * opts.RetryInterval}
	}
	return &Orchestrator{
		store:    deps.Store,
		commits:  deps.Commits,
		settings: deps.Settings,
		fetcher:  diffs.NewFetcher(deps.Diffs, deps.Store, policy(opts.DiffAttempts), opts.Logger, opts.Metrics),
		engine: review.NewEngine(deps.Completer, deps.Store, review.Options{
			Model:   opts.Model,
			Workers: opts.AIWorkers,
			Policy:  policy(opts.AIAttempts),
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		}),
		opts:    opts,
		logger:  observability.Component(opts.Logger, "orchestrator"),
		metrics: opts.Metrics,
	}
}

// Create validates the request and stores a QUEUED run.
func (o *Orchestrator) Create(ctx context.Context, org, user string, year int) (*schema.AnalysisRun, error) {
	if err := contract.ValidateRunRequest(org, user, year, o.opts.Now()); err != nil {
		return nil, err
	}
	repos, err := o.commits.ListRepos(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
	}
	if len(repos) == 0 {
		return nil, contract.NewValidationError("org", "%s has no repositories", org)
	}
	settings, err := o.settings.OrgSettings(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings of %s: %w", org, err)
	}
	model := o.opts.Model
	if settings.DefaultReviewModel != "" {
		model = settings.DefaultReviewModel
	}

	run := &schema.AnalysisRun{
		ID:     uuid.NewString(),
		Org:    org,
		User:   user,
		Year:   year,
		Status: schema.RunQueued,
		Phase:  schema.PhaseMetrics,
		Options: schema.RunOptions{
			OptionsVersion: OptionsVersion,
			PromptVersion:  review.PromptVersion,
			Model:          model,
			Seed:           algo.SeedFor(org, user, year),
			TopK:           o.opts.Sampling.TopK,
			Random:         o.opts.Sampling.Random,
			Special:        o.opts.Sampling.Special,
		},
		Progress: initialProgress(repos),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	o.logger.Info("run created", "run", run.ID, "org", org, "user", user, "year", year, "repos", len(repos))
	return run, nil
}

// Start acquires the execution marker of a QUEUED run. A second start of
// the same run fails with ErrRunBusy.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	return o.acquire(ctx, id, []schema.RunStatus{schema.RunQueued})
}

// acquire moves the run to IN_PROGRESS if it is in one of from.
func (o *Orchestrator) acquire(ctx context.Context, id string, from []schema.RunStatus) error {
	ok, err := o.store.TransitionRun(ctx, id, from, schema.RunInProgress, "")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status == schema.RunInProgress {
		return fmt.Errorf("%w: %s", contract.ErrRunBusy, id)
	}
	if run.Executing && slices.Contains(from, run.Status) {
		return fmt.Errorf("%w: run %s is %s but its last execution has not stopped yet", contract.ErrRunBusy, id, run.Status)
	}
	return fmt.Errorf("%w: run %s is %s", contract.ErrInvalidTransition, id, run.Status)
}

// Execute starts a QUEUED run and runs it until it stops.
func (o *Orchestrator) Execute(ctx context.Context, id string) (*schema.AnalysisRun, error) {
	if err := o.Start(ctx, id); err != nil {
		return nil, err
	}
	return o.Run(ctx, id)
}

// Run advances an IN_PROGRESS run phase by phase until it is DONE, FAILED
// or PAUSED. A pause or cancel that lands between two phases ends Run
// without an error.
func (o *Orchestrator) Run(ctx context.Context, id string) (*schema.AnalysisRun, error) {
	for steps := 0; ; steps++ {
		run, err := o.Advance(ctx, id)
		if err != nil {
			if steps > 0 && run != nil && run.Status != schema.RunInProgress && errors.Is(err, contract.ErrInvalidTransition) {
				return run, nil
			}
			return run, err
		}
		if run.Status != schema.RunInProgress {
			return run, nil
		}
	}
}

// Pause asks an IN_PROGRESS run to stop after its in-flight work.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	ok, err := o.store.TransitionRun(ctx, id, []schema.RunStatus{schema.RunInProgress}, schema.RunPaused, "")
	if err != nil {
		return err
	}
	if !ok {
		return o.rejected(ctx, id, "pause")
	}
	o.logger.Info("run paused", "run", id)
	return nil
}

// Cancel fails a run that has not finished. The run can still be resumed.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	from := []schema.RunStatus{schema.RunQueued, schema.RunInProgress, schema.RunPaused}
	ok, err := o.store.TransitionRun(ctx, id, from, schema.RunFailed, CancelledMessage)
	if err != nil {
		return err
	}
	if !ok {
		return o.rejected(ctx, id, "cancel")
	}
	if err := o.markCancelled(ctx, id); err != nil {
		return err
	}
	o.metrics.RecordRunStopped(ctx, "cancelled")
	o.logger.Info("run cancelled", "run", id)
	return nil
}

func (o *Orchestrator) markCancelled(ctx context.Context, id string) error {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Progress.FailureKind == schema.FailureCancelled {
		return nil
	}
	run.Progress.FailureKind = schema.FailureCancelled
	run.Progress.Message = CancelledMessage
	return o.store.SaveProgress(ctx, id, run.Progress)
}

// Delete removes a QUEUED or FAILED run and everything derived from it.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != schema.RunQueued && run.Status != schema.RunFailed {
		return fmt.Errorf("%w: cannot delete run %s while it is %s", contract.ErrInvalidTransition, id, run.Status)
	}
	if run.Executing {
		return fmt.Errorf("%w: run %s is still stopping", contract.ErrRunBusy, id)
	}
	if err := o.store.DeleteRun(ctx, id); err != nil {
		return err
	}
	o.logger.Info("run deleted", "run", id)
	return nil
}

// Status returns the polling view of a run.
func (o *Orchestrator) Status(ctx context.Context, id string) (schema.RunStatusView, error) {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return schema.RunStatusView{}, err
	}
	return run.View(), nil
}

// List returns runs matching the filter, newest first.
func (o *Orchestrator) List(ctx context.Context, filter schema.RunFilter) ([]schema.AnalysisRun, error) {
	return o.store.ListRuns(ctx, filter)
}

// RankedUnits returns the work units of a run, highest impact first.
func (o *Orchestrator) RankedUnits(ctx context.Context, id string) ([]schema.WorkUnit, error) {
	if _, err := o.store.GetRun(ctx, id); err != nil {
		return nil, err
	}
	units, err := o.store.ListWorkUnits(ctx, id)
	if err != nil {
		return nil, err
	}
	return algo.RankUnits(units), nil
}

// Reviews returns the stored AI reviews of a run by stage, then unit.
func (o *Orchestrator) Reviews(ctx context.Context, id string) ([]schema.AiReview, error) {
	if _, err := o.store.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return o.store.ListReviews(ctx, id)
}

func (o *Orchestrator) rejected(ctx context.Context, id, action string) error {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s run %s while it is %s", contract.ErrInvalidTransition, action, id, run.Status)
}

// initialProgress is the checkpoint of a run that has not started.
func initialProgress(repos []string) schema.Progress {
	sorted := slices.Clone(repos)
	slices.Sort(sorted)
	items := make([]schema.RepoProgress, 0, len(sorted))
	for _, repo := range slices.Compact(sorted) {
		items = append(items, schema.RepoProgress{RepoName: repo, Status: schema.ItemPending})
	}
	return schema.Progress{
		Version:      schema.ProgressVersion,
		Phase:        schema.PhaseMetrics,
		Total:        len(items),
		Message:      "waiting to start",
		RepoProgress: items,
		Stats:        &schema.RunStats{Repos: len(items)},
	}
}
