package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangsam/devyear/core/agg"
	"github.com/huangsam/devyear/core/algo"
	"github.com/huangsam/devyear/core/review"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"golang.org/x/sync/errgroup"
)

// execution is the state of one Advance call.
type execution struct {
	o        *Orchestrator
	run      *schema.AnalysisRun
	lease    int64
	tracker  *progressTracker
	settings schema.OrgSettings
	engine   *review.Engine

	mu      sync.Mutex
	commits map[string][]schema.Commit

	synthesis *schema.SynthesisInput
}

// Advance runs exactly one phase of an IN_PROGRESS run and moves it to the
// next phase, to DONE or to FAILED. It is the step an external scheduler
// calls; Run simply calls it in a loop. Advance holds the run lease while
// the phase runs, so a second Advance of the same run fails with
// ErrRunBusy instead of repeating its work.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*schema.AnalysisRun, error) {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunInProgress {
		return run, fmt.Errorf("%w: run %s is %s", contract.ErrInvalidTransition, id, run.Status)
	}
	lease, ok, err := o.store.ClaimRun(ctx, id)
	if err != nil {
		return run, err
	}
	if !ok {
		if run, err = o.store.GetRun(ctx, id); err != nil {
			return nil, err
		}
		if run.Status != schema.RunInProgress {
			return run, fmt.Errorf("%w: run %s is %s", contract.ErrInvalidTransition, id, run.Status)
		}
		return run, fmt.Errorf("%w: %s", contract.ErrRunBusy, id)
	}
	run.Lease, run.Executing = lease, true

	stepped, err := o.step(ctx, run)
	if relErr := o.store.ReleaseRun(context.WithoutCancel(ctx), id, lease); relErr != nil {
		return stepped, errors.Join(err, relErr)
	}
	if err != nil {
		return stepped, err
	}
	return o.store.GetRun(ctx, id)
}

// step runs the current phase of a run whose lease is held.
func (o *Orchestrator) step(ctx context.Context, run *schema.AnalysisRun) (*schema.AnalysisRun, error) {
	id := run.ID
	x := &execution{
		o:       o,
		run:     run,
		lease:   run.Lease,
		tracker: newProgressTracker(o.store, run.ID, run.Lease, run.Progress),
		engine:  o.engine.WithModel(run.Options.Model),
		commits: make(map[string][]schema.Commit),
	}
	var err error
	if run.Progress.FailureKind == schema.FailureFatal {
		// Only an unreadable checkpoint can be fatal while still in progress.
		return x.stop(ctx, contract.NewFatalError(run.Progress.Message, nil))
	}
	x.settings, err = o.settings.OrgSettings(ctx, run.Org)
	if err != nil {
		return x.stop(ctx, fmt.Errorf("failed to load settings of %s: %w", run.Org, err))
	}

	phase := run.Progress.Phase
	if phase == "" {
		phase = run.Phase
	}
	start := time.Now()
	o.logger.Info("phase started", "run", id, "phase", phase)
	err = x.runPhase(ctx, phase)
	o.metrics.RecordPhase(ctx, string(phase), time.Since(start), err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return run, ctxErr
		}
		return x.stop(ctx, err)
	}

	o.logger.Info("phase done", "run", id, "phase", phase, "elapsed", time.Since(start).Round(time.Millisecond))
	if next, ok := phase.Next(); ok {
		if err := x.enterPhase(ctx, next); err != nil {
			return run, err
		}
		return run, nil
	}
	return x.finish(ctx)
}

func (x *execution) runPhase(ctx context.Context, phase schema.Phase) error {
	switch phase {
	case schema.PhaseMetrics:
		return x.metricsPhase(ctx)
	case schema.PhaseClustering:
		return x.clusteringPhase(ctx)
	case schema.PhaseScoring:
		return x.scoringPhase(ctx)
	case schema.PhaseSampling:
		return x.samplingPhase(ctx)
	case schema.PhaseDiffFetch:
		return x.diffFetchPhase(ctx)
	case schema.PhaseAIAnalysis:
		return x.aiPhase(ctx)
	default:
		return contract.NewFatalError(fmt.Sprintf("unknown phase %q", phase), nil)
	}
}

// stop handles a phase that did not complete: the run was paused or
// cancelled, or the phase failed.
func (x *execution) stop(ctx context.Context, err error) (*schema.AnalysisRun, error) {
	o := x.o
	if errors.Is(err, errSuperseded) {
		o.logger.Warn("execution superseded", "run", x.run.ID, "lease", x.lease)
		return x.run, err
	}
	if errors.Is(err, errStopped) {
		run, getErr := o.store.GetRun(ctx, x.run.ID)
		if getErr != nil {
			return x.run, getErr
		}
		if run.Lease != x.lease {
			o.logger.Warn("execution superseded", "run", run.ID, "lease", x.lease)
			return run, errSuperseded
		}
		if run.Status == schema.RunFailed && run.Error == CancelledMessage {
			if err := o.markCancelled(ctx, run.ID); err != nil {
				return run, err
			}
		}
		o.logger.Info("run stopped", "run", run.ID, "status", run.Status, "phase", run.Phase)
		return o.store.GetRun(ctx, x.run.ID)
	}

	kind := schema.FailureRecoverable
	if contract.IsFatal(err) {
		kind = schema.FailureFatal
	}
	if saveErr := x.tracker.update(ctx, func(p *schema.Progress) {
		p.FailureKind = kind
		p.Message = err.Error()
	}); saveErr != nil {
		return x.run, saveErr
	}
	ok, tErr := o.store.TransitionRun(ctx, x.run.ID, []schema.RunStatus{schema.RunInProgress}, schema.RunFailed, err.Error())
	if tErr != nil {
		return x.run, tErr
	}
	if ok {
		o.metrics.RecordRunStopped(ctx, string(schema.RunFailed))
		o.logger.Error("run failed", "run", x.run.ID, "kind", kind, "error", err)
	}
	return o.store.GetRun(ctx, x.run.ID)
}

// enterPhase resets the checkpoint for the next phase.
func (x *execution) enterPhase(ctx context.Context, next schema.Phase) error {
	return x.tracker.update(ctx, func(p *schema.Progress) {
		prev := p.RepoProgress
		p.Phase = next
		p.Total, p.Completed, p.Failed = 0, 0, 0
		p.RepoProgress, p.UnitProgress, p.Stages = nil, nil, nil
		p.FailureKind = schema.FailureNone
		p.Message = "starting " + string(next)
		if next == schema.PhaseClustering {
			p.RepoProgress = carryRepos(prev)
			recount(p)
		}
	})
}

// shouldContinue re-reads the run so a pause, a cancel or a newer
// execution stops further work.
func (x *execution) shouldContinue(ctx context.Context) bool {
	run, err := x.o.store.GetRun(ctx, x.run.ID)
	return err == nil && run.Status == schema.RunInProgress && run.Lease == x.lease
}

// repoCommits returns the user's commits of a repo in the run year.
func (x *execution) repoCommits(ctx context.Context, repo string) ([]schema.Commit, error) {
	x.mu.Lock()
	cached, ok := x.commits[repo]
	x.mu.Unlock()
	if ok {
		return cached, nil
	}
	since, until := contract.YearWindow(x.run.Year)
	commits, err := x.o.commits.ListCommits(ctx, contract.CommitQuery{
		Org: x.run.Org, Repo: repo, Author: x.run.User, Since: since, Until: until,
	})
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.commits[repo] = commits
	x.mu.Unlock()
	return commits, nil
}

// forEachRepo runs fn for every pending repo with bounded parallelism and
// records each outcome. A repo error only fails that repo; the phase fails
// fatally when no repo succeeds.
func (x *execution) forEachRepo(ctx context.Context, fn func(ctx context.Context, repo string) (int, error)) error {
	repos := pendingRepos(x.tracker.snapshot())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.o.opts.Workers)
	var stopped atomic.Bool
	for _, repo := range repos {
		if gctx.Err() != nil || stopped.Load() {
			break
		}
		g.Go(func() error {
			// Checked once a worker is free, so a pause lands between repos.
			if stopped.Load() || !x.shouldContinue(gctx) {
				stopped.Store(true)
				return nil
			}
			count, err := fn(gctx, repo)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				x.o.logger.Warn("repo failed", "run", x.run.ID, "repo", repo, "error", err)
				return x.tracker.setRepo(gctx, repo, schema.ItemFailed, nil, err.Error())
			}
			return x.tracker.setRepo(gctx, repo, schema.ItemDone, &count, "")
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if stopped.Load() {
		return errStopped
	}

	p := x.tracker.snapshot()
	done, failed := len(reposWith(p, schema.ItemDone)), len(reposWith(p, schema.ItemFailed))
	if done == 0 && failed > 0 {
		return contract.NewFatalError(fmt.Sprintf("all %d repositories failed in %s", failed, p.Phase), nil)
	}
	return nil
}

// metricsPhase loads the user's commits per repo and computes the yearly metrics.
func (x *execution) metricsPhase(ctx context.Context) error {
	err := x.forEachRepo(ctx, func(ctx context.Context, repo string) (int, error) {
		commits, err := x.repoCommits(ctx, repo)
		return len(commits), err
	})
	if err != nil {
		return err
	}

	p := x.tracker.snapshot()
	var all []schema.Commit
	for _, repo := range reposWith(p, schema.ItemDone) {
		commits, err := x.repoCommits(ctx, repo)
		if err != nil {
			return fmt.Errorf("failed to reload commits of %s: %w", repo, err)
		}
		all = append(all, commits...)
	}
	metrics := agg.ComputeMetrics(all)
	return x.tracker.update(ctx, func(p *schema.Progress) {
		p.Metrics = &metrics
		p.Stats.Repos = len(p.RepoProgress)
		p.Stats.Commits = len(all)
		p.Stats.ReposFailed = len(reposWith(*p, schema.ItemFailed))
		p.Message = fmt.Sprintf("%d commits in %d repositories", len(all), p.Stats.Repos-p.Stats.ReposFailed)
	})
}

// clusteringPhase replaces each repo's work units with a fresh clustering.
func (x *execution) clusteringPhase(ctx context.Context) error {
	err := x.forEachRepo(ctx, func(ctx context.Context, repo string) (int, error) {
		commits, err := x.repoCommits(ctx, repo)
		if err != nil {
			return 0, err
		}
		if err := x.o.store.DeleteRepoUnits(ctx, x.run.ID, repo); err != nil {
			return 0, err
		}
		units := algo.ClusterCommits(x.run.ID, repo, commits, x.o.opts.Clustering)
		if err := x.o.store.SaveWorkUnits(ctx, x.run.ID, repo, units); err != nil {
			return 0, err
		}
		x.o.metrics.AddUnits(ctx, len(units))
		return len(commits), nil
	})
	if err != nil {
		return err
	}

	units, err := x.o.store.ListWorkUnits(ctx, x.run.ID)
	if err != nil {
		return err
	}
	special := 0
	for _, u := range units {
		if u.IsSpecialCase {
			special++
		}
	}
	return x.tracker.update(ctx, func(p *schema.Progress) {
		p.Stats.Units = len(units)
		p.Stats.SpecialUnits = special
		p.Message = fmt.Sprintf("%d work units", len(units))
	})
}

// scoringPhase scores every unit against the org hotspots and critical paths.
func (x *execution) scoringPhase(ctx context.Context) error {
	if !x.shouldContinue(ctx) {
		return errStopped
	}
	units, err := x.o.store.ListWorkUnits(ctx, x.run.ID)
	if err != nil {
		return err
	}
	repos, err := x.o.commits.ListRepos(ctx, x.run.Org)
	if err != nil {
		return fmt.Errorf("failed to list repositories of %s: %w", x.run.Org, err)
	}
	// Scores must not depend on which repos happened to load, so an
	// incomplete hotspot set fails the phase and RESUME redoes it.
	hotspots, err := agg.CollectHotspots(ctx, x.o.commits, x.run.Org, repos, x.run.Year, x.o.opts.Hotspots)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to collect hotspots: %w", err)
	}

	if err := x.tracker.update(ctx, func(p *schema.Progress) {
		p.Total, p.Completed = len(units), 0
		p.Message = fmt.Sprintf("scoring %d work units", len(units))
	}); err != nil {
		return err
	}
	in := algo.ScoreInput{CriticalPaths: x.settings.CriticalPaths, Hotspots: hotspots, Settings: x.o.opts.Scoring}
	for i, unit := range units {
		if !x.shouldContinue(ctx) {
			return errStopped
		}
		commits, err := x.unitCommits(ctx, unit)
		if err != nil {
			return err
		}
		unit.ImpactScore, unit.Factors = algo.ComputeImpact(unit, commits, in)
		if err := x.o.store.UpdateUnitScore(ctx, unit); err != nil {
			return err
		}
		if err := x.tracker.update(ctx, func(p *schema.Progress) { p.Completed = i + 1 }); err != nil {
			return err
		}
	}
	return x.tracker.update(ctx, func(p *schema.Progress) {
		p.Total, p.Completed = len(units), len(units)
		p.Stats.HotspotFiles = hotspots.Len()
		p.Message = fmt.Sprintf("scored %d work units", len(units))
	})
}

// unitCommits returns the commits of a unit in unit order.
func (x *execution) unitCommits(ctx context.Context, unit schema.WorkUnit) ([]schema.Commit, error) {
	all, err := x.repoCommits(ctx, unit.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load commits of %s: %w", unit.Repo, err)
	}
	bySHA := make(map[string]schema.Commit, len(all))
	for _, c := range all {
		bySHA[c.SHA] = c
	}
	commits := make([]schema.Commit, 0, len(unit.CommitSHAs))
	for _, sha := range unit.CommitSHAs {
		if c, ok := bySHA[sha]; ok {
			commits = append(commits, c)
		}
	}
	return commits, nil
}

// samplingPhase selects the units to review and records the decision.
func (x *execution) samplingPhase(ctx context.Context) error {
	if !x.shouldContinue(ctx) {
		return errStopped
	}
	units, err := x.o.store.ListWorkUnits(ctx, x.run.ID)
	if err != nil {
		return err
	}
	opts := x.run.Options
	decision := algo.SelectSample(units, algo.SampleParams{TopK: opts.TopK, Random: opts.Random, Special: opts.Special, Seed: opts.Seed})
	if err := x.o.store.MarkSampled(ctx, x.run.ID, decision.UnitIDs()); err != nil {
		return err
	}
	if err := x.engine.RecordSample(ctx, x.run.ID, decision); err != nil {
		return err
	}
	return x.tracker.update(ctx, func(p *schema.Progress) {
		p.Total, p.Completed = len(units), len(units)
		p.Stats.SampledUnits = len(decision.Selected)
		p.Message = fmt.Sprintf("sampled %d of %d work units", len(decision.Selected), len(units))
	})
}

// sampledUnits returns the sampled units, highest impact first.
func (x *execution) sampledUnits(ctx context.Context) ([]schema.WorkUnit, error) {
	units, err := x.o.store.ListWorkUnits(ctx, x.run.ID)
	if err != nil {
		return nil, err
	}
	var sampled []schema.WorkUnit
	for _, u := range algo.RankUnits(units) {
		if u.IsSampled {
			sampled = append(sampled, u)
		}
	}
	return sampled, nil
}

// diffFetchPhase fills the diff cache for the commits of sampled units.
func (x *execution) diffFetchPhase(ctx context.Context) error {
	sampled, err := x.sampledUnits(ctx)
	if err != nil {
		return err
	}
	shasByRepo := make(map[string][]string)
	for _, u := range sampled {
		shasByRepo[u.Repo] = append(shasByRepo[u.Repo], u.CommitSHAs...)
	}

	if p := x.tracker.snapshot(); len(p.RepoProgress) == 0 && len(shasByRepo) > 0 {
		repos := make([]string, 0, len(shasByRepo))
		for repo := range shasByRepo {
			repos = append(repos, repo)
		}
		sort.Strings(repos)
		if err := x.tracker.update(ctx, func(p *schema.Progress) {
			for _, repo := range repos {
				p.RepoProgress = append(p.RepoProgress, schema.RepoProgress{RepoName: repo, Status: schema.ItemPending})
			}
			recount(p)
		}); err != nil {
			return err
		}
	}

	return x.forEachRepo(ctx, func(ctx context.Context, repo string) (int, error) {
		shas := shasByRepo[repo]
		_, stats, err := x.o.fetcher.FetchUnitDiffs(ctx, x.run.Org, repo, shas)
		if err != nil {
			return 0, err
		}
		if err := x.tracker.update(ctx, func(p *schema.Progress) {
			p.Stats.DiffsFetched += stats.Fetched
			p.Stats.DiffCacheHits += stats.CacheHits
			p.Stats.PartialDiffs += stats.Partial
		}); err != nil {
			return 0, err
		}
		if len(shas) > 0 && stats.Partial == len(shas) {
			return len(shas), fmt.Errorf("no diff of %d commits could be fetched", len(shas))
		}
		return len(shas), nil
	})
}

// aiPhase runs unit reviews, then the run-level stages in order.
func (x *execution) aiPhase(ctx context.Context) error {
	sampled, err := x.sampledUnits(ctx)
	if err != nil {
		return err
	}
	if p := x.tracker.snapshot(); len(p.UnitProgress) == 0 && len(p.Stages) == 0 {
		if err := x.tracker.update(ctx, func(p *schema.Progress) {
			for _, u := range sampled {
				p.UnitProgress = append(p.UnitProgress, schema.UnitProgress{UnitID: u.ID, Status: schema.ItemPending})
			}
			for _, stage := range schema.RunLevelStages {
				p.Stages = append(p.Stages, schema.StageProgress{Stage: stage, Status: schema.ItemPending})
			}
			p.Stats.PromptVersion = review.PromptVersion
			recount(p)
		}); err != nil {
			return err
		}
	}

	if err := x.reviewUnits(ctx, sampled); err != nil {
		return err
	}

	units, err := x.o.store.ListWorkUnits(ctx, x.run.ID)
	if err != nil {
		return err
	}
	reviews, err := x.o.store.ListReviews(ctx, x.run.ID)
	if err != nil {
		return err
	}
	sampledIDs := make([]string, 0, len(sampled))
	for _, u := range sampled {
		sampledIDs = append(sampledIDs, u.ID)
	}
	in, err := review.LoadSynthesis(reviews, units, sampledIDs)
	if err != nil {
		return contract.NewFatalError("stored reviews are unreadable", err)
	}
	p := x.tracker.snapshot()
	in.User, in.Year, in.TeamStandards = x.run.User, x.run.Year, x.settings.TeamStandards
	if p.Metrics != nil {
		in.Metrics = *p.Metrics
	}

	for _, st := range p.Stages {
		if st.Status == schema.ItemDone {
			continue
		}
		if !x.shouldContinue(ctx) {
			return errStopped
		}
		if err := x.engine.RunStage(ctx, x.run.ID, st.Stage, &in); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if saveErr := x.tracker.setStage(ctx, st.Stage, schema.ItemFailed, err.Error()); saveErr != nil {
				return saveErr
			}
			return err
		}
		if err := x.tracker.setStage(ctx, st.Stage, schema.ItemDone, ""); err != nil {
			return err
		}
	}
	x.synthesis = &in
	return nil
}

// reviewUnits runs stage 1 over the pending sampled units.
func (x *execution) reviewUnits(ctx context.Context, sampled []schema.WorkUnit) error {
	pending := make(map[string]bool)
	for _, u := range x.tracker.snapshot().UnitProgress {
		if u.Status == schema.ItemPending {
			pending[u.UnitID] = true
		}
	}
	var jobs []review.UnitJob
	for _, u := range sampled {
		if !pending[u.ID] {
			continue
		}
		job, err := x.unitJob(ctx, u)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	if len(jobs) > 0 {
		err := x.engine.ReviewUnits(ctx, x.run.ID, jobs, x.settings.TeamStandards, review.UnitHooks{
			Continue: x.shouldContinue,
			Done: func(ctx context.Context, res review.UnitResult) error {
				if res.Err != nil {
					return x.tracker.setUnit(ctx, res.UnitID, schema.ItemFailed, res.Attempts, res.Err.Error())
				}
				return x.tracker.setUnit(ctx, res.UnitID, schema.ItemDone, res.Attempts, "")
			},
		})
		if err != nil {
			return err
		}
	}

	p := x.tracker.snapshot()
	reviewed, failed := 0, 0
	for _, u := range p.UnitProgress {
		switch u.Status {
		case schema.ItemPending:
			return errStopped
		case schema.ItemDone:
			reviewed++
		case schema.ItemFailed:
			failed++
		}
	}
	return x.tracker.update(ctx, func(p *schema.Progress) {
		p.Stats.ReviewedUnits = reviewed
		p.Stats.FailedReviews = failed
	})
}

// unitJob gathers commit messages and cached diffs for a unit review.
func (x *execution) unitJob(ctx context.Context, unit schema.WorkUnit) (review.UnitJob, error) {
	job := review.UnitJob{Unit: unit}
	commits, err := x.unitCommits(ctx, unit)
	if err != nil {
		x.o.logger.Warn("reviewing without commit messages", "run", x.run.ID, "unit", unit.ID, "error", err)
	}
	for _, c := range commits {
		job.Commits = append(job.Commits, schema.CommitBrief{SHA: c.SHA, Message: c.Message})
	}
	job.Diffs, _, err = x.o.fetcher.FetchUnitDiffs(ctx, x.run.Org, unit.Repo, unit.CommitSHAs)
	if err != nil {
		return job, err
	}
	return job, nil
}
