package core

import (
	"context"
	"sync"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// progressTracker serializes checkpoint writes of one execution. Every
// update is saved before the lock is released, so the stored checkpoint
// never goes backwards.
type progressTracker struct {
	mu       sync.Mutex
	store    contract.RunStore
	runID    string
	lease    int64
	progress schema.Progress
}

func newProgressTracker(store contract.RunStore, runID string, lease int64, progress schema.Progress) *progressTracker {
	if progress.Stats == nil {
		progress.Stats = &schema.RunStats{}
	}
	return &progressTracker{store: store, runID: runID, lease: lease, progress: progress}
}

// update applies fn and persists the result. Once the lease is superseded
// every update fails with errSuperseded.
func (t *progressTracker) update(ctx context.Context, fn func(p *schema.Progress)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.progress)
	ok, err := t.store.CheckpointRun(ctx, t.runID, t.lease, t.progress)
	if err != nil {
		return err
	}
	if !ok {
		return errSuperseded
	}
	return nil
}

// snapshot returns a deep enough copy for reading item lists.
func (t *progressTracker) snapshot() schema.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.progress
	p.RepoProgress = append([]schema.RepoProgress(nil), t.progress.RepoProgress...)
	p.UnitProgress = append([]schema.UnitProgress(nil), t.progress.UnitProgress...)
	p.Stages = append([]schema.StageProgress(nil), t.progress.Stages...)
	stats := *t.progress.Stats
	p.Stats = &stats
	return p
}

// setRepo records the outcome of one repo and recounts the phase totals.
func (t *progressTracker) setRepo(ctx context.Context, repo string, status schema.ItemStatus, count *int, errMsg string) error {
	return t.update(ctx, func(p *schema.Progress) {
		for i := range p.RepoProgress {
			if p.RepoProgress[i].RepoName == repo {
				p.RepoProgress[i].Status = status
				p.RepoProgress[i].CommitCount = count
				p.RepoProgress[i].Error = errMsg
			}
		}
		recount(p)
	})
}

// setUnit records the outcome of one unit review.
func (t *progressTracker) setUnit(ctx context.Context, unitID string, status schema.ItemStatus, attempts int, errMsg string) error {
	return t.update(ctx, func(p *schema.Progress) {
		for i := range p.UnitProgress {
			if p.UnitProgress[i].UnitID == unitID {
				p.UnitProgress[i].Status = status
				p.UnitProgress[i].Attempts = attempts
				p.UnitProgress[i].Error = errMsg
			}
		}
		recount(p)
	})
}

// setStage records the outcome of one run-level stage.
func (t *progressTracker) setStage(ctx context.Context, stage schema.AiStage, status schema.ItemStatus, errMsg string) error {
	return t.update(ctx, func(p *schema.Progress) {
		for i := range p.Stages {
			if p.Stages[i].Stage == stage {
				p.Stages[i].Status = status
				p.Stages[i].Error = errMsg
			}
		}
		recount(p)
	})
}

// recount derives Total, Completed and Failed from the item lists of the
// current phase. Phases without items keep their own counters.
func recount(p *schema.Progress) {
	var statuses []schema.ItemStatus
	for _, r := range p.RepoProgress {
		statuses = append(statuses, r.Status)
	}
	if p.Phase == schema.PhaseAIAnalysis {
		statuses = statuses[:0]
		for _, u := range p.UnitProgress {
			statuses = append(statuses, u.Status)
		}
		for _, s := range p.Stages {
			statuses = append(statuses, s.Status)
		}
	}
	if len(statuses) == 0 {
		return
	}
	p.Total, p.Completed, p.Failed = len(statuses), 0, 0
	for _, st := range statuses {
		switch st {
		case schema.ItemDone, schema.ItemSkipped:
			p.Completed++
		case schema.ItemFailed:
			p.Failed++
		}
	}
}

// pendingRepos returns the repos still to be processed in this phase.
func pendingRepos(p schema.Progress) []string {
	var repos []string
	for _, r := range p.RepoProgress {
		if r.Status == schema.ItemPending {
			repos = append(repos, r.RepoName)
		}
	}
	return repos
}

// reposWith returns the repos in the given status.
func reposWith(p schema.Progress, status schema.ItemStatus) []string {
	var repos []string
	for _, r := range p.RepoProgress {
		if r.Status == status {
			repos = append(repos, r.RepoName)
		}
	}
	return repos
}

// resetFailed moves failed items of the current phase back to pending.
// Once a unit review is redone, every run-level stage is stale because
// stages 2 to 4 read the unit reviews.
func resetFailed(p *schema.Progress) {
	for i := range p.RepoProgress {
		if p.RepoProgress[i].Status == schema.ItemFailed {
			p.RepoProgress[i].Status = schema.ItemPending
			p.RepoProgress[i].Error = ""
		}
	}
	unitsReset := false
	for i := range p.UnitProgress {
		if p.UnitProgress[i].Status == schema.ItemFailed {
			p.UnitProgress[i].Status = schema.ItemPending
			p.UnitProgress[i].Error = ""
			unitsReset = true
		}
	}
	for i := range p.Stages {
		if unitsReset || p.Stages[i].Status == schema.ItemFailed {
			p.Stages[i].Status = schema.ItemPending
			p.Stages[i].Error = ""
		}
	}
	recount(p)
}

// carryRepos starts the next per-repo phase. Repos that failed earlier are
// skipped; everything else is pending again.
func carryRepos(prev []schema.RepoProgress) []schema.RepoProgress {
	next := make([]schema.RepoProgress, 0, len(prev))
	for _, r := range prev {
		item := schema.RepoProgress{RepoName: r.RepoName, Status: schema.ItemPending}
		if r.Status == schema.ItemFailed || r.Status == schema.ItemSkipped {
			item.Status = schema.ItemSkipped
			item.Error = r.Error
		}
		next = append(next, item)
	}
	return next
}
