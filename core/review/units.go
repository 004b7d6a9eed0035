package review

import (
	"context"
	"strings"
	"sync"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// Diff budgets keep a unit prompt within a model's context window.
const (
	maxPatchChars = 4000
	maxDiffChars  = 24000
)

// UnitJob is one sampled unit with its diffs.
type UnitJob struct {
	Unit    schema.WorkUnit
	Commits []schema.CommitBrief
	Diffs   []schema.CommitDiff
}

// UnitResult is the outcome of reviewing one unit.
type UnitResult struct {
	UnitID   string
	Review   *schema.UnitReview
	Attempts int
	Err      error
}

// UnitHooks let the caller observe and stop a stage 1 pass.
// Continue is asked before each unit is dispatched; returning false stops
// dispatching but lets in-flight reviews finish. Done is called once per
// reviewed unit, possibly from several goroutines.
type UnitHooks struct {
	Continue func(ctx context.Context) bool
	Done     func(ctx context.Context, res UnitResult) error
}

// BuildUnitInput assembles the stage 1 payload and trims patches to budget.
func BuildUnitInput(job UnitJob, teamStandards string) schema.UnitReviewInput {
	in := schema.UnitReviewInput{
		UnitID:        job.Unit.ID,
		Repo:          job.Unit.Repo,
		Title:         job.Unit.Title,
		WorkType:      job.Unit.WorkType,
		ImpactScore:   job.Unit.ImpactScore,
		Commits:       job.Commits,
		TeamStandards: teamStandards,
	}
	budget := maxDiffChars
	for _, diff := range job.Diffs {
		if diff.Partial {
			in.PartialDiff = true
		}
		for _, f := range diff.Files {
			if budget <= 0 {
				in.Truncated = true
				break
			}
			patch := f.Patch
			if len(patch) > maxPatchChars {
				patch = patch[:maxPatchChars]
				in.Truncated = true
			}
			if len(patch) > budget {
				patch = patch[:budget]
				in.Truncated = true
			}
			budget -= len(patch)
			f.Patch = patch
			in.Files = append(in.Files, f)
		}
	}
	return in
}

// ReviewUnits reviews the jobs on the worker pool. A unit that keeps failing
// is recorded as a failed review and does not affect the others. The error
// is the first error returned by hooks.Done, or ctx.Err().
func (e *Engine) ReviewUnits(ctx context.Context, runID string, jobs []UnitJob, teamStandards string, hooks UnitHooks) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	jobsCh := make(chan UnitJob)
	var wg sync.WaitGroup
	for range min(e.workers, max(len(jobs), 1)) {
		wg.Go(func() {
			for job := range jobsCh {
				res := e.reviewUnit(ctx, runID, job, teamStandards)
				if hooks.Done == nil {
					continue
				}
				if err := hooks.Done(ctx, res); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		})
	}

dispatch:
	for _, job := range jobs {
		if ctx.Err() != nil || failed() {
			break
		}
		if hooks.Continue != nil && !hooks.Continue(ctx) {
			break
		}
		select {
		case jobsCh <- job:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobsCh)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// reviewUnit runs stage 1 for one unit and stores the result.
func (e *Engine) reviewUnit(ctx context.Context, runID string, job UnitJob, teamStandards string) UnitResult {
	in := BuildUnitInput(job, teamStandards)
	var review schema.UnitReview
	attempts, err := e.complete(ctx, schema.StageUnitReview, in, &review, func() error {
		return validateUnitReview(&review, in)
	})

	res := UnitResult{UnitID: job.Unit.ID, Attempts: attempts}
	if err != nil {
		e.logger.Warn("unit review failed", "run", runID, "unit", job.Unit.ID, "attempts", attempts, "error", err)
		res.Err = err
		if recErr := e.record(ctx, runID, job.Unit.ID, schema.StageUnitReview, attempts, nil, err); recErr != nil {
			res.Err = recErr
		}
		return res
	}

	if err := e.record(ctx, runID, job.Unit.ID, schema.StageUnitReview, attempts, review, nil); err != nil {
		res.Err = err
		return res
	}
	if err := e.store.UpdateUnitSummary(ctx, job.Unit.ID, review.Title, review.Summary); err != nil {
		res.Err = err
		return res
	}
	res.Review = &review
	return res
}

// validateUnitReview fills gaps the model may leave and rejects empty replies.
func validateUnitReview(r *schema.UnitReview, in schema.UnitReviewInput) error {
	r.Title = strings.TrimSpace(r.Title)
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Title == "" && r.Summary == "" {
		return contract.NewValidationError("review", "reply for unit %s has neither title nor summary", in.UnitID)
	}
	if r.Title == "" {
		r.Title = in.Title
	}
	r.Quality = min(max(r.Quality, 1), 5)
	r.PartialDiff = r.PartialDiff || in.PartialDiff
	return nil
}
