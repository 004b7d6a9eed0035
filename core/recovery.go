package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// Retry moves a stopped run back to IN_PROGRESS. RESUME continues with the
// pending items of the current phase, RETRY also redoes its failed items,
// and FULL_RESTART discards everything derived and starts over at METRICS.
// The caller then drives the run with Run or Advance.
func (o *Orchestrator) Retry(ctx context.Context, id string, mode schema.RetryMode) error {
	if _, ok := schema.ValidRetryModes[mode]; !ok {
		return contract.NewValidationError("mode", "must be one of RESUME, RETRY, FULL_RESTART (received %q)", mode)
	}
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := o.checkRetry(ctx, run, mode); err != nil {
		return err
	}
	if err := o.acquire(ctx, id, []schema.RunStatus{run.Status}); err != nil {
		return err
	}
	// The lease is held while the checkpoint is rewritten, so no execution
	// starts from the old one.
	lease, ok, err := o.store.ClaimRun(ctx, id)
	if err != nil {
		return o.release(ctx, id, run.Status, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", contract.ErrRunBusy, id)
	}
	err = o.prepareRetry(ctx, run, mode, lease)
	if relErr := o.store.ReleaseRun(context.WithoutCancel(ctx), id, lease); relErr != nil {
		return errors.Join(err, relErr)
	}
	return err
}

func (o *Orchestrator) prepareRetry(ctx context.Context, run *schema.AnalysisRun, mode schema.RetryMode, lease int64) error {
	id := run.ID
	progress := run.Progress
	switch mode {
	case schema.RetryResume:
	case schema.RetryFailed:
		resetFailed(&progress)
	case schema.RetryFullRestart:
		if err := o.store.ResetRun(ctx, id); err != nil {
			return o.release(ctx, id, run.Status, err)
		}
		repos, err := o.commits.ListRepos(ctx, run.Org)
		if err != nil {
			return o.release(ctx, id, run.Status, fmt.Errorf("failed to list repositories of %s: %w", run.Org, err))
		}
		progress = initialProgress(repos)
	}
	progress.FailureKind = schema.FailureNone
	progress.Message = fmt.Sprintf("%s requested", mode)
	ok, err := o.store.CheckpointRun(ctx, id, lease, progress)
	if err == nil && !ok {
		err = errSuperseded
	}
	if err != nil {
		return o.release(ctx, id, run.Status, err)
	}
	o.logger.Info("run retried", "run", id, "mode", mode, "phase", progress.Phase)
	return nil
}

// checkRetry enforces which statuses each mode may recover from.
func (o *Orchestrator) checkRetry(ctx context.Context, run *schema.AnalysisRun, mode schema.RetryMode) error {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: cannot %s run %s: %s", contract.ErrInvalidTransition, mode, run.ID, reason)
	}
	switch run.Status {
	case schema.RunInProgress:
		return fmt.Errorf("%w: %s", contract.ErrRunBusy, run.ID)
	case schema.RunQueued:
		return invalid("it has not started")
	}

	finalized := false
	report, err := o.store.GetReport(ctx, run.ID)
	switch {
	case err == nil:
		finalized = report.Finalized
	case !errors.Is(err, contract.ErrReportNotFound):
		return err
	}

	if mode == schema.RetryFullRestart {
		if finalized {
			return fmt.Errorf("%w: run %s", contract.ErrReportFinalized, run.ID)
		}
		return nil
	}
	if run.Status == schema.RunFailed && run.Progress.FailureKind == schema.FailureFatal {
		return invalid("the failure is fatal; use FULL_RESTART")
	}
	if run.Status == schema.RunDone {
		if mode == schema.RetryResume {
			return invalid("it is already done")
		}
		if finalized {
			return fmt.Errorf("%w: run %s", contract.ErrReportFinalized, run.ID)
		}
		if run.Progress.Stats == nil || run.Progress.Stats.FailedReviews == 0 {
			return invalid("no reviews failed")
		}
	}
	return nil
}

// release hands the marker back after a retry could not be prepared.
func (o *Orchestrator) release(ctx context.Context, id string, to schema.RunStatus, cause error) error {
	errMsg := ""
	if to == schema.RunFailed {
		errMsg = cause.Error()
	}
	if _, err := o.store.TransitionRun(ctx, id, []schema.RunStatus{schema.RunInProgress}, to, errMsg); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// RecoverInterrupted pauses runs left IN_PROGRESS by an executor that is
// gone, so they can be resumed, and releases the leases such executors
// still hold. Call it only when no other process is executing runs against
// the same store.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) ([]string, error) {
	runs, err := o.store.ListRuns(ctx, schema.RunFilter{})
	if err != nil {
		return nil, err
	}
	var recovered []string
	for _, run := range runs {
		if run.Executing {
			if err := o.store.ReleaseRun(ctx, run.ID, run.Lease); err != nil {
				return recovered, err
			}
			o.logger.Warn("abandoned lease released", "run", run.ID, "lease", run.Lease)
		}
		if run.Status != schema.RunInProgress {
			continue
		}
		ok, err := o.store.TransitionRun(ctx, run.ID, []schema.RunStatus{schema.RunInProgress}, schema.RunPaused, "")
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered = append(recovered, run.ID)
			o.logger.Warn("interrupted run paused", "run", run.ID, "phase", run.Phase)
		}
	}
	return recovered, nil
}
