package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// finish stores the yearly report and marks the run DONE.
func (x *execution) finish(ctx context.Context) (*schema.AnalysisRun, error) {
	p := x.tracker.snapshot()
	if x.synthesis == nil || x.synthesis.Executive == nil {
		return x.stop(ctx, errors.New("executive summary is missing"))
	}
	report := BuildReport(x.run, p, *x.synthesis.Executive)
	if err := x.o.store.SaveReport(ctx, report); err != nil {
		return x.stop(ctx, fmt.Errorf("failed to save report: %w", err))
	}
	if err := x.tracker.update(ctx, func(p *schema.Progress) {
		p.Message = "report ready"
		if p.Stats.FailedReviews > 0 {
			p.Message = fmt.Sprintf("report ready; %d of %d sampled units could not be reviewed", p.Stats.FailedReviews, len(p.UnitProgress))
		}
	}); err != nil {
		return x.run, err
	}

	ok, err := x.o.store.TransitionRun(ctx, x.run.ID, []schema.RunStatus{schema.RunInProgress}, schema.RunDone, "")
	if err != nil {
		return x.run, err
	}
	if ok {
		x.o.metrics.RecordRunStopped(ctx, string(schema.RunDone))
		x.o.logger.Info("run done", "run", x.run.ID, "units", p.Stats.Units, "reviewed", p.Stats.ReviewedUnits)
	}
	return x.o.store.GetRun(ctx, x.run.ID)
}

// BuildReport assembles the yearly report from the checkpoint and the
// executive summary.
func BuildReport(run *schema.AnalysisRun, p schema.Progress, summary schema.ExecutiveSummary) schema.YearlyReport {
	report := schema.YearlyReport{
		RunID:        run.ID,
		User:         run.User,
		Year:         run.Year,
		Summary:      summary.Summary,
		Strengths:    nonNil(summary.Strengths),
		Improvements: nonNil(summary.Improvements),
		ActionItems:  nonNil(summary.ActionItems),
	}
	if p.Metrics != nil {
		report.Metrics = *p.Metrics
	}
	if p.Stats != nil {
		report.Stats = *p.Stats
	}
	return report
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// Report returns the report of a run.
func (o *Orchestrator) Report(ctx context.Context, id string) (*schema.YearlyReport, error) {
	return o.store.GetReport(ctx, id)
}

// AnnotateReport attaches manager notes to a report that is not finalized.
func (o *Orchestrator) AnnotateReport(ctx context.Context, id, notes string) error {
	return o.store.AnnotateReport(ctx, id, notes)
}

// FinalizeReport freezes the report of a DONE run. A finalized report
// can no longer be annotated, retried or restarted.
func (o *Orchestrator) FinalizeReport(ctx context.Context, id string) error {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != schema.RunDone {
		return fmt.Errorf("%w: cannot finalize the report of run %s while it is %s", contract.ErrInvalidTransition, id, run.Status)
	}
	return o.store.FinalizeReport(ctx, id)
}
