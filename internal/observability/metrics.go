package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	metricPhaseDuration = "devyear.pipeline.phase.duration.seconds"
	metricUnitsTotal    = "devyear.pipeline.units.total"
	metricAICallsTotal  = "devyear.pipeline.ai.calls.total"
	metricDiffsTotal    = "devyear.pipeline.diffs.total"
	metricRunsTotal     = "devyear.pipeline.runs.total"

	attrPhase  = "phase"
	attrStatus = "status"
	attrStage  = "stage"
	attrResult = "result"
)

// Diff fetch results recorded by RecordDiffs.
const (
	DiffCacheHit = "cache_hit"
	DiffFetched  = "fetched"
	DiffPartial  = "partial"
)

var phaseBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900}

// PipelineMetrics holds the instruments recorded by the analysis pipeline.
// All methods are safe to call on a nil receiver.
type PipelineMetrics struct {
	phaseDuration metric.Float64Histogram
	unitsTotal    metric.Int64Counter
	aiCalls       metric.Int64Counter
	diffsTotal    metric.Int64Counter
	runsTotal     metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)
	pm := &PipelineMetrics{
		phaseDuration: b.histogram(metricPhaseDuration, "Duration of one pipeline phase step", "s", phaseBuckets...),
		unitsTotal:    b.counter(metricUnitsTotal, "Work units produced by clustering", "{unit}"),
		aiCalls:       b.counter(metricAICallsTotal, "AI review calls by stage and status", "{call}"),
		diffsTotal:    b.counter(metricDiffsTotal, "Commit diffs by fetch result", "{diff}"),
		runsTotal:     b.counter(metricRunsTotal, "Runs that stopped, by status", "{run}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return pm, nil
}

// NoopPipelineMetrics returns instruments backed by a no-op meter.
func NoopPipelineMetrics() *PipelineMetrics {
	pm, _ := NewPipelineMetrics(noop.NewMeterProvider().Meter("devyear"))
	return pm
}

// RecordPhase records how long a phase step took and whether it failed.
func (pm *PipelineMetrics) RecordPhase(ctx context.Context, phase string, d time.Duration, err error) {
	if pm == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	pm.phaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(attrPhase, phase),
		attribute.String(attrStatus, status),
	))
}

// AddUnits counts clustered work units.
func (pm *PipelineMetrics) AddUnits(ctx context.Context, n int) {
	if pm == nil || n == 0 {
		return
	}
	pm.unitsTotal.Add(ctx, int64(n))
}

// RecordAICall counts one completion attempt outcome for a stage.
func (pm *PipelineMetrics) RecordAICall(ctx context.Context, stage string, ok bool) {
	if pm == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	pm.aiCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrStage, stage),
		attribute.String(attrStatus, status),
	))
}

// RecordDiffs counts diffs by result: DiffCacheHit, DiffFetched or DiffPartial.
func (pm *PipelineMetrics) RecordDiffs(ctx context.Context, result string, n int) {
	if pm == nil || n == 0 {
		return
	}
	pm.diffsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordRunStopped counts a run reaching a resting status.
func (pm *PipelineMetrics) RecordRunStopped(ctx context.Context, status string) {
	if pm == nil {
		return
	}
	pm.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}
