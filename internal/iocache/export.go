package iocache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/huangsam/devyear/internal/parquet"
	"github.com/huangsam/devyear/schema"
)

// ExecuteExport writes runs matching filter, and their work units, to Parquet files
// named <outputFile>.runs.parquet and <outputFile>.work_units.parquet.
func ExecuteExport(ctx context.Context, store *Store, filter schema.RunFilter, outputFile string, w io.Writer) error {
	if outputFile == "" {
		return errors.New("--output-file is required for export command")
	}

	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to retrieve runs: %w", err)
	}
	if len(runs) == 0 {
		return errors.New("no runs found to export")
	}
	_, _ = fmt.Fprintf(w, "Exporting %d runs from %s backend...\n", len(runs), store.Backend())

	var units []schema.WorkUnit
	counts := make(map[string][2]int, len(runs))
	for _, run := range runs {
		runUnits, err := store.ListWorkUnits(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to retrieve work units of run %s: %w", run.ID, err)
		}
		sampled := 0
		for _, u := range runUnits {
			if u.IsSampled {
				sampled++
			}
		}
		counts[run.ID] = [2]int{len(runUnits), sampled}
		units = append(units, runUnits...)
	}

	runsFile := outputFile + ".runs.parquet"
	if err := parquet.WriteAnalysisRunsParquet(parquet.ConvertRuns(runs, counts), runsFile); err != nil {
		return fmt.Errorf("failed to write runs: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d runs to: %s\n", len(runs), runsFile)

	unitsFile := outputFile + ".work_units.parquet"
	if err := parquet.WriteWorkUnitsParquet(parquet.ConvertWorkUnits(units), unitsFile); err != nil {
		return fmt.Errorf("failed to write work units: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d work units to: %s\n", len(units), unitsFile)
	return nil
}
