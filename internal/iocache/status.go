package iocache

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/huangsam/devyear/schema"
)

type statusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"n"`
}

// Status returns row counts for the run store.
func (s *Store) Status(ctx context.Context) (schema.StoreStatus, error) {
	status := schema.StoreStatus{
		Backend:      string(s.backend),
		Connected:    s.db != nil,
		RunsByStatus: make(map[schema.RunStatus]int64),
		TableSizes:   make(map[string]int64),
	}
	if s.db == nil {
		return status, nil
	}

	var counts []statusCount
	query := fmt.Sprintf("SELECT status, COUNT(*) AS n FROM %s GROUP BY status", runsTable)
	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return status, fmt.Errorf("failed to count runs: %w", err)
	}
	for _, c := range counts {
		status.RunsByStatus[schema.RunStatus(c.Status)] = c.Count
		status.TotalRuns += c.Count
	}

	for _, table := range allTables {
		var count int64
		if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			return status, fmt.Errorf("failed to get count for table %s: %w", table, err)
		}
		status.TableSizes[table] = count
	}
	return status, nil
}

// PrintStoreStatus prints run store status information.
func PrintStoreStatus(w io.Writer, status schema.StoreStatus) {
	_, _ = fmt.Fprintf(w, "Store Backend: %s\n", status.Backend)
	_, _ = fmt.Fprintf(w, "Connected: %t\n", status.Connected)
	if !status.Connected {
		return
	}
	_, _ = fmt.Fprintf(w, "Total Runs: %d\n", status.TotalRuns)
	for _, st := range []schema.RunStatus{schema.RunQueued, schema.RunInProgress, schema.RunPaused, schema.RunDone, schema.RunFailed} {
		if n := status.RunsByStatus[st]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s: %d\n", st, n)
		}
	}
	_, _ = fmt.Fprintln(w, "Table Sizes:")
	tables := make([]string, 0, len(status.TableSizes))
	for table := range status.TableSizes {
		tables = append(tables, table)
	}
	slices.Sort(tables)
	for _, table := range tables {
		_, _ = fmt.Fprintf(w, "  %s: %d rows\n", table, status.TableSizes[table])
	}
}
