package outwriter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var runCSVHeader = []string{"id", "org", "user", "year", "status", "phase", "percentage", "failure_kind", "message", "updated_at"}

// PrintRunStatus outputs one run status, dispatching based on the output format configured.
func PrintRunStatus(view schema.RunStatusView, cfg *contract.Config) error {
	fmtFloat := floatFormatter(cfg.Precision)
	return emit(cfg, renderer{
		data: view,
		csv:  func(w io.Writer) error { return writeRunsCSV(w, []schema.RunStatusView{view}, fmtFloat) },
		text: func(w io.Writer) error { return writeStatusText(w, view, fmtFloat) },
	})
}

// PrintRuns outputs a run listing, dispatching based on the output format configured.
func PrintRuns(views []schema.RunStatusView, cfg *contract.Config) error {
	fmtFloat := floatFormatter(cfg.Precision)
	return emit(cfg, renderer{
		data: views,
		csv:  func(w io.Writer) error { return writeRunsCSV(w, views, fmtFloat) },
		text: func(w io.Writer) error { return writeRunsTable(w, views, fmtFloat) },
	})
}

func writeRunsCSV(w io.Writer, views []schema.RunStatusView, fmtFloat func(float64) string) error {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			v.Org,
			v.User,
			strconv.Itoa(v.Year),
			string(v.Status),
			string(v.Phase),
			fmtFloat(v.Percentage),
			string(v.FailureKind),
			v.Message,
			v.UpdatedAt.Format(contract.DateTimeFormat),
		})
	}
	return writeCSV(w, runCSVHeader, rows)
}

func writeRunsTable(w io.Writer, views []schema.RunStatusView, fmtFloat func(float64) string) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Org", "User", "Year", "Status", "Phase", "Done %", "Updated"})

	data := make([][]string, 0, len(views))
	for _, v := range views {
		data = append(data, []string{
			v.ID,
			v.Org,
			v.User,
			strconv.Itoa(v.Year),
			contract.GetColorStatus(string(v.Status)),
			string(v.Phase),
			fmtFloat(v.Percentage),
			humanize.Time(v.UpdatedAt),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %s %s\n", humanize.Comma(int64(len(views))), pluralize(len(views), "run", "runs"))
	return err
}

// writeStatusText prints a run header followed by its per-repo progress.
func writeStatusText(w io.Writer, v schema.RunStatusView, fmtFloat func(float64) string) error {
	fmt.Fprintf(w, "Run %s: %s/%s %d\n", v.ID, v.Org, v.User, v.Year)
	fmt.Fprintf(w, "Status: %s  Phase: %s  Progress: %s%%\n", contract.GetColorStatus(string(v.Status)), v.Phase, fmtFloat(v.Percentage))
	if v.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", v.Message)
	}
	if v.FailureKind != schema.FailureNone {
		fmt.Fprintf(w, "Failure: %s (%s)\n", v.FailureKind, v.Error)
	}
	if s := v.Stats; s != nil {
		fmt.Fprintf(w, "Commits: %s  Units: %s  Sampled: %d  Reviewed: %d  Failed reviews: %d\n",
			humanize.Comma(int64(s.Commits)), humanize.Comma(int64(s.Units)), s.SampledUnits, s.ReviewedUnits, s.FailedReviews)
		fmt.Fprintf(w, "Diffs: %s fetched, %s cached, %d partial\n",
			humanize.Comma(int64(s.DiffsFetched)), humanize.Comma(int64(s.DiffCacheHits)), s.PartialDiffs)
	}
	if len(v.RepoProgress) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Repo", "Status", "Commits", "Error"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	data := make([][]string, 0, len(v.RepoProgress))
	for _, r := range v.RepoProgress {
		commits := "-"
		if r.CommitCount != nil {
			commits = humanize.Comma(int64(*r.CommitCount))
		}
		data = append(data, []string{r.RepoName, contract.GetColorStatus(string(r.Status)), commits, contract.TruncateText(r.Error, 60)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
