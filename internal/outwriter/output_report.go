package outwriter

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/olekukonko/tablewriter"
)

var headingColor = color.New(color.Bold, color.Underline)

// PrintReport outputs a yearly report, dispatching based on the output format configured.
// CSV flattens the report into section/key/value rows.
func PrintReport(report *schema.YearlyReport, cfg *contract.Config) error {
	fmtFloat := floatFormatter(cfg.Precision)
	return emit(cfg, renderer{
		data: report,
		csv:  func(w io.Writer) error { return writeReportCSV(w, report, fmtFloat) },
		text: func(w io.Writer) error { return writeReportText(w, report, fmtFloat) },
	})
}

func writeReportCSV(w io.Writer, r *schema.YearlyReport, fmtFloat func(float64) string) error {
	m := r.Metrics
	rows := [][]string{
		{"run", "id", r.RunID},
		{"run", "user", r.User},
		{"run", "year", strconv.Itoa(r.Year)},
		{"run", "finalized", strconv.FormatBool(r.Finalized)},
		{"metrics", "total_commits", strconv.Itoa(m.TotalCommits)},
		{"metrics", "additions", strconv.Itoa(m.Additions)},
		{"metrics", "deletions", strconv.Itoa(m.Deletions)},
		{"metrics", "active_days", strconv.Itoa(m.ActiveDays)},
		{"metrics", "active_weeks", strconv.Itoa(m.ActiveWeeks)},
		{"metrics", "longest_streak_days", strconv.Itoa(m.LongestStreakDays)},
		{"metrics", "commits_per_active_day", fmtFloat(m.CommitsPerActiveDay)},
		{"metrics", "repos_touched", strconv.Itoa(m.ReposTouched)},
		{"metrics", "files_touched", strconv.Itoa(m.FilesTouched)},
	}
	for i, n := range m.CommitsByMonth {
		rows = append(rows, []string{"commits_by_month", time.Month(i + 1).String(), strconv.Itoa(n)})
	}
	for _, nc := range m.TopRepos {
		rows = append(rows, []string{"top_repos", nc.Name, strconv.Itoa(nc.Count)})
	}
	rows = append(rows, []string{"summary", "text", r.Summary})
	for _, s := range r.Strengths {
		rows = append(rows, []string{"strengths", "", s})
	}
	for _, s := range r.Improvements {
		rows = append(rows, []string{"improvements", "", s})
	}
	for _, s := range r.ActionItems {
		rows = append(rows, []string{"action_items", "", s})
	}
	if r.ManagerNotes != "" {
		rows = append(rows, []string{"manager_notes", "", r.ManagerNotes})
	}
	return writeCSV(w, []string{"section", "key", "value"}, rows)
}

func writeReportText(w io.Writer, r *schema.YearlyReport, fmtFloat func(float64) string) error {
	m := r.Metrics
	state := "draft"
	if r.Finalized {
		state = "final"
	}
	fmt.Fprintf(w, "%s\n", headingColor.Sprintf("%d review for %s (%s)", r.Year, r.User, state))
	fmt.Fprintf(w, "%s commits across %d repos, +%s/-%s lines, %d active days (longest streak %d), %s commits per active day\n\n",
		humanize.Comma(int64(m.TotalCommits)), m.ReposTouched,
		humanize.Comma(int64(m.Additions)), humanize.Comma(int64(m.Deletions)),
		m.ActiveDays, m.LongestStreakDays, fmtFloat(m.CommitsPerActiveDay))

	table := tablewriter.NewWriter(w)
	header := make([]string, 0, 12)
	row := make([]string, 0, 12)
	for i, n := range m.CommitsByMonth {
		header = append(header, time.Month(i + 1).String()[:3])
		row = append(row, strconv.Itoa(n))
	}
	table.Header(header)
	if err := table.Append(row); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(m.TopRepos) > 0 {
		fmt.Fprintf(w, "\n%s\n", headingColor.Sprint("Top repositories"))
		for _, nc := range m.TopRepos {
			fmt.Fprintf(w, "  %-30s %s\n", nc.Name, humanize.Comma(int64(nc.Count)))
		}
	}

	fmt.Fprintf(w, "\n%s\n%s\n", headingColor.Sprint("Summary"), r.Summary)
	writeList(w, "Strengths", r.Strengths)
	writeList(w, "Improvements", r.Improvements)
	writeList(w, "Action items", r.ActionItems)
	if r.ManagerNotes != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", headingColor.Sprint("Manager notes"), r.ManagerNotes)
	}
	_, err := fmt.Fprintf(w, "\nReviewed %d of %d sampled units (%d failed)\n",
		r.Stats.ReviewedUnits, r.Stats.SampledUnits, r.Stats.FailedReviews)
	return err
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", headingColor.Sprint(title))
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}
