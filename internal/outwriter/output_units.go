package outwriter

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// rankedUnit adds presentation data to a WorkUnit.
type rankedUnit struct {
	Rank  int    `json:"rank"`
	Label string `json:"label"`
	schema.WorkUnit
}

func rankUnits(units []schema.WorkUnit) []rankedUnit {
	out := make([]rankedUnit, len(units))
	for i, u := range units {
		out[i] = rankedUnit{Rank: i + 1, Label: contract.GetPlainLabel(u.ImpactScore), WorkUnit: u}
	}
	return out
}

var unitCSVHeader = []string{"rank", "id", "repo", "title", "work_type", "score", "label", "commits", "additions", "deletions", "sampled", "special", "start", "end", "critical_paths"}

// PrintUnits outputs ranked work units, dispatching based on the output format configured.
func PrintUnits(units []schema.WorkUnit, cfg *contract.Config) error {
	fmtFloat := floatFormatter(cfg.Precision)
	return emit(cfg, renderer{
		data: rankUnits(units),
		csv:  func(w io.Writer) error { return writeUnitsCSV(w, units, fmtFloat) },
		text: func(w io.Writer) error { return writeUnitsTable(w, units, fmtFloat, GetMaxTableTitleWidth(cfg)) },
	})
}

func writeUnitsCSV(w io.Writer, units []schema.WorkUnit, fmtFloat func(float64) string) error {
	rows := make([][]string, 0, len(units))
	for i, u := range units {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			u.ID,
			u.Repo,
			u.Title,
			string(u.WorkType),
			fmtFloat(u.ImpactScore),
			contract.GetPlainLabel(u.ImpactScore),
			strconv.Itoa(len(u.CommitSHAs)),
			strconv.Itoa(u.Additions),
			strconv.Itoa(u.Deletions),
			strconv.FormatBool(u.IsSampled),
			strconv.FormatBool(u.IsSpecialCase),
			u.StartTime.Format(contract.DateTimeFormat),
			u.EndTime.Format(contract.DateTimeFormat),
			strings.Join(u.Factors.MatchedCriticalPaths, ";"),
		})
	}
	return writeCSV(w, unitCSVHeader, rows)
}

func writeUnitsTable(w io.Writer, units []schema.WorkUnit, fmtFloat func(float64) string, titleWidth int) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "Repo", "Title", "Type", "Score", "Label", "Commits", "Lines", "Sampled"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var totalLines, sampled int
	data := make([][]string, 0, len(units))
	for i, u := range units {
		mark := ""
		switch {
		case u.IsSampled && u.IsSpecialCase:
			mark = "yes*"
		case u.IsSampled:
			mark = "yes"
		}
		if u.IsSampled {
			sampled++
		}
		totalLines += u.ChangedLines()
		data = append(data, []string{
			strconv.Itoa(i + 1),
			u.Repo,
			contract.TruncateText(u.Title, titleWidth),
			string(u.WorkType),
			fmtFloat(u.ImpactScore),
			contract.GetColorLabel(u.ImpactScore),
			strconv.Itoa(len(u.CommitSHAs)),
			humanize.Comma(int64(u.ChangedLines())),
			mark,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %d %s (%d sampled, %s changed lines)\n",
		len(units), pluralize(len(units), "unit", "units"), sampled, humanize.Comma(int64(totalLines)))
	return err
}
