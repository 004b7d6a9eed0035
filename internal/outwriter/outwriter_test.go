package outwriter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func sampleUnits() []schema.WorkUnit {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	return []schema.WorkUnit{
		{
			ID: "u1", Repo: "api", Title: "add order endpoint", WorkType: schema.FeatureWork,
			ImpactScore: 82.5, IsSampled: true, CommitSHAs: []string{"a", "b"},
			Additions: 900, Deletions: 300, StartTime: start, EndTime: start.Add(time.Hour),
			Factors: schema.ImpactFactors{MatchedCriticalPaths: []string{"billing/**", "auth/**"}},
		},
		{
			ID: "u2", Repo: "web", Title: "fix, \"quoted\" title", WorkType: schema.BugfixWork,
			ImpactScore: 12, IsSampled: true, IsSpecialCase: true, CommitSHAs: []string{"c"},
			Additions: 3, Deletions: 1, StartTime: start, EndTime: start,
		},
		{ID: "u3", Repo: "web", Title: "docs", WorkType: schema.DocsWork, ImpactScore: 45, CommitSHAs: []string{"d"}},
	}
}

func sampleReport() *schema.YearlyReport {
	r := &schema.YearlyReport{
		RunID: "r1", User: "alice", Year: 2024,
		Summary:      "A steady year of backend work.",
		Strengths:    []string{"Ships in small increments"},
		Improvements: []string{"Write more tests"},
		ActionItems:  []string{"Own the billing migration"},
		ManagerNotes: "Ready for senior.",
		Stats:        schema.RunStats{SampledUnits: 3, ReviewedUnits: 2, FailedReviews: 1},
	}
	r.Metrics.TotalCommits = 1234
	r.Metrics.ReposTouched = 2
	r.Metrics.CommitsByMonth[0] = 1000
	r.Metrics.CommitsByMonth[11] = 234
	r.Metrics.TopRepos = []schema.NameCount{{Name: "api", Count: 1000}, {Name: "web", Count: 234}}
	return r
}

func TestGetMaxTableTitleWidth(t *testing.T) {
	tests := []struct {
		width    int
		expected int
	}{
		{80, 15},
		{120, 35},
		{400, 70},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, GetMaxTableTitleWidth(&contract.Config{Width: tt.width}))
	}
}

func TestWriteUnitsCSV(t *testing.T) {
	fmtFloat := floatFormatter(2)
	var buf bytes.Buffer
	require.NoError(t, writeUnitsCSV(&buf, sampleUnits(), fmtFloat))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 rows

	assert.Equal(t, "rank", records[0][0])
	assert.Equal(t, []string{"1", "u1", "api", "add order endpoint", "feature", "82.50", "Critical", "2", "900", "300", "true", "false"}, records[1][:12])
	assert.Equal(t, "billing/**;auth/**", records[1][14])
	assert.Equal(t, "fix, \"quoted\" title", records[2][3])
	assert.Equal(t, "true", records[2][11])
	assert.Equal(t, "Moderate", records[3][6])
}

func TestWriteUnitsTable(t *testing.T) {
	fmtFloat := floatFormatter(1)
	var buf bytes.Buffer
	require.NoError(t, writeUnitsTable(&buf, sampleUnits(), fmtFloat, 15))

	out := buf.String()
	assert.Contains(t, out, "add order en...")
	assert.Contains(t, out, "82.5")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "yes*")
	assert.Contains(t, out, "Showing 3 units (2 sampled, 1,204 changed lines)")
}

func TestRankUnitsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, rankUnits(sampleUnits())))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, float64(1), got[0]["rank"])
	assert.Equal(t, "Critical", got[0]["label"])
	assert.Equal(t, "u1", got[0]["id"])
	assert.Equal(t, "Low", got[1]["label"])
}

func TestWriteRunsOutput(t *testing.T) {
	count := 42
	views := []schema.RunStatusView{
		{
			ID: "r1", Org: "acme", User: "alice", Year: 2024, Status: schema.RunInProgress,
			Phase: schema.PhaseScoring, Percentage: 41.67, Message: "scoring units",
			RepoProgress: []schema.RepoProgress{
				{RepoName: "api", Status: schema.ItemDone, CommitCount: &count},
				{RepoName: "web", Status: schema.ItemFailed, Error: "permission denied"},
			},
			UpdatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{ID: "r2", Org: "acme", User: "bob", Year: 2023, Status: schema.RunFailed, FailureKind: schema.FailureCancelled},
	}
	fmtFloat := floatFormatter(1)

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRunsCSV(&buf, views, fmtFloat))
		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, runCSVHeader, records[0])
		assert.Equal(t, []string{"r1", "acme", "alice", "2024", "IN_PROGRESS", "SCORING", "41.7", "", "scoring units", "2025-01-02T03:04:05Z"}, records[1])
		assert.Equal(t, "cancelled", records[2][7])
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRunsTable(&buf, views, fmtFloat))
		assert.Contains(t, buf.String(), "IN_PROGRESS")
		assert.Contains(t, buf.String(), "Showing 2 runs")
	})

	t.Run("status", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeStatusText(&buf, views[0], fmtFloat))
		out := buf.String()
		assert.Contains(t, out, "Run r1: acme/alice 2024")
		assert.Contains(t, out, "Progress: 41.7%")
		assert.Contains(t, out, "permission denied")
		assert.Contains(t, out, "42")

		buf.Reset()
		require.NoError(t, writeStatusText(&buf, views[1], fmtFloat))
		assert.Contains(t, buf.String(), "Failure: cancelled")
	})
}

func TestWriteReport(t *testing.T) {
	fmtFloat := floatFormatter(1)

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeReportText(&buf, sampleReport(), fmtFloat))
		out := buf.String()
		assert.Contains(t, out, "2024 review for alice (draft)")
		assert.Contains(t, out, "1,234 commits across 2 repos")
		assert.Contains(t, out, "1000")
		assert.Contains(t, out, "  - Ships in small increments")
		assert.Contains(t, out, "Ready for senior.")
		assert.Contains(t, out, "Reviewed 2 of 3 sampled units (1 failed)")
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeReportCSV(&buf, sampleReport(), fmtFloat))
		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, []string{"section", "key", "value"}, records[0])
		assert.Contains(t, records, []string{"metrics", "total_commits", "1234"})
		assert.Contains(t, records, []string{"commits_by_month", "December", "234"})
		assert.Contains(t, records, []string{"action_items", "", "Own the billing migration"})
		assert.Contains(t, records, []string{"manager_notes", "", "Ready for senior."})
	})
}

func TestPrintToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "units.json")
	cfg := &contract.Config{Output: schema.JSONOut, OutputFile: path, Precision: 1}
	require.NoError(t, NewOutWriter().WriteUnits(sampleUnits(), cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {"))

	cfg.Output = schema.CSVOut
	cfg.OutputFile = filepath.Join(dir, "report.csv")
	require.NoError(t, NewOutWriter().WriteReport(sampleReport(), cfg))
	data, err = os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "summary,text,A steady year of backend work.")
}
