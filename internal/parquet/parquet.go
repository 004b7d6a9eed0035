// Package parquet exports runs and work units to Parquet files using
// github.com/parquet-go/parquet-go.
package parquet

import (
	"fmt"
	"os"
	"time"

	"github.com/huangsam/devyear/schema"
	"github.com/parquet-go/parquet-go"
)

// AnalysisRun is one row of the runs export.
type AnalysisRun struct {
	RunID        string     `parquet:"run_id,snappy"`
	Org          string     `parquet:"org,snappy"`
	Username     string     `parquet:"username,snappy"`
	Year         int32      `parquet:"year,snappy"`
	Status       string     `parquet:"status,snappy"`
	Phase        string     `parquet:"phase,snappy"`
	Percentage   float64    `parquet:"percentage,snappy"`
	CreatedAt    time.Time  `parquet:"created_at,snappy"`
	FinishedAt   *time.Time `parquet:"finished_at,optional,snappy"`
	Error        *string    `parquet:"error,optional,snappy"`
	Units        int32      `parquet:"units,snappy"`
	SampledUnits int32      `parquet:"sampled_units,snappy"`
}

// WorkUnit is one row of the work units export. The score components are
// flattened so they can be compared across years.
type WorkUnit struct {
	RunID        string    `parquet:"run_id,snappy"`
	UnitID       string    `parquet:"unit_id,snappy"`
	Repo         string    `parquet:"repo,snappy"`
	Author       string    `parquet:"author,snappy"`
	StartTime    time.Time `parquet:"start_time,snappy"`
	EndTime      time.Time `parquet:"end_time,snappy"`
	WorkType     string    `parquet:"work_type,snappy"`
	ImpactScore  float64   `parquet:"impact_score,snappy"`
	Size         float64   `parquet:"size,snappy"`
	CoreModule   float64   `parquet:"core_module,snappy"`
	Hotspot      float64   `parquet:"hotspot,snappy"`
	ConfigSchema float64   `parquet:"config_schema,snappy"`
	TestRatio    float64   `parquet:"test_ratio,snappy"`
	IsSampled    bool      `parquet:"is_sampled,snappy"`
	IsSpecial    bool      `parquet:"is_special,snappy"`
	Title        string    `parquet:"title,snappy"`
	Commits      int32     `parquet:"commits,snappy"`
	Additions    int32     `parquet:"additions,snappy"`
	Deletions    int32     `parquet:"deletions,snappy"`
}

// WriteAnalysisRunsParquet writes runs to a Parquet file.
func WriteAnalysisRunsParquet(data []AnalysisRun, outputPath string) error {
	return writeParquet(data, outputPath)
}

// WriteWorkUnitsParquet writes work units to a Parquet file.
func WriteWorkUnitsParquet(data []WorkUnit, outputPath string) error {
	return writeParquet(data, outputPath)
}

// writeParquet infers the schema from T's struct tags.
func writeParquet[T any](data []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

// ConvertRuns converts runs for Parquet export. unitCounts maps run id to
// its total and sampled unit counts.
func ConvertRuns(runs []schema.AnalysisRun, unitCounts map[string][2]int) []AnalysisRun {
	result := make([]AnalysisRun, len(runs))
	for i, run := range runs {
		var errMsg *string
		if run.Error != "" {
			e := run.Error
			errMsg = &e
		}
		counts := unitCounts[run.ID]
		result[i] = AnalysisRun{
			RunID:        run.ID,
			Org:          run.Org,
			Username:     run.User,
			Year:         int32(run.Year),
			Status:       string(run.Status),
			Phase:        string(run.Phase),
			Percentage:   run.Progress.Percentage(run.Status),
			CreatedAt:    run.CreatedAt,
			FinishedAt:   run.FinishedAt,
			Error:        errMsg,
			Units:        int32(counts[0]),
			SampledUnits: int32(counts[1]),
		}
	}
	return result
}

// ConvertWorkUnits converts work units for Parquet export.
func ConvertWorkUnits(units []schema.WorkUnit) []WorkUnit {
	result := make([]WorkUnit, len(units))
	for i, u := range units {
		result[i] = WorkUnit{
			RunID:        u.RunID,
			UnitID:       u.ID,
			Repo:         u.Repo,
			Author:       u.Author,
			StartTime:    u.StartTime,
			EndTime:      u.EndTime,
			WorkType:     string(u.WorkType),
			ImpactScore:  u.ImpactScore,
			Size:         u.Factors.Size,
			CoreModule:   u.Factors.CoreModule,
			Hotspot:      u.Factors.Hotspot,
			ConfigSchema: u.Factors.ConfigSchema,
			TestRatio:    u.Factors.TestRatio,
			IsSampled:    u.IsSampled,
			IsSpecial:    u.IsSpecialCase,
			Title:        u.Title,
			Commits:      int32(len(u.CommitSHAs)),
			Additions:    int32(u.Additions),
			Deletions:    int32(u.Deletions),
		}
	}
	return result
}
