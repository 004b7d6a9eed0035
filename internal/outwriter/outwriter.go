// Package outwriter has output and writer logic.
package outwriter

import (
	"os"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"golang.org/x/term"
)

// OutWriter provides a unified interface for all output operations.
// It encapsulates the various output formats and provides a clean API for the commands.
type OutWriter struct{}

// NewOutWriter creates a new instance of the output writer.
func NewOutWriter() *OutWriter {
	return &OutWriter{}
}

// WriteStatus prints the polling view of one run.
func (ow *OutWriter) WriteStatus(view schema.RunStatusView, cfg *contract.Config) error {
	return PrintRunStatus(view, cfg)
}

// WriteRuns prints a run listing.
func (ow *OutWriter) WriteRuns(views []schema.RunStatusView, cfg *contract.Config) error {
	return PrintRuns(views, cfg)
}

// WriteUnits prints ranked work units.
func (ow *OutWriter) WriteUnits(units []schema.WorkUnit, cfg *contract.Config) error {
	return PrintUnits(units, cfg)
}

// WriteReport prints a yearly report.
func (ow *OutWriter) WriteReport(report *schema.YearlyReport, cfg *contract.Config) error {
	return PrintReport(report, cfg)
}

// GetMaxTableTitleWidth calculates the maximum width for unit titles in table output
// based on terminal width and table configuration.
func GetMaxTableTitleWidth(cfg *contract.Config) int {
	var termWidth int

	// Check for absolute width override from flag/env
	if cfg.Width > 0 {
		termWidth = cfg.Width
	}

	if termWidth == 0 { // Not set by override
		detectedWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || detectedWidth <= 0 {
			// Conservative default for narrow terminals and CI
			termWidth = 80
		} else {
			termWidth = detectedWidth
		}
	}

	// Rank + Repo + Type + Score + Label + Commits + Lines + Sampled with borders/padding
	baseWidth := 85

	available := termWidth - baseWidth
	if available < 15 {
		return 15
	}
	if available > 70 {
		return 70
	}
	return available
}
