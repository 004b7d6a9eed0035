package cmd

import (
	"fmt"
	"strings"

	"github.com/huangsam/devyear/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// unitsCmd prints the work units of a run ranked by impact.
var unitsCmd = &cobra.Command{
	Use:   "units <run-id>",
	Short: "List the work units of a run ranked by impact score",
	Long: `List the work units of a run, highest impact first.

Units marked "yes" in the Sampled column were selected for AI review;
"yes*" marks units selected as special cases (config or schema changes,
critical paths) rather than by rank.

Examples:
  devyear units 4f7c... --sampled
  devyear units 4f7c... --limit 20 --output csv --output-file units.csv`,
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		units, err := orch.RankedUnits(rootCtx, args[0])
		if err != nil {
			return err
		}
		if viper.GetBool("sampled") {
			sampled := make([]schema.WorkUnit, 0, len(units))
			for _, u := range units {
				if u.IsSampled {
					sampled = append(sampled, u)
				}
			}
			units = sampled
		}
		if limit := viper.GetInt("limit"); limit > 0 && len(units) > limit {
			units = units[:limit]
		}
		return outWriter.WriteUnits(units, cfg)
	},
}

// reportCmd groups the yearly report commands.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show, annotate and finalize yearly reports",
	Long: `Work with the yearly report produced when a run reaches DONE.

A report stays a draft until it is finalized. Drafts accept manager notes;
a finalized report is read-only and its run can no longer be restarted or
deleted.`,
}

// reportShowCmd prints a report.
var reportShowCmd = &cobra.Command{
	Use:     "show <run-id>",
	Short:   "Print the yearly report of a run",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		report, err := orch.Report(rootCtx, args[0])
		if err != nil {
			return err
		}
		return outWriter.WriteReport(report, cfg)
	},
}

// reportNoteCmd replaces the manager notes of a draft report.
var reportNoteCmd = &cobra.Command{
	Use:     "note <run-id> <notes...>",
	Short:   "Set the manager notes of a draft report",
	Args:    cobra.MinimumNArgs(2),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.AnnotateReport(rootCtx, args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Printf("Notes saved on report of run %s.\n", args[0])
		return nil
	},
}

// reportFinalizeCmd locks a report.
var reportFinalizeCmd = &cobra.Command{
	Use:     "finalize <run-id>",
	Short:   "Finalize a report; it cannot be changed afterwards",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.FinalizeReport(rootCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Report of run %s finalized.\n", args[0])
		return nil
	},
}
