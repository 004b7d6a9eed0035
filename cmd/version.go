package cmd

import (
	"runtime"

	"github.com/huangsam/devyear/core"
	"github.com/huangsam/devyear/core/review"
	"github.com/spf13/cobra"
)

// versionCmd shows build details and the versions a run records for comparability.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of devyear.",
	Long: `Display version information including build details.

Runs record the prompt and options versions they were created with, so
reports from different years can be compared knowingly.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("devyear %s (%s, built %s, %s)\n", version, commit, date, runtime.Version())
		cmd.Printf("  Prompts: %s\n", review.PromptVersion)
		cmd.Printf("  Options: v%d\n", core.OptionsVersion)
	},
}
