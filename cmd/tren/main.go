package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tren/cmd/tren/commands"
	"github.com/teranos/tren/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tren",
	Short: "tren - asynchronous document translation",
	Long: `tren - asynchronous document translation.

Documents are split into chunks and translated one chunk at a time by a
language model, with the preceding chunks passed along as context. Jobs run
in the background on the Pulse worker pool.

Available commands:
  am     - Manage tren configuration ("I am")
  db     - Manage the tren database
  model  - Register and list translation models
  job    - Submit and follow translation jobs
  pulse  - Run the Pulse daemon (worker pool + HTTP API)

Examples:
  tren am show                                    # Show current configuration
  tren model add gpt --name "GPT OSS 20B"         # Register a model
  tren job submit report.md --from English --to German --model gpt
  tren pulse start                                # Start workers and the API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am show prints config to stdout; keep it free of log lines
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON (also TREN_OUTPUT=json)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ModelCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
