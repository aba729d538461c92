package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/db"
	"github.com/teranos/tren/display"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the tren database",
	Long: sym.DB + ` db — Manage the tren database

Examples:
  tren db migrate                 # Apply pending schema migrations
  tren db stats                   # Show job counts and model usage`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts and model usage",
	Args:  cobra.NoArgs,
	RunE:  runDbStats,
}

var (
	dbPathFlag     string
	statsSinceFlag time.Duration
)

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Database path (default from config)")
	dbStatsCmd.Flags().DurationVar(&statsSinceFlag, "since", 24*time.Hour, "Usage window")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := db.Version(database)
	if err != nil {
		return err
	}
	path := dbPathFlag
	if path == "" {
		path = cfg.GetDatabasePath()
	}
	fmt.Printf("%s %s is at schema version %s\n", sym.DB, path, version)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	counts, err := job.NewStore(database).Counts(ctx)
	if err != nil {
		return err
	}
	models, err := job.NewModelStore(database).List(ctx)
	if err != nil {
		return err
	}
	usage, err := tracker.NewUsageTracker(database).GetUsageStats(ctx, time.Now().Add(-statsSinceFlag))
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), struct {
			Models int                 `json:"models"`
			Jobs   map[job.Status]int  `json:"jobs"`
			Usage  *tracker.UsageStats `json:"usage"`
		}{len(models), counts, usage})
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Models:      %d\n", len(models))
	for _, s := range []job.Status{job.StatusWaiting, job.StatusProcessing, job.StatusSucceeded, job.StatusFailed} {
		fmt.Printf("%-12s %d\n", string(s)+":", counts[s])
	}
	fmt.Println()
	fmt.Printf("Model calls (last %s)\n", statsSinceFlag)
	fmt.Printf("  Requests:     %d\n", usage.TotalRequests)
	fmt.Printf("  Success rate: %.1f%%\n", usage.SuccessRate*100)
	fmt.Printf("  Tokens:       %d\n", usage.TotalTokens)
	fmt.Printf("  Models used:  %d\n", usage.UniqueModels)
	return nil
}
