package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/sym"
)

// PulseCmd represents the pulse command - Pulse daemon for async job processing
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse daemon (worker pool + HTTP API)",
	Long: sym.Pulse + ` Pulse daemon - background translation.

The Pulse daemon provides:
- A worker pool that claims waiting jobs and translates them chunk by chunk
- The HTTP API and websocket job stream
- Recovery of jobs interrupted by a previous crash
- Graceful shutdown (running jobs get pulse.shutdown_grace_seconds to finish)

Example:
  tren pulse start              # Start daemon in foreground
  tren pulse start --workers 4  # Start with 4 concurrent workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Args:  cobra.NoArgs,
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", -1, "Number of concurrent workers (default from pulse.workers)")
	PulseStartCmd.Flags().Int("port", 0, "HTTP API port (default from server.port)")
	PulseStartCmd.Flags().Bool("no-watch", false, "Do not reload the config file on change")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers >= 0 {
		cfg.Pulse.Workers = workers
	}
	port := cfg.GetServerPort()
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d, err := newDaemon(ctx, cfg, database, logger.Logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "failed to listen on port %d", port),
			"another daemon may be running; pass --port or set server.port")
	}
	serveErr := d.start(ln)

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		if w := startConfigWatcher(d); w != nil {
			defer w.Stop()
		}
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Workers:       %d\n", cfg.Pulse.Workers)
	fmt.Printf("  Poll interval: %dms\n", cfg.Pulse.PollIntervalMS)
	fmt.Printf("  API:           http://localhost:%d\n", port)
	fmt.Printf("  Storage:       %s\n", cfg.Storage.Dir)
	fmt.Printf("  Backend:       %s\n", cfg.Backend.BaseURL)
	if cfg.Pulse.Workers == 0 {
		pterm.Warning.Println("No workers: this node accepts jobs but does not run them")
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
	case runErr = <-serveErr:
		pterm.Error.Printf("HTTP server stopped: %v\n", runErr)
	}

	fmt.Printf("\n%s Initiating graceful shutdown...\n", sym.PulseClose)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	fmt.Printf("%s Pulse daemon stopped\n", sym.Pulse)
	return runErr
}

// startConfigWatcher reloads the highest-precedence config file on change.
// Nothing is watched when only defaults are in effect.
func startConfigWatcher(d *daemon) *am.ConfigWatcher {
	paths := am.ConfigPaths()
	if len(paths) == 0 {
		return nil
	}
	path := paths[len(paths)-1]

	w, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher disabled", logger.FieldFile, path, logger.FieldError, err)
		return nil
	}
	w.OnReload(d.applyConfig)
	w.Start()
	am.SetGlobalWatcher(w)
	logger.Infow("Watching config for changes", logger.FieldFile, path)
	return w
}
