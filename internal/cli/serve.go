package cli

import (
	"fmt"

	"github.com/harun/moonlight/internal/daemon"
	"github.com/harun/moonlight/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the browser pool in the foreground",
	Long: `Launch the browser pool described by the configuration and serve the
admin endpoints (/healthz, /pool and the metrics path) until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := pidFilePath(cfg.PIDFile)
	if pid, running := daemon.ProcessRunning(pidFile); running {
		return fmt.Errorf("daemon is already running (PID %d, PID file: %s)", pid, pidFile)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Moonlight serving pool %q on %s\n", cfg.Pool.Name, d.Addr())
	return d.Wait()
}

func pidFilePath(configured string) string {
	if configured != "" {
		return configured
	}
	return daemon.DefaultPIDFile()
}
