package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/harun/moonlight/internal/daemon"
	"github.com/harun/moonlight/pkg/pool"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and pool status",
	Long:  `Show whether the Moonlight daemon is running and, if so, the state of its pool.`,
	RunE:  runStatus,
}

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := pidFilePath(cfg.PIDFile)
	pid, running := daemon.ProcessRunning(pidFile)
	if !running {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Status:"), stoppedStyle.Render("stopped"))
		return nil
	}

	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Status:"), runningStyle.Render("running"))
	fmt.Fprintf(out, "%s %d\n", labelStyle.Render("PID:"), pid)

	resp, err := newAdminClient(adminURL(cfg)).Pool(cmd.Context())
	if err != nil {
		// uptime from the PID file is all we have without the admin server
		if info, statErr := os.Stat(pidFile); statErr == nil {
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Uptime:"), formatDuration(time.Since(info.ModTime())))
		}
		return err
	}

	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Uptime:"), formatDuration(resp.Status.Uptime))
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Admin:"), resp.Status.Address)
	printPool(out, resp)
	return nil
}

func printPool(out io.Writer, resp *daemon.PoolResponse) {
	s := resp.Stats
	fmt.Fprintf(out, "%s %s (size %d: %d idle, %d in use, %d initializing, %d cleaning up, %d failed)\n",
		labelStyle.Render("Pool:"), resp.Name, s.Size, s.Idle, s.InUse, s.Initializing, s.CleaningUp, s.Failed)

	if len(resp.Browsers) == 0 {
		return
	}
	fmt.Fprintln(out, browserTable(resp.Browsers, time.Now()))
}

func browserTable(browsers []pool.Info, now time.Time) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "TYPE", "USES", "AGE", "IDLE")

	for _, b := range browsers {
		t.Row(
			b.ID,
			b.Status.String(),
			b.BrowserType,
			fmt.Sprintf("%d", b.UseCount),
			formatDuration(now.Sub(b.CreatedAt)),
			formatDuration(now.Sub(b.LastUsed)),
		)
	}
	return t.String()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
