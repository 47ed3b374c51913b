package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var browsersCmd = &cobra.Command{
	Use:   "browsers",
	Short: "Manage the browsers of a running daemon",
}

var browsersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pooled browsers",
	Args:  cobra.NoArgs,
	RunE:  runBrowsersList,
}

var browsersRecycleCmd = &cobra.Command{
	Use:   "recycle <id>",
	Short: "Close a browser and let the pool replace it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrowsersRecycle,
}

func init() {
	browsersCmd.AddCommand(browsersListCmd)
	browsersCmd.AddCommand(browsersRecycleCmd)
	rootCmd.AddCommand(browsersCmd)
}

func runBrowsersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := newAdminClient(adminURL(cfg)).Pool(cmd.Context())
	if err != nil {
		return err
	}

	if len(resp.Browsers) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No browsers in pool %q\n", resp.Name)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), browserTable(resp.Browsers, time.Now()))
	return nil
}

func runBrowsersRecycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id := args[0]
	if err := newAdminClient(adminURL(cfg)).Recycle(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to recycle browser %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Browser %s recycled\n", id)
	return nil
}
