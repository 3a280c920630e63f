package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pharmaudit/internal/retention/models"
	"pharmaudit/internal/server"
)

var (
	retentionDryRun  bool
	retentionConfirm bool
)

func init() {
	rootCmd.AddCommand(retentionCmd)
	retentionCmd.AddCommand(retentionRunCmd)
	retentionRunCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "Report what would be archived or purged without changing anything")
	retentionRunCmd.Flags().BoolVar(&retentionConfirm, "confirm", false, "Required to archive or purge records")
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Retention cleanup",
}

var retentionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one retention cleanup",
	Long:  "Archives or purges audit events and reports past their retention window.\nPrints the cleanup report as JSON and exits non-zero when any record failed.",
	RunE:  runRetention,
}

func runRetention(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := background(cmd)
	app, err := server.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	rep, err := app.Retention.RunUnattended(ctx, &models.RunRequest{DryRun: retentionDryRun, Confirm: retentionConfirm})
	if rep != nil {
		if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("retention cleanup finished with %d failed records", n)
	}
	return nil
}
