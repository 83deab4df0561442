package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the first directory server of a deployment",
	Long: `Install creates and configures a new directory server instance.

Each step records the settings it changes. If a step fails the run stops;
use --rollback-on-failure or "dsinstall uninstall" to undo what was done.

Examples:
  dsinstall install --config /etc/dsinstall/dsinstall.yaml
  dsinstall install --realm EXAMPLE.TEST --hostname ds1.example.test
  dsinstall install --dry-run`,
	RunE: runInstall,
}

var (
	installDryRun            bool
	installRollbackOnFailure bool
)

func init() {
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "list the steps without running them")
	installCmd.Flags().BoolVar(&installRollbackOnFailure, "rollback-on-failure", false, "uninstall when a step fails")

	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, _ []string) error {
	return withInstaller(func(inst *app.Installer, cfg *config.Config, logger ports.Logger) error {
		steps := inst.FreshInstallSteps()
		return runSteps(cmd.Context(), inst, logger, steps, cfg.Budgets.Install(), installDryRun, installRollbackOnFailure)
	})
}

// runSteps runs steps and reports the outcome. Dry runs only list the
// step labels.
func runSteps(ctx context.Context, inst *app.Installer, logger ports.Logger, steps []install.Step, budget time.Duration, dryRun, rollback bool) error {
	if dryRun {
		printSteps(steps)
		return nil
	}

	report, err := inst.RunInstallation(ctx, steps, budget)
	if report.Overran {
		logger.Warn(ctx, "installation took longer than expected",
			ports.F("elapsed", report.Elapsed.Round(time.Second).String()),
			ports.F("budget", report.Budget.String()))
	}
	if err != nil {
		var stepErr *install.StepError
		if errors.As(err, &stepErr) {
			fmt.Printf("Step %d of %d failed: %s\n", stepErr.Index+1, len(steps), stepErr.Label)
		}
		if rollback {
			fmt.Println("Rolling back the installation...")
			if _, rbErr := inst.RunUninstall(ctx); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		} else {
			fmt.Println(`Run "dsinstall uninstall" to undo the completed steps.`)
		}
		return err
	}

	fmt.Printf("Done: %d steps in %s\n", len(report.Completed), report.Elapsed.Round(time.Millisecond))
	return nil
}

func printSteps(steps []install.Step) {
	for i, label := range install.Labels(steps) {
		fmt.Printf("  [%d/%d] %s\n", i+1, len(steps), label)
	}
}
