package main

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/domain/uninstall"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Undo the recorded installation steps",
	Long: `Uninstall restores every setting recorded during installation, newest
first, and removes the instance.

Cleanup is best effort: every action is attempted even when an earlier one
fails, and the failures are reported as warnings at the end.

Examples:
  dsinstall uninstall
  dsinstall uninstall --strict   # exit non-zero on warnings`,
	RunE: runUninstall,
}

var uninstallStrict bool

func init() {
	uninstallCmd.Flags().BoolVar(&uninstallStrict, "strict", false, "exit with an error when a cleanup action failed")

	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	return withInstaller(func(inst *app.Installer, _ *config.Config, _ ports.Logger) error {
		report, err := inst.RunUninstall(cmd.Context())

		var partial *uninstall.PartialFailure
		if err != nil && !errors.As(err, &partial) {
			return err
		}
		printUninstallReport(report)
		if partial != nil && uninstallStrict {
			return err
		}
		return nil
	})
}

func printUninstallReport(report uninstall.Report) {
	failures := report.Failures()
	fmt.Printf("Ran %d cleanup actions\n", len(report.Results))
	if len(failures) == 0 {
		return
	}
	fmt.Printf("\n%d action(s) failed; some state may need manual cleanup:\n", len(failures))
	for _, f := range failures {
		fmt.Printf("  - %s: %v\n", f.Label, f.Err)
	}
}
