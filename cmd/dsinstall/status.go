package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded installation state",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json-output", false, "print the status as JSON")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withInstaller(func(inst *app.Installer, _ *config.Config, _ ports.Logger) error {
		st, err := inst.Status(cmd.Context())
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatus(st)
		return nil
	})
}

func printStatus(st app.Status) {
	fmt.Printf("Instance:  %s\n", st.ServerID)
	if !st.Installed {
		fmt.Println("Installed: no")
		return
	}
	fmt.Println("Installed: yes")
	if st.RunID != "" {
		fmt.Printf("Run ID:    %s\n", st.RunID)
	}
	fmt.Printf("Running:   %t\n", st.Running)
	fmt.Printf("Enabled:   %t\n", st.Enabled)
	fmt.Printf("Recorded:  %d setting(s)\n", len(st.Backups))
	for _, key := range st.Backups {
		fmt.Printf("  - %s\n", key)
	}
}
