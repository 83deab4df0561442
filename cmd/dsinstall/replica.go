package main

import (
	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/spf13/cobra"
)

var replicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Install a replica of an existing directory server",
	Long: `Replica installs a new instance and joins it to an existing server.

The credential used for the join depends on the domain level: level 0 binds
as the directory manager, higher levels use the host's service identity
over a protected channel.

Examples:
  dsinstall replica --master ds1.example.test
  dsinstall replica --master ds1.example.test --domain-level 1 \
    --service-identity krbprincipalname=ldap/ds2.example.test@EXAMPLE.TEST,cn=services,cn=accounts,dc=example,dc=test`,
	RunE: runReplica,
}

var (
	replicaMaster          string
	replicaServiceIdentity string
	replicaDomainLevel     int
	replicaDryRun          bool
	replicaRollback        bool
)

func init() {
	replicaCmd.Flags().StringVar(&replicaMaster, "master", "", "host name of the server to replicate from")
	replicaCmd.Flags().StringVar(&replicaServiceIdentity, "service-identity", "", "directory identity of this host")
	replicaCmd.Flags().IntVar(&replicaDomainLevel, "domain-level", -1, "domain level of the deployment")
	replicaCmd.Flags().BoolVar(&replicaDryRun, "dry-run", false, "list the steps without running them")
	replicaCmd.Flags().BoolVar(&replicaRollback, "rollback-on-failure", false, "uninstall when a step fails")

	rootCmd.AddCommand(replicaCmd)
}

func applyReplicaOverrides(cfg *config.Config) {
	if replicaMaster == "" && replicaServiceIdentity == "" && replicaDomainLevel < 0 {
		return
	}
	if cfg.Replica == nil {
		cfg.Replica = &config.Replica{}
	}
	if replicaMaster != "" {
		cfg.Replica.Master = replicaMaster
	}
	if replicaServiceIdentity != "" {
		cfg.Replica.ServiceIdentity = replicaServiceIdentity
	}
	if replicaDomainLevel >= 0 {
		cfg.Instance.DomainLevel = replicaDomainLevel
	}
}

func runReplica(cmd *cobra.Command, _ []string) error {
	return withInstaller(func(inst *app.Installer, cfg *config.Config, logger ports.Logger) error {
		steps, err := inst.ReplicaSteps()
		if err != nil {
			return err
		}
		return runSteps(cmd.Context(), inst, logger, steps, cfg.Budgets.Install(), replicaDryRun, replicaRollback)
	})
}
