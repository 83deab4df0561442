package main

import (
	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/spf13/cobra"
)

var enableTLSCmd = &cobra.Command{
	Use:   "enable-tls",
	Short: "Enable transport security on an installed instance",
	Long: `Enable-tls obtains a server certificate, or imports one from a PKCS#12
file, and turns on transport security of an already installed instance.

Examples:
  dsinstall enable-tls
  dsinstall enable-tls --pkcs12 /root/server.p12 --pin-file /root/server.pin`,
	RunE: runEnableTLS,
}

var (
	tlsPKCS12File  string
	tlsPinFile     string
	tlsCAFile      string
	tlsDryRun      bool
	tlsRollbackErr bool
)

func init() {
	enableTLSCmd.Flags().StringVar(&tlsPKCS12File, "pkcs12", "", "PKCS#12 file holding the server certificate")
	enableTLSCmd.Flags().StringVar(&tlsPinFile, "pin-file", "", "file holding the PKCS#12 password")
	enableTLSCmd.Flags().StringVar(&tlsCAFile, "ca-file", "", "PEM bundle of CA certificates to trust")
	enableTLSCmd.Flags().BoolVar(&tlsDryRun, "dry-run", false, "list the steps without running them")
	enableTLSCmd.Flags().BoolVar(&tlsRollbackErr, "rollback-on-failure", false, "uninstall when a step fails")

	rootCmd.AddCommand(enableTLSCmd)
}

func applyTLSOverrides(cfg *config.Config) {
	if tlsPKCS12File != "" {
		cfg.Instance.PKCS12File = tlsPKCS12File
	}
	if tlsPinFile != "" {
		cfg.Instance.PKCS12PinFile = tlsPinFile
	}
	if tlsCAFile != "" {
		cfg.Instance.CAFile = tlsCAFile
	}
}

func runEnableTLS(cmd *cobra.Command, _ []string) error {
	return withInstaller(func(inst *app.Installer, cfg *config.Config, logger ports.Logger) error {
		return runSteps(cmd.Context(), inst, logger, inst.EnableTLSSteps(), cfg.Budgets.TLS(), tlsDryRun, tlsRollbackErr)
	})
}
