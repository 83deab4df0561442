package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/dsinstall/internal/adapters/logging"
	"github.com/felixgeelhaar/dsinstall/internal/app"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read when --config is not given and the file exists.
const DefaultConfigFile = "/etc/dsinstall/dsinstall.yaml"

// AdminPasswordEnv supplies the directory manager password.
const AdminPasswordEnv = "DSINSTALL_ADMIN_PASSWORD"

var (
	// Global flags
	cfgFile  string
	verbose  bool
	logLevel string
	jsonLogs bool

	// Instance overrides
	realmFlag    string
	hostnameFlag string
	domainFlag   string
	adminPwFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "dsinstall",
	Short: "Install and configure a directory server instance",
	Long: `dsinstall configures a directory server instance in ordered, checkpointed steps.

Every step records what it changes before changing it, so a failed or
unwanted installation can be undone with "dsinstall uninstall".`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "console log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "log to the console as JSON")

	rootCmd.PersistentFlags().StringVar(&realmFlag, "realm", "", "Kerberos realm of the deployment")
	rootCmd.PersistentFlags().StringVar(&hostnameFlag, "hostname", "", "fully qualified host name of this server")
	rootCmd.PersistentFlags().StringVar(&domainFlag, "domain", "", "DNS domain of the deployment")
	rootCmd.PersistentFlags().StringVar(&adminPwFlag, "admin-password", "", "directory manager password (or "+AdminPasswordEnv+")")

	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration file, applies flag and environment
// overrides, fills defaults and validates the result.
func loadConfig(fs vfs.FileSystem) (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if ok, _ := vfs.Exists(fs, DefaultConfigFile); ok {
			path = DefaultConfigFile
		}
	}

	cfg := &config.Config{}
	if path != "" {
		var err error
		if cfg, err = config.NewLoader(fs).Read(path); err != nil {
			return nil, err
		}
	}

	applyOverrides(cfg)
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if realmFlag != "" {
		cfg.Instance.Realm = realmFlag
	}
	if hostnameFlag != "" {
		cfg.Instance.Hostname = hostnameFlag
	}
	if domainFlag != "" {
		cfg.Instance.Domain = domainFlag
	}
	if pw := os.Getenv(AdminPasswordEnv); pw != "" {
		cfg.Instance.AdminPassword = pw
	}
	if adminPwFlag != "" {
		cfg.Instance.AdminPassword = adminPwFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	applyTLSOverrides(cfg)
	applyReplicaOverrides(cfg)
}

// newLogger returns the console logger tee'd with the installation log.
// The returned closer must be closed when the command finishes.
func newLogger(cfg *config.Config) (ports.Logger, io.Closer, error) {
	level := ports.ParseLevel(cfg.LogLevel)
	if verbose {
		level = ports.LevelDebug
	}
	console := logging.NewConsoleLogger(
		logging.WithLevel(level),
		logging.WithJSONFormat(jsonLogs),
	)

	file, closer, err := logging.OpenInstallLog(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewTeeLogger(console, file), closer, nil
}

// withInstaller loads the configuration and runs fn with an installer
// acting on the local host.
func withInstaller(fn func(inst *app.Installer, cfg *config.Config, logger ports.Logger) error) error {
	cfg, err := loadConfig(osfs.New())
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	return fn(app.NewSystem(cfg, logger), cfg, logger)
}

// formatError returns a user-friendly error message.
// With verbose=false: shows only the user message and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var list *config.ErrorList
	if errors.As(err, &list) {
		return list.Format()
	}
	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}
	return err.Error()
}

// printError prints an error message to stderr with proper formatting.
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}
