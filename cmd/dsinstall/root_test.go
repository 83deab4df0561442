package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replicaYAML = `
log_file: /tmp/dsinstall.log
instance:
  realm: EXAMPLE.TEST
  hostname: ds2.example.test
  admin_password: Secret123
replica:
  master: ds1.example.test
`

// resetFlags restores the package flag variables after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, verbose, logLevel, jsonLogs = "", false, "", false
		realmFlag, hostnameFlag, domainFlag, adminPwFlag = "", "", "", ""
		tlsPKCS12File, tlsPinFile, tlsCAFile = "", "", ""
		replicaMaster, replicaServiceIdentity, replicaDomainLevel = "", "", -1
	})
}

func TestRootCommand_UseLine(t *testing.T) {
	assert.Equal(t, "dsinstall", rootCmd.Use)
}

func TestRootCommand_HasPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	for _, name := range []string{"config", "verbose", "log-level", "json", "realm", "hostname", "domain", "admin-password"} {
		t.Run(name, func(t *testing.T) {
			require.NotNil(t, flags.Lookup(name))
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"install", "replica", "enable-tls", "uninstall", "status", "version"}

	got := make(map[string]*cobra.Command)
	for _, c := range rootCmd.Commands() {
		got[c.Name()] = c
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestLoadConfig_File(t *testing.T) {
	resetFlags(t)

	fs := memoryfs.New()
	require.NoError(t, fs.MkdirAll("/etc/dsinstall", 0o755))
	require.NoError(t, vfs.WriteFile(fs, "/etc/dsinstall/replica.yaml", []byte(replicaYAML), 0o600))
	cfgFile = "/etc/dsinstall/replica.yaml"

	cfg, err := loadConfig(fs)

	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE.TEST", cfg.Instance.Realm)
	assert.Equal(t, "dc=example,dc=test", cfg.Instance.Suffix)
	assert.Equal(t, "ds1.example.test", cfg.Replica.Master)
	assert.Equal(t, config.DefaultStateDir, cfg.StateDir)
	assert.Equal(t, "/tmp/dsinstall.log", cfg.LogFile)
}

func TestLoadConfig_DefaultFileMissing(t *testing.T) {
	resetFlags(t)
	t.Setenv(AdminPasswordEnv, "")

	_, err := loadConfig(memoryfs.New())

	require.Error(t, err)
	assert.True(t, config.IsUserError(err, config.ErrCodePrecondition))
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	resetFlags(t)
	cfgFile = "/nowhere.yaml"

	_, err := loadConfig(memoryfs.New())

	assert.True(t, config.IsUserError(err, config.ErrCodeConfigNotFound))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetFlags(t)
	t.Setenv(AdminPasswordEnv, "FromEnvironment")

	realmFlag = "EXAMPLE.TEST"
	hostnameFlag = "ds3.example.test"
	replicaMaster = "ds1.example.test"
	replicaDomainLevel = 1
	replicaServiceIdentity = "krbprincipalname=ldap/ds3.example.test@EXAMPLE.TEST,cn=services,cn=accounts,dc=example,dc=test"
	tlsCAFile = "/etc/ipa/ca.crt"

	cfg, err := loadConfig(memoryfs.New())

	require.NoError(t, err)
	assert.Equal(t, "ds3.example.test", cfg.Instance.Hostname)
	assert.Equal(t, "FromEnvironment", cfg.Instance.AdminPassword)
	assert.Equal(t, 1, cfg.Instance.DomainLevel)
	assert.Equal(t, "/etc/ipa/ca.crt", cfg.Instance.CAFile)
	require.NotNil(t, cfg.Replica)
	assert.Equal(t, "ds1.example.test", cfg.Replica.Master)
}

func TestLoadConfig_PasswordFlagWinsOverEnvironment(t *testing.T) {
	resetFlags(t)
	t.Setenv(AdminPasswordEnv, "FromEnvironment")
	realmFlag, hostnameFlag, adminPwFlag = "EXAMPLE.TEST", "ds1.example.test", "FromTheFlag"

	cfg, err := loadConfig(memoryfs.New())

	require.NoError(t, err)
	assert.Equal(t, "FromTheFlag", cfg.Instance.AdminPassword)
	assert.Nil(t, cfg.Replica)
}

func TestFormatError(t *testing.T) {
	resetFlags(t)

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, "boom", formatError(errors.New("boom")))
	})

	t.Run("user error with suggestion", func(t *testing.T) {
		err := config.NewUserError(config.ErrCodePrecondition, "no replication master configured").
			WithSuggestion("Pass --master")
		assert.Equal(t, "no replication master configured\n\nSuggestion: Pass --master", formatError(err))
	})

	t.Run("technical details only when verbose", func(t *testing.T) {
		err := config.NewUserError(config.ErrCodeConfigParse, "bad file").WithUnderlying(errors.New("line 3"))
		assert.NotContains(t, formatError(err), "line 3")
		verbose = true
		assert.Contains(t, formatError(err), "Technical details: line 3")
		verbose = false
	})

	t.Run("validation list", func(t *testing.T) {
		list := config.NewErrorList()
		list.AddPrecondition("instance.realm", "is required", "")
		assert.Contains(t, formatError(list.AsError()), "Found 1 error(s)")
	})
}

func TestPrintErrorTo(t *testing.T) {
	var buf bytes.Buffer

	printErrorTo(&buf, errors.New("step failed"))

	assert.Equal(t, "Error: step failed\n", buf.String())
}

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, version)
	assert.NotEmpty(t, commit)
	assert.NotEmpty(t, buildDate)
}
