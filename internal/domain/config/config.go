// Package config loads and validates the installer configuration.
package config

import (
	"strings"
	"time"
)

// Default locations and limits.
const (
	DefaultStateDir      = "/var/lib/dsinstall"
	DefaultLogFile       = "/var/log/dsinstall.log"
	DefaultConfigDir     = "/etc/dirsrv"
	DefaultSysconfigDir  = "/etc/sysconfig"
	DefaultPayloadDir    = "/usr/share/dsinstall"
	DefaultIDStart       = 1100
	DefaultIDMax         = 999999
	DefaultInstallBudget = 60 * time.Second
	DefaultTLSBudget     = 10 * time.Second
	MinPasswordLength    = 8
)

// Config is the installer configuration file.
type Config struct {
	StateDir string   `yaml:"state_dir,omitempty" toml:"state_dir,omitempty"`
	LogFile  string   `yaml:"log_file,omitempty" toml:"log_file,omitempty"`
	LogLevel string   `yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	Instance Instance `yaml:"instance" toml:"instance"`
	Replica  *Replica `yaml:"replica,omitempty" toml:"replica,omitempty"`
	Budgets  Budgets  `yaml:"budgets,omitempty" toml:"budgets,omitempty"`
}

// Instance describes the directory-server instance to install.
type Instance struct {
	Realm       string `yaml:"realm" toml:"realm"`
	Hostname    string `yaml:"hostname" toml:"hostname"`
	Domain      string `yaml:"domain" toml:"domain"`
	Suffix      string `yaml:"suffix,omitempty" toml:"suffix,omitempty"`
	SubjectBase string `yaml:"subject_base,omitempty" toml:"subject_base,omitempty"`
	// AdminPassword is the directory manager password.
	AdminPassword string `yaml:"admin_password,omitempty" toml:"admin_password,omitempty"`
	IDStart       int    `yaml:"id_start,omitempty" toml:"id_start,omitempty"`
	IDMax         int    `yaml:"id_max,omitempty" toml:"id_max,omitempty"`
	DomainLevel   int    `yaml:"domain_level,omitempty" toml:"domain_level,omitempty"`
	PKCS12File    string `yaml:"pkcs12_file,omitempty" toml:"pkcs12_file,omitempty"`
	PKCS12PinFile string `yaml:"pkcs12_pin_file,omitempty" toml:"pkcs12_pin_file,omitempty"`
	CAFile        string `yaml:"ca_file,omitempty" toml:"ca_file,omitempty"`
	// HBACAllow keeps the default allow-all access rule.
	HBACAllow    bool   `yaml:"hbac_allow,omitempty" toml:"hbac_allow,omitempty"`
	ConfigDir    string `yaml:"config_dir,omitempty" toml:"config_dir,omitempty"`
	SysconfigDir string `yaml:"sysconfig_dir,omitempty" toml:"sysconfig_dir,omitempty"`
	PayloadDir   string `yaml:"payload_dir,omitempty" toml:"payload_dir,omitempty"`
}

// Replica describes how a new node joins an existing one.
type Replica struct {
	Master string `yaml:"master" toml:"master"`
	// ServiceIdentity is the node's own directory identity, used above
	// domain level 0.
	ServiceIdentity     string `yaml:"service_identity,omitempty" toml:"service_identity,omitempty"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds,omitempty" toml:"poll_interval_seconds,omitempty"`
	PollTimeoutSeconds  int    `yaml:"poll_timeout_seconds,omitempty" toml:"poll_timeout_seconds,omitempty"`
}

// PollInterval returns the delay between repair task polls, or zero.
func (r *Replica) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

// PollTimeout returns the repair task wait bound, or zero.
func (r *Replica) PollTimeout() time.Duration {
	return time.Duration(r.PollTimeoutSeconds) * time.Second
}

// Budgets are the advisory runtime budgets per scenario, in seconds.
type Budgets struct {
	InstallSeconds int `yaml:"install_seconds,omitempty" toml:"install_seconds,omitempty"`
	TLSSeconds     int `yaml:"tls_seconds,omitempty" toml:"tls_seconds,omitempty"`
}

// Install returns the fresh install and replica budget.
func (b Budgets) Install() time.Duration {
	return time.Duration(b.InstallSeconds) * time.Second
}

// TLS returns the enable-TLS budget.
func (b Budgets) TLS() time.Duration {
	return time.Duration(b.TLSSeconds) * time.Second
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Budgets.InstallSeconds == 0 {
		c.Budgets.InstallSeconds = int(DefaultInstallBudget / time.Second)
	}
	if c.Budgets.TLSSeconds == 0 {
		c.Budgets.TLSSeconds = int(DefaultTLSBudget / time.Second)
	}

	in := &c.Instance
	if in.Domain == "" && in.Realm != "" {
		in.Domain = strings.ToLower(in.Realm)
	}
	if in.Suffix == "" && in.Domain != "" {
		in.Suffix = SuffixFromDomain(in.Domain)
	}
	if in.SubjectBase == "" && in.Realm != "" {
		in.SubjectBase = "O=" + in.Realm
	}
	if in.IDStart == 0 {
		in.IDStart = DefaultIDStart
	}
	if in.IDMax == 0 {
		in.IDMax = DefaultIDMax
	}
	if in.ConfigDir == "" {
		in.ConfigDir = DefaultConfigDir
	}
	if in.SysconfigDir == "" {
		in.SysconfigDir = DefaultSysconfigDir
	}
	if in.PayloadDir == "" {
		in.PayloadDir = DefaultPayloadDir
	}
}

// SuffixFromDomain converts example.test into dc=example,dc=test.
func SuffixFromDomain(domain string) string {
	labels := strings.Split(strings.Trim(domain, "."), ".")
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			parts = append(parts, "dc="+strings.ToLower(l))
		}
	}
	return strings.Join(parts, ",")
}
