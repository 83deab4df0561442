package config

import (
	"fmt"
	"strings"
)

// minDomainLevel is the floor domain level.
const minDomainLevel = 0

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks a configuration with defaults applied. All problems are
// reported together in an *ErrorList.
func Validate(cfg *Config) error {
	errs := NewErrorList()
	in := cfg.Instance

	if in.Realm == "" {
		errs.AddPrecondition("instance.realm", "is required", "Set the Kerberos realm, for example EXAMPLE.TEST.")
	} else if in.Realm != strings.ToUpper(in.Realm) {
		errs.AddValidation("instance.realm", "must be upper case", fmt.Sprintf("Use %q.", strings.ToUpper(in.Realm)))
	}

	if in.Hostname == "" {
		errs.AddPrecondition("instance.hostname", "is required", "Set the fully qualified host name of this server.")
	} else if !strings.Contains(in.Hostname, ".") {
		errs.AddValidation("instance.hostname", "must be fully qualified", "Use a name such as ds1.example.test.")
	}

	if in.AdminPassword == "" {
		errs.AddPrecondition("instance.admin_password", "is required",
			"Provide the directory manager password with --admin-password or DSINSTALL_ADMIN_PASSWORD.")
	} else if len(in.AdminPassword) < MinPasswordLength {
		errs.AddValidation("instance.admin_password",
			fmt.Sprintf("must be at least %d characters long", MinPasswordLength), "")
	}

	if in.IDStart < 1 {
		errs.AddValidation("instance.id_start", "must be positive", "")
	}
	if in.IDMax < in.IDStart-1 {
		errs.AddValidation("instance.id_max", "must not be lower than id_start - 1", "")
	}

	if in.DomainLevel < minDomainLevel {
		errs.AddValidation("instance.domain_level",
			fmt.Sprintf("must be at least %d", minDomainLevel), "")
	}

	if (in.PKCS12File == "") != (in.PKCS12PinFile == "") {
		errs.AddValidation("instance.pkcs12_file", "pkcs12_file and pkcs12_pin_file must be set together", "")
	}

	if r := cfg.Replica; r != nil {
		if r.Master == "" {
			errs.AddPrecondition("replica.master", "is required", "Set the host name of the existing server to replicate from.")
		}
		if in.DomainLevel > minDomainLevel && r.ServiceIdentity == "" {
			errs.AddPrecondition("replica.service_identity", "is required above domain level 0",
				"Set the LDAP service principal entry DN of this host.")
		}
		if r.PollIntervalSeconds < 0 || r.PollTimeoutSeconds < 0 {
			errs.AddValidation("replica", "polling durations must not be negative", "")
		}
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		errs.AddValidation("log_level", fmt.Sprintf("unknown level %q", cfg.LogLevel), "Use debug, info, warn or error.")
	}

	return errs.AsError()
}
