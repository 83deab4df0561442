package dsinstance

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

const infTemplate = `
[General]
FullMachineName=   ${FQDN}
SuiteSpotUserID=   ${USER}
SuiteSpotGroup=    ${GROUP}
ServerRoot=    ${SERVER_ROOT}
[slapd]
ServerPort=   389
ServerIdentifier=   ${SERVERID}
Suffix=   ${SUFFIX}
RootDN=   cn=Directory Manager
RootDNPwd= ${PASSWORD}
InstallLdifFile= ${BOOT_LDIF}
inst_dir=   /var/lib/dirsrv/scripts-${SERVERID}
`

const baseTemplate = `
dn: ${SUFFIX}
objectClass: top
objectClass: domain
objectClass: pilotObject
dc: ${BASEDC}
info: IPA V2.0
`

const certmapTemplate = `certmap default         default
default:DNComps
default:FilterComps     uid
certmap ipaca           CN=Certificate Authority,${SUBJECT_BASE}
ipaca:CmapLdapAttr      seeAlso
ipaca:verifycert        on
`

const (
	ldbmConfigDN = "cn=config,cn=ldbm database,cn=plugins,cn=config"
	sidgenDN     = "cn=IPA SIDGEN,cn=plugins,cn=config"
	extdomDN     = "cn=ipa_extdom_extop,cn=plugins,cn=config"
)

// CreateUser creates the service account unless it exists.
func (b *Builder) CreateUser() install.Step {
	return b.step("creating directory server user", func(ctx context.Context) error {
		_, err := b.deps.Runner.Run(ctx, ports.Command{Argv: []string{"id", "-u", ServiceUser}})
		var toolErr *ports.ExternalToolError
		if err != nil && !errors.As(err, &toolErr) {
			return err
		}
		exists := err == nil
		if err := b.deps.Store.Backup(ctx, KeyUserExists, exists); err != nil {
			return err
		}
		if exists {
			b.deps.Logger.Debug(ctx, "service user already exists", ports.F("user", ServiceUser))
			return nil
		}

		if _, err := b.deps.Runner.Run(ctx, ports.Command{Argv: []string{"groupadd", "-r", ServiceUser}}); err != nil {
			return err
		}
		_, err = b.deps.Runner.Run(ctx, ports.Command{Argv: []string{
			"useradd", "-r", "-g", ServiceUser,
			"-d", "/var/lib/dirsrv", "-s", "/sbin/nologin",
			"-c", "DS System User", ServiceUser,
		}})
		return err
	})
}

// CreateInstance runs the directory server setup tool.
func (b *Builder) CreateInstance() install.Step {
	return b.step("creating directory server instance", func(ctx context.Context) error {
		running, err := b.deps.Controller.IsRunning(ctx)
		if err != nil {
			return err
		}
		if err := b.deps.Store.Backup(ctx, KeyRunning, running); err != nil {
			return err
		}
		if err := b.deps.Store.Backup(ctx, KeyServerID, b.inst.ServerID); err != nil {
			return err
		}
		if err := b.deps.Files.BackupFile(ctx, b.inst.SysconfigPath()); err != nil {
			return err
		}

		extra := map[string]string{"BOOT_LDIF": BootLDIF}
		base, err := b.render("base LDIF", baseTemplate, extra)
		if err != nil {
			return err
		}
		if err := b.writeFile(BootLDIF, []byte(base), 0o440); err != nil {
			return err
		}
		defer func() { _ = b.deps.FS.Remove(BootLDIF) }()

		inf, err := b.render("setup file", infTemplate, extra)
		if err != nil {
			return err
		}
		infPath := path.Join(path.Dir(BootLDIF), "setup-"+b.inst.ServerID+".inf")
		if err := b.writeFile(infPath, []byte(inf), 0o600); err != nil {
			return err
		}
		defer func() { _ = b.deps.FS.Remove(infPath) }()

		_, err = b.deps.Runner.Run(ctx, ports.Command{
			Argv:    []string{SetupTool, "--silent", "--logfile", "-", "-f", infPath},
			Secrets: []string{b.inst.AdminPassword},
		})
		if err != nil {
			return fmt.Errorf("failed to create DS instance: %w", err)
		}
		b.deps.Logger.Debug(ctx, "completed creating DS instance", ports.F("serverid", b.inst.ServerID))
		return nil
	})
}

// UpdateDSE edits dse.ldif while the instance is stopped.
func (b *Builder) UpdateDSE() install.Step {
	return b.step("updating configuration in dse.ldif", func(_ context.Context) error {
		name := path.Join(b.inst.InstanceDir(), "dse.ldif")
		data, err := vfs.ReadFile(b.deps.FS, name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		updated, err := ReplaceLDIFValue(string(data), ldbmConfigDN, "nsslapd-db-locks", "50000")
		if err != nil {
			return fmt.Errorf("updating %s: %w", name, err)
		}
		return vfs.WriteFile(b.deps.FS, name, []byte(updated), 0o600)
	})
}

// AddSchemas copies the bundled schema files into the instance.
func (b *Builder) AddSchemas() install.Step {
	return b.step("adding default schema", func(_ context.Context) error {
		src := path.Join(b.inst.PayloadDir, "schema")
		entries, err := vfs.ReadDir(b.deps.FS, src)
		if err != nil {
			return fmt.Errorf("reading schema directory: %w", err)
		}
		if err := b.deps.FS.MkdirAll(b.inst.SchemaDir(), 0o755); err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".ldif") {
				continue
			}
			data, err := vfs.ReadFile(b.deps.FS, path.Join(src, e.Name()))
			if err != nil {
				return err
			}
			if err := vfs.WriteFile(b.deps.FS, path.Join(b.inst.SchemaDir(), e.Name()), data, 0o440); err != nil {
				return err
			}
		}
		return nil
	})
}

// Certmap writes certmap.conf for the instance.
func (b *Builder) Certmap() install.Step {
	return b.step("configuring certmap.conf", func(ctx context.Context) error {
		out, err := b.render("certmap.conf", certmapTemplate, map[string]string{"SUBJECT_BASE": b.inst.SubjectBase})
		if err != nil {
			return err
		}
		if err := b.writeFile(path.Join(b.inst.InstanceDir(), "certmap.conf"), []byte(out), 0o644); err != nil {
			return err
		}
		return b.deps.Store.Set(ctx, KeyCertmapSubject, b.inst.SubjectBase)
	})
}

// ConfigureCCache points the service at its own credential cache.
func (b *Builder) ConfigureCCache() install.Step {
	return b.step("configure dirsrv ccache", func(ctx context.Context) error {
		uid, err := b.serviceUID(ctx)
		if err != nil {
			return err
		}
		return b.replaceSysconfig(ctx, map[string]string{"KRB5CCNAME": "/tmp/krb5cc_" + uid})
	})
}

func (b *Builder) replaceSysconfig(ctx context.Context, vars map[string]string) error {
	name := b.inst.SysconfigPath()
	if err := b.deps.Files.BackupFile(ctx, name); err != nil {
		return err
	}
	exists, err := vfs.Exists(b.deps.FS, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := b.writeFile(name, nil, 0o644); err != nil {
			return err
		}
	}
	old, err := b.deps.Sysconfig.ReplaceVariables(name, vars)
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	for k, v := range old {
		b.deps.Logger.Debug(ctx, "replaced sysconfig variable", ports.F("key", k), ports.F("previous", v))
	}
	return nil
}

// SASLMappings replaces the default SASL identity mappings.
func (b *Builder) SASLMappings() install.Step {
	return b.step("adding sasl mappings to the directory", func(ctx context.Context) error {
		dir, err := b.directory()
		if err != nil {
			return err
		}
		mappings := []*ports.Entry{
			ports.NewEntry("cn=Full Principal,cn=mapping,cn=sasl,cn=config").
				Set("objectClass", "top", "nsSaslMapping").
				Set("cn", "Full Principal").
				Set("nsSaslMapRegexString", `\(.*\)@\(.*\)`).
				Set("nsSaslMapBaseDNTemplate", b.inst.Suffix).
				Set("nsSaslMapFilterTemplate", `(krbPrincipalName=\1@\2)`).
				Set("nsSaslMapPriority", "10"),
			ports.NewEntry("cn=Name Only,cn=mapping,cn=sasl,cn=config").
				Set("objectClass", "top", "nsSaslMapping").
				Set("cn", "Name Only").
				Set("nsSaslMapRegexString", `^[^:@]+$`).
				Set("nsSaslMapBaseDNTemplate", b.inst.Suffix).
				Set("nsSaslMapFilterTemplate", "(krbPrincipalName=&@"+b.inst.Realm+")").
				Set("nsSaslMapPriority", "10"),
		}
		for _, m := range mappings {
			existence, err := EnsureEntry(ctx, dir, m)
			if err != nil {
				return fmt.Errorf("adding %s: %w", m.DN, err)
			}
			b.deps.Logger.Debug(ctx, "sasl mapping", ports.F("dn", m.DN), ports.F("was", existence.String()))
		}
		return nil
	})
}

// InitMemberOf runs the memberof fixup task and waits for it.
func (b *Builder) InitMemberOf() install.Step {
	return b.step("initializing group membership", func(ctx context.Context) error {
		if err := b.deps.Payloads.Apply(ctx, "memberof-task.ldif", b.inst.Substitutions()); err != nil {
			return err
		}
		dir, err := b.directory()
		if err != nil {
			return err
		}
		b.deps.Logger.Debug(ctx, "waiting for memberof task to complete")
		_, err = b.deps.Poller.Wait(ctx, b.inst.MemberOfTaskDN(), replication.DirectoryTaskStatus(dir))
		return err
	})
}

// AddPluginIfMissing applies ref unless the plugin entry dn exists.
func (b *Builder) AddPluginIfMissing(label, dn, ref string) install.Step {
	return b.step(label, func(ctx context.Context) error {
		dir, err := b.directory()
		if err != nil {
			return err
		}
		existence, err := ExistenceCheck(ctx, dir, ports.NewEntry(dn))
		if err != nil {
			return err
		}
		if existence != Absent {
			b.deps.Logger.Debug(ctx, "plugin is already configured", ports.F("dn", dn))
			return nil
		}
		return b.deps.Payloads.Apply(ctx, ref, map[string]string{"SUFFIX": b.inst.Suffix})
	})
}

// Tune raises the file descriptor limit of the instance.
func (b *Builder) Tune() install.Step {
	return b.step("tuning directory server", func(ctx context.Context) error {
		if err := b.deps.Controller.Restart(ctx); err != nil {
			return err
		}
		return b.deps.Payloads.Apply(ctx, "ds-nfiles.ldif", map[string]string{"NOFILES": strconv.Itoa(NoFiles)})
	})
}

// EnableOnBoot records whether the unit was enabled and hands start on
// boot over to the platform service that wraps it.
func (b *Builder) EnableOnBoot() install.Step {
	return b.step("configuring directory to start on boot", func(ctx context.Context) error {
		enabled, err := b.deps.Controller.IsEnabled(ctx)
		if err != nil {
			return err
		}
		if err := b.deps.Store.Backup(ctx, KeyEnabled, enabled); err != nil {
			return err
		}
		return b.deps.Controller.Disable(ctx)
	})
}

// RequestKeytab fetches the service keytab and points the service at it.
func (b *Builder) RequestKeytab() install.Step {
	return b.step("creating DS keytab", func(ctx context.Context) error {
		if err := b.deps.Issuer.RequestKeytab(ctx, b.inst.Principal(), KeytabPath); err != nil {
			return err
		}
		return b.replaceSysconfig(ctx, map[string]string{"KRB5_KTNAME": KeytabPath})
	})
}
