package dsinstance

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// PayloadLDAPI enables the ldapi listener. It is applied before autobind
// exists, so it needs a password bind.
const PayloadLDAPI = "ldapi.ldif"

// ReplicaOptions describe the existing node a replica joins.
type ReplicaOptions struct {
	Master string
	// ServiceIdentity overrides the identity derived from the host
	// principal for delegated binds.
	ServiceIdentity string
}

// replicationRecord is stored under KeyReplication once a join succeeded.
type replicationRecord struct {
	Peer            string `json:"peer"`
	Mode            string `json:"mode"`
	AgreementDN     string `json:"agreement_dn,omitempty"`
	RepairPerformed bool   `json:"repair_performed"`
}

// SetupReplication joins the existing node through the bootstrap
// coordinator.
func (b *Builder) SetupReplication(opts ReplicaOptions) install.Step {
	return b.step("setting up initial replication", func(ctx context.Context) error {
		identity := opts.ServiceIdentity
		if identity == "" {
			identity = b.inst.ServiceIdentity()
		}

		var anchor []byte
		if b.inst.CAFile != "" {
			data, err := vfs.ReadFile(b.deps.FS, b.inst.CAFile)
			if err != nil {
				return fmt.Errorf("reading CA file: %w", err)
			}
			anchor = data
		}

		outcome, err := b.deps.Coordinator.Bootstrap(ctx, replication.Request{
			Peer:            opts.Master,
			DomainLevel:     replication.DomainLevel(b.inst.DomainLevel),
			AdminSecret:     b.inst.AdminPassword,
			ServiceIdentity: identity,
			TrustAnchor:     anchor,
			LocalHost:       b.inst.FQDN,
		})
		if err != nil {
			return err
		}

		b.deps.Logger.Info(ctx, "replication established",
			ports.F("peer", opts.Master),
			ports.F("repair", outcome.RepairPerformed),
			ports.F("polls", outcome.Polls))
		return b.deps.Store.Set(ctx, KeyReplication, replicationRecord{
			Peer:            opts.Master,
			Mode:            outcome.Agreement.Mode().String(),
			AgreementDN:     outcome.AgreementDN,
			RepairPerformed: outcome.RepairPerformed,
		})
	})
}

func (b *Builder) commonSetup(enableTLS bool) []install.Step {
	steps := []install.Step{
		b.CreateUser(),
		b.CreateInstance(),
		b.Payload("enabling ldapi", PayloadLDAPI),
		b.Payload("configure autobind for root", "root-autobind.ldif"),
		b.Stop(),
		b.UpdateDSE(),
		b.Start(),
		b.AddSchemas(),
		b.Payload("enabling memberof plugin", "memberof-conf.ldif"),
		b.Payload("enabling winsync plugin", "ipa-winsync-conf.ldif"),
		b.Payload("configuring replication version plugin", "version-conf.ldif"),
		b.Payload("enabling IPA enrollment plugin", "enrollment-conf.ldif"),
		b.Payload("configuring uniqueness plugin", "unique-attributes.ldif"),
		b.Payload("configuring uuid plugin", "uuid-conf.ldif", "uuid.ldif"),
		b.Payload("configuring modrdn plugin", "modrdn-conf.ldif", "modrdn-krbprinc.ldif"),
		b.Payload("configuring DNS plugin", "ipa-dns-conf.ldif"),
		b.Payload("enabling entryUSN plugin", "entryusn.ldif"),
		b.Payload("configuring lockout plugin", "lockout-conf.ldif"),
		b.Payload("configuring topology plugin", "ipa-topology-conf.ldif"),
		b.Payload("creating indices", "indices.ldif"),
		b.Payload("enabling referential integrity plugin", "referint-conf.ldif"),
	}
	if enableTLS {
		steps = append(steps, b.EnableTLS())
	}
	return append(steps,
		b.Certmap(),
		b.Payload("configure new location for managed entries", "repoint-managed-entries.ldif"),
		b.ConfigureCCache(),
		b.Payload("enabling SASL mapping fallback", "sasl-mapping-fallback.ldif"),
	)
}

func (b *Builder) commonPostSetup(initMemberOf bool) []install.Step {
	var steps []install.Step
	if initMemberOf {
		steps = append(steps, b.InitMemberOf())
	}
	return append(steps,
		b.Payload("adding master entry", "master-entry.ldif"),
		b.Payload("initializing domain level", "domainlevel.ldif"),
		b.Payload("configuring Posix uid/gid generation", "dna.ldif"),
		b.Payload("adding replication acis", "replica-acis.ldif"),
		b.Payload("enabling compatibility plugin", "schema_compat.uldif"),
		b.AddPluginIfMissing("activating sidgen plugin", sidgenDN, "ipa-sidgen-conf.ldif"),
		b.AddPluginIfMissing("activating extdom plugin", extdomDN, "ipa-extdom-extop-conf.ldif"),
		b.Tune(),
		b.EnableOnBoot(),
	)
}

// FreshInstallSteps installs the first server of a new deployment.
func FreshInstallSteps(inst *Instance, deps Deps) []install.Step {
	b := NewBuilder(inst, deps)

	steps := b.commonSetup(false)
	steps = append(steps,
		b.Restart(),
		b.SASLMappings(),
		b.Payload("adding default layout", "bootstrap-template.ldif"),
		b.Payload("adding delegation layout", "delegation.ldif"),
		b.Payload("creating container for managed entries", "managed-entries.ldif"),
		b.Payload("configuring user private groups", "user_private_groups.ldif"),
		b.Payload("configuring netgroups from hostgroups", "host_nis_groups.ldif"),
		b.Payload("creating default Sudo bind user", "sudobind.ldif"),
		b.Payload("creating default Auto Member layout", "automember.ldif"),
		b.Payload("adding range check plugin", "range-check-conf.ldif"),
	)
	if inst.HBACAllow {
		steps = append(steps, b.Payload("creating default HBAC rule allow_all", "default-hbac.ldif"))
	}
	steps = append(steps, b.Payload("adding entries for topology management", "topology-entries.ldif"))
	return append(steps, b.commonPostSetup(true)...)
}

// EnableTLSSteps turns on transport security for an installed instance.
func EnableTLSSteps(inst *Instance, deps Deps) []install.Step {
	b := NewBuilder(inst, deps)
	return []install.Step{
		b.Connect(),
		b.EnableTLS(),
		b.Restart(),
		b.UploadCACert(),
	}
}

// ReplicaSteps installs a server that joins an existing deployment. The
// membership fixup is left to the replication bootstrap.
func ReplicaSteps(inst *Instance, deps Deps, opts ReplicaOptions) []install.Step {
	b := NewBuilder(inst.AsReplica(), deps)

	steps := b.commonSetup(true)
	steps = append(steps,
		b.Restart(),
		b.RequestKeytab(),
		b.SetupReplication(opts),
		b.SASLMappings(),
		b.Payload("updating schema", "schema-update.ldif"),
		b.Payload("setting Auto Member configuration", "replica-automember.ldif"),
		b.Payload("enabling S4U2Proxy delegation", "replica-s4u2proxy.ldif"),
	)
	return append(steps, b.commonPostSetup(false)...)
}
