// Package dsinstance builds the installation scenarios of a directory-server
// instance and the rollback handlers that undo them.
package dsinstance

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Instance naming and host paths.
const (
	InstancePrefix = "slapd-"
	ServiceUser    = "dirsrv"
	ServerCertName = "Server-Cert"
	KeytabPath     = "/etc/dirsrv/ds.keytab"
	SetupTool      = "/usr/sbin/setup-ds.pl"
	RemoveTool     = "/usr/sbin/remove-ds.pl"
	ServerRoot     = "/usr/lib64/dirsrv"
	BootLDIF       = "/var/lib/dirsrv/boot.ldif"
	NoFiles        = 8192
)

// Replica id range. Seen as depleted by the DNA plugin so the replica asks
// the master for a range.
const (
	ReplicaIDStart = 1101
	ReplicaIDMax   = 1100
)

var upper = cases.Upper(language.Und)

// ServerID derives the instance identifier from a realm name.
func ServerID(realm string) string {
	return upper.String(strings.ReplaceAll(realm, ".", "-"))
}

// Instance is the resolved description of one directory-server instance.
type Instance struct {
	Realm         string
	ServerID      string
	FQDN          string
	Domain        string
	Suffix        string
	SubjectBase   string
	AdminPassword string
	IDStart       int
	IDMax         int
	DomainLevel   int
	PKCS12File    string
	PKCS12PinFile string
	CAFile        string
	HBACAllow     bool
	ConfigDir     string
	SysconfigDir  string
	PayloadDir    string

	// Time stamps generated task names and is fixed per instance.
	Time time.Time
}

// NewInstance resolves an instance from validated configuration.
func NewInstance(cfg config.Instance, now time.Time) *Instance {
	realm := upper.String(cfg.Realm)
	return &Instance{
		Realm:         realm,
		ServerID:      ServerID(realm),
		FQDN:          cfg.Hostname,
		Domain:        cfg.Domain,
		Suffix:        cfg.Suffix,
		SubjectBase:   cfg.SubjectBase,
		AdminPassword: cfg.AdminPassword,
		IDStart:       cfg.IDStart,
		IDMax:         cfg.IDMax,
		DomainLevel:   cfg.DomainLevel,
		PKCS12File:    cfg.PKCS12File,
		PKCS12PinFile: cfg.PKCS12PinFile,
		CAFile:        cfg.CAFile,
		HBACAllow:     cfg.HBACAllow,
		ConfigDir:     cfg.ConfigDir,
		SysconfigDir:  cfg.SysconfigDir,
		PayloadDir:    cfg.PayloadDir,
		Time:          now,
	}
}

// AsReplica returns a copy carrying the depleted replica id range.
func (i *Instance) AsReplica() *Instance {
	c := *i
	c.IDStart = ReplicaIDStart
	c.IDMax = ReplicaIDMax
	return &c
}

// InstanceDir is the configuration directory of the instance.
func (i *Instance) InstanceDir() string {
	return path.Join(i.ConfigDir, InstancePrefix+i.ServerID)
}

// SchemaDir is the schema directory of the instance.
func (i *Instance) SchemaDir() string {
	return path.Join(i.InstanceDir(), "schema")
}

// SysconfigPath is the environment file shared by all instances.
func (i *Instance) SysconfigPath() string {
	return path.Join(i.SysconfigDir, "dirsrv")
}

// Principal is the directory service principal of this host.
func (i *Instance) Principal() string {
	return "ldap/" + i.FQDN + "@" + i.Realm
}

// ServiceIdentity is the directory entry of the service principal.
func (i *Instance) ServiceIdentity() string {
	return "krbprincipalname=" + i.Principal() + ",cn=services,cn=accounts," + i.Suffix
}

// MemberOfTaskDN is the task entry created by the memberof fixup payload.
func (i *Instance) MemberOfTaskDN() string {
	return "cn=IPA install " + strconv.FormatInt(i.Time.Unix(), 10) + ",cn=memberof task,cn=tasks,cn=config"
}

// Substitutions returns the template variables for payloads.
func (i *Instance) Substitutions() map[string]string {
	return map[string]string{
		"FQDN":             i.FQDN,
		"HOST":             i.FQDN,
		"SERVERID":         i.ServerID,
		"PASSWORD":         i.AdminPassword,
		"SUFFIX":           i.Suffix,
		"ESCAPED_SUFFIX":   i.Suffix,
		"REALM":            i.Realm,
		"DOMAIN":           i.Domain,
		"USER":             ServiceUser,
		"GROUP":            ServiceUser,
		"SERVER_ROOT":      ServerRoot,
		"TIME":             strconv.FormatInt(i.Time.Unix(), 10),
		"IDSTART":          strconv.Itoa(i.IDStart),
		"IDMAX":            strconv.Itoa(i.IDMax),
		"IDRANGE_SIZE":     strconv.Itoa(i.IDMax - i.IDStart + 1),
		"DOMAIN_LEVEL":     strconv.Itoa(i.DomainLevel),
		"MIN_DOMAIN_LEVEL": "0",
		"MAX_DOMAIN_LEVEL": "1",
		"BASEDC":           strings.ToLower(strings.SplitN(i.Realm, ".", 2)[0]),
	}
}
