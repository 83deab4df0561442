package dsinstance

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/felixgeelhaar/dsinstall/internal/testutil/mocks"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshInstallSteps(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	steps := FreshInstallSteps(e.inst, e.deps)

	report := e.run(t, steps)

	assert.Equal(t, install.Labels(steps), report.Completed)
	assert.True(t, e.runner.Ran(SetupTool, "--silent"))
	assert.False(t, e.runner.Ran("useradd"), "existing service user is reused")

	assert.Equal(t, []string{
		KeyUserExists,
		KeyRunning,
		KeyServerID,
		"file:/etc/sysconfig/dirsrv",
		KeyEnabled,
	}, e.backupKeys(t))

	dse, err := vfs.ReadFile(e.fs, "/etc/dirsrv/slapd-EXAMPLE-TEST/dse.ldif")
	require.NoError(t, err)
	assert.Contains(t, string(dse), "nsslapd-db-locks: 50000")
	assert.NotContains(t, string(dse), "nsslapd-db-locks: 10000")

	schema, err := vfs.Exists(e.fs, "/etc/dirsrv/slapd-EXAMPLE-TEST/schema/60kerberos.ldif")
	require.NoError(t, err)
	assert.True(t, schema)

	boot, err := vfs.Exists(e.fs, BootLDIF)
	require.NoError(t, err)
	assert.False(t, boot, "boot LDIF is removed after setup")

	certmap, err := vfs.ReadFile(e.fs, "/etc/dirsrv/slapd-EXAMPLE-TEST/certmap.conf")
	require.NoError(t, err)
	assert.Contains(t, string(certmap), "CN=Certificate Authority,O=EXAMPLE.TEST")

	assert.Equal(t, "/tmp/krb5cc_389", e.sysconfig.Value("/etc/sysconfig/dirsrv", "KRB5CCNAME"))

	applied := e.payloads.Applied()
	assert.Contains(t, applied, "memberof-task.ldif")
	assert.Contains(t, applied, "ipa-sidgen-conf.ldif")
	assert.NotContains(t, applied, "default-hbac.ldif")
	assert.NotContains(t, applied, "schema-update.ldif")

	assert.NotNil(t, e.dir.Entry("cn=Full Principal,cn=mapping,cn=sasl,cn=config"))
	assert.Contains(t, e.manager.Calls(), "disable EXAMPLE-TEST")
	assert.Empty(t, e.issuer.Calls(), "fresh install does not touch PKI")
}

func TestFreshInstallSteps_HBACAllow(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.inst.HBACAllow = true

	e.run(t, FreshInstallSteps(e.inst, e.deps))

	assert.Contains(t, e.payloads.Applied(), "default-hbac.ldif")
}

func TestFreshInstallSteps_ExistingPluginsSkipped(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.dir.Put(ports.NewEntry(sidgenDN).Set("cn", "IPA SIDGEN"))

	e.run(t, FreshInstallSteps(e.inst, e.deps))

	applied := e.payloads.Applied()
	assert.NotContains(t, applied, "ipa-sidgen-conf.ldif")
	assert.Contains(t, applied, "ipa-extdom-extop-conf.ldif")
}

func TestFreshInstallSteps_FailedStepStopsRun(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	boom := errors.New("ldapmodify failed")
	e.payloads.Errors["indices.ldif"] = boom
	steps := FreshInstallSteps(e.inst, e.deps)

	report, err := install.NewRunner(nil, e.deps.Logger).Run(t.Context(), steps, 0)

	require.ErrorIs(t, err, boom)
	var stepErr *install.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "creating indices", stepErr.Label)
	assert.NotContains(t, report.Completed, "creating indices")
	assert.NotContains(t, e.payloads.Applied(), "referint-conf.ldif")
}

func TestCreateUser_AddsMissingUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	runner := mocks.NewCommandRunner()
	runner.AddFailure([]string{"id", "-u", ServiceUser}, 1, "no such user")
	e.deps.Runner = runner

	e.run(t, []install.Step{NewBuilder(e.inst, e.deps).CreateUser()})

	assert.True(t, runner.Ran("groupadd", "-r", ServiceUser))
	assert.True(t, runner.Ran("useradd", "-r", "-g", ServiceUser))

	var existed bool
	rec, err := e.store.Restore(t.Context(), KeyUserExists)
	require.NoError(t, err)
	require.NoError(t, rec.Decode(&existed))
	assert.False(t, existed)
}

func TestEnableTLSSteps(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	require.NoError(t, e.fs.MkdirAll("/etc/ipa", 0o755))
	require.NoError(t, vfs.WriteFile(e.fs, "/etc/ipa/ca.crt", selfSignedCA(t, "Certificate Authority"), 0o644))
	e.inst.CAFile = "/etc/ipa/ca.crt"
	e.manager.SetRunning(e.inst.ServerID, true)

	e.run(t, EnableTLSSteps(e.inst, e.deps))

	calls := e.manager.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "stop "+e.inst.ServerID, calls[0], "a running instance is connected to, not started")

	assert.Equal(t, []string{"request " + ServerCertName}, e.issuer.Calls())
	assert.Equal(t, "on", e.dir.Entry(configDN).Value(KeySecurity))
	assert.Equal(t, "allowed", e.dir.Entry(encryptionDN).Value("nsSSLClientAuth"))
	assert.Equal(t, ServerCertName, e.dir.Entry(rsaModuleDN).Value("nsSSLPersonalitySSL"))

	rec, err := e.store.Restore(t.Context(), KeySecurity)
	require.NoError(t, err)
	var previous string
	require.NoError(t, rec.Decode(&previous))
	assert.Equal(t, "off", previous)

	ca := e.dir.Entry("cn=Certificate Authority,cn=certificates,cn=ipa,cn=etc,dc=example,dc=test")
	require.NotNil(t, ca)
	assert.NotEmpty(t, ca.Value("cACertificate;binary"))

	var nickname string
	ok, err := e.store.Get(t.Context(), KeyNickname, &nickname)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ServerCertName, nickname)
}

func TestEnableTLS_RecordsAbsentSecuritySetting(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.dir.Put(ports.NewEntry(configDN).Set("cn", "config"))
	e.manager.SetRunning(e.inst.ServerID, true)

	b := NewBuilder(e.inst, e.deps)
	e.run(t, []install.Step{b.Connect(), b.EnableTLS()})

	rec, err := e.store.Restore(t.Context(), KeySecurity)
	require.NoError(t, err)
	assert.True(t, rec.Absent)
	assert.Equal(t, "on", e.dir.Entry(configDN).Value(KeySecurity))
}

func TestEnableTLS_PKCS12(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.inst.PKCS12File = "/root/server.p12"
	e.inst.PKCS12PinFile = "/root/server.pin"
	e.issuer.Nickname = "imported"
	require.NoError(t, e.deps.Controller.Start(t.Context()))

	e.run(t, []install.Step{NewBuilder(e.inst, e.deps).EnableTLS()})

	assert.Equal(t, []string{"import /root/server.p12"}, e.issuer.Calls())
	assert.Equal(t, "imported", e.dir.Entry(rsaModuleDN).Value("nsSSLPersonalitySSL"))
}

func TestEnableTLS_PKCS12WithoutServerCert(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.inst.PKCS12File = "/root/server.p12"
	require.NoError(t, e.deps.Controller.Start(t.Context()))

	_, err := install.NewRunner(nil, e.deps.Logger).Run(t.Context(), []install.Step{NewBuilder(e.inst, e.deps).EnableTLS()}, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not find a suitable server cert")
}

func TestEnableTLS_RequiresSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	_, err := install.NewRunner(nil, e.deps.Logger).Run(t.Context(), []install.Step{NewBuilder(e.inst, e.deps).EnableTLS()}, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestReplicaSteps(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.inst.DomainLevel = 1
	e.peer.Result = ports.JoinResult{AgreementDN: "cn=meTods2.example.test,cn=replica,cn=config"}

	steps := ReplicaSteps(e.inst, e.deps, ReplicaOptions{Master: "ds0.example.test"})
	e.run(t, steps)

	assert.Equal(t, []string{
		"request " + ServerCertName,
		"keytab ldap/ds1.example.test@EXAMPLE.TEST",
	}, e.issuer.Calls())
	assert.Equal(t, KeytabPath, e.sysconfig.Value("/etc/sysconfig/dirsrv", "KRB5_KTNAME"))

	joins := e.peer.Joins()
	require.Len(t, joins, 1)
	assert.Equal(t, "ds0.example.test", joins[0].PeerAddress)
	assert.Equal(t, ports.BindExternal, joins[0].Credential.Method)
	assert.Equal(t, e.inst.ServiceIdentity(), joins[0].Credential.DN)
	assert.Empty(t, e.peer.Tasks(), "no repair without a request from the peer")

	applied := e.payloads.Applied()
	assert.NotContains(t, applied, "memberof-task.ldif")
	assert.Contains(t, applied, "replica-s4u2proxy.ldif")
	assert.Contains(t, e.backupKeys(t), KeySecurity)

	var rec replicationRecord
	ok, err := e.store.Get(t.Context(), KeyReplication, &rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "delegated", rec.Mode)
	assert.False(t, rec.RepairPerformed)
}

func TestReplicaSteps_DirectBindAtFloor(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.peer.Result = ports.JoinResult{NeedsRepair: true}
	e.peer.CompleteAfter = 1

	e.run(t, ReplicaSteps(e.inst, e.deps, ReplicaOptions{Master: "ds0.example.test"}))

	joins := e.peer.Joins()
	require.Len(t, joins, 1)
	assert.Equal(t, ports.BindSimple, joins[0].Credential.Method)
	assert.Equal(t, replication.DirectoryManagerDN, joins[0].Credential.DN)
	assert.Len(t, e.peer.Tasks(), 1)

	var rec replicationRecord
	_, err := e.store.Get(t.Context(), KeyReplication, &rec)
	require.NoError(t, err)
	assert.Equal(t, "direct", rec.Mode)
	assert.True(t, rec.RepairPerformed)
}

func TestReplicaSteps_JoinFailureStopsInstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.inst.DomainLevel = 1
	e.peer.JoinErr = &ports.JoinError{Kind: ports.JoinFailureAuthentication, Err: errors.New("invalid credentials")}

	_, err := install.NewRunner(nil, e.deps.Logger).Run(t.Context(), ReplicaSteps(e.inst, e.deps, ReplicaOptions{Master: "ds0.example.test"}), 0)

	var authErr *replication.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.NotContains(t, e.payloads.Applied(), "schema-update.ldif")
}
