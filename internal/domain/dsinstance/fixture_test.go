package dsinstance

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/adapters/logging"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/domain/service"
	"github.com/felixgeelhaar/dsinstall/internal/domain/state"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/felixgeelhaar/dsinstall/internal/testutil"
	"github.com/felixgeelhaar/dsinstall/internal/testutil/mocks"
	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"
)

var installTime = time.Unix(1700000000, 0)

const dseLDIF = `dn: cn=config
cn: config
nsslapd-port: 389

dn: cn=config,cn=ldbm database,cn=plugins,cn=config
cn: config
nsslapd-db-locks: 10000
nsslapd-lookthrough-limit: 5000
`

type env struct {
	fs        vfs.FileSystem
	runner    *mocks.CommandRunner
	store     *state.FileStore
	files     *state.FileBackups
	manager   *mocks.ServiceManager
	dir       *mocks.Directory
	session   *mocks.Session
	payloads  *mocks.PayloadApplier
	issuer    *mocks.CredentialIssuer
	sysconfig *mocks.SysconfigEditor
	peer      *mocks.ReplicationPeer
	inst      *Instance
	deps      Deps
}

func testInstance() *Instance {
	return NewInstance(config.Instance{
		Realm:         "EXAMPLE.TEST",
		Hostname:      "ds1.example.test",
		Domain:        "example.test",
		Suffix:        "dc=example,dc=test",
		SubjectBase:   "O=EXAMPLE.TEST",
		AdminPassword: "Secret123",
		IDStart:       1100,
		IDMax:         999999,
		ConfigDir:     "/etc/dirsrv",
		SysconfigDir:  "/etc/sysconfig",
		PayloadDir:    "/usr/share/dsinstall",
	}, installTime)
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := logging.NewNopLogger()
	fs := memoryfs.New()
	e := &env{
		fs:        fs,
		runner:    mocks.NewCommandRunner(),
		manager:   mocks.NewServiceManager(),
		dir:       mocks.NewDirectory(),
		payloads:  mocks.NewPayloadApplier(),
		issuer:    mocks.NewCredentialIssuer(),
		sysconfig: mocks.NewSysconfigEditor(),
		peer:      &mocks.ReplicationPeer{},
		inst:      testInstance(),
	}
	e.session = mocks.NewSession(e.dir)
	e.store = state.NewFileStore(fs, "/var/lib/dsinstall", "dirsrv", logger)
	e.files = state.NewFileBackups(fs, "/var/lib/dsinstall/files", e.store, logger)

	e.runner.AddResult([]string{"id", "-u", ServiceUser}, ports.CommandResult{Stdout: "389\n"})

	require.NoError(t, fs.MkdirAll("/usr/share/dsinstall/schema", 0o755))
	require.NoError(t, fs.MkdirAll("/etc/dirsrv/slapd-EXAMPLE-TEST", 0o755))
	require.NoError(t, vfs.WriteFile(fs, "/usr/share/dsinstall/schema/60kerberos.ldif", []byte("schema"), 0o644))
	require.NoError(t, vfs.WriteFile(fs, "/etc/dirsrv/slapd-EXAMPLE-TEST/dse.ldif", []byte(dseLDIF), 0o600))

	e.dir.Put(ports.NewEntry("cn=config").Set("nsslapd-security", "off"))
	e.dir.Put(ports.NewEntry("cn=encryption,cn=config").Set("cn", "encryption"))
	e.dir.Put(ports.NewEntry(e.inst.MemberOfTaskDN()).Set("nsTaskExitCode", "0"))

	clk := testutil.NewStepClock(installTime)
	e.deps = Deps{
		FS:          fs,
		Runner:      e.runner,
		Store:       e.store,
		Files:       e.files,
		Controller:  service.NewController(e.inst.ServerID, e.manager, e.session, logger),
		Services:    e.manager,
		Payloads:    e.payloads,
		Issuer:      e.issuer,
		Sysconfig:   e.sysconfig,
		Coordinator: replication.NewCoordinator(e.peer, logger, replication.WithClock(clk)),
		Poller:      replication.NewPoller(clk, time.Second, time.Minute, logger),
		Logger:      logger,
	}
	return e
}

func (e *env) run(t *testing.T, steps []install.Step) install.Report {
	t.Helper()
	report, err := install.NewRunner(nil, logging.NewNopLogger()).Run(t.Context(), steps, 0)
	require.NoError(t, err)
	return report
}

func (e *env) backupKeys(t *testing.T) []string {
	t.Helper()
	records, err := e.store.Backups(t.Context())
	require.NoError(t, err)
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	return keys
}

func selfSignedCA(t *testing.T, cn string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"EXAMPLE.TEST"}},
		NotBefore:             installTime,
		NotAfter:              installTime.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
