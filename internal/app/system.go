package app

import (
	"github.com/felixgeelhaar/dsinstall/internal/adapters/certmonger"
	"github.com/felixgeelhaar/dsinstall/internal/adapters/command"
	"github.com/felixgeelhaar/dsinstall/internal/adapters/ldap"
	"github.com/felixgeelhaar/dsinstall/internal/adapters/payload"
	"github.com/felixgeelhaar/dsinstall/internal/adapters/sysconfig"
	"github.com/felixgeelhaar/dsinstall/internal/adapters/systemd"
	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/domain/dsinstance"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/juju/clock"
	"github.com/mandelsoft/vfs/pkg/osfs"
)

// KeytabOwner owns the service keytab of the instance.
const KeytabOwner = "dirsrv:dirsrv"

// NewSystem creates an Installer acting on the local host.
func NewSystem(cfg *config.Config, logger ports.Logger) *Installer {
	fs := osfs.New()
	runner := command.NewRealRunner(logger)
	serverID := dsinstance.ServerID(cfg.Instance.Realm)
	socket := payload.SocketPath(serverID)

	session := ldap.NewSession(payload.LDAPIURI(socket), ports.Credential{Method: ports.BindExternal}, logger)

	return New(cfg, Collaborators{
		FS:       fs,
		Runner:   runner,
		Services: systemd.NewManager(runner),
		Session:  session,
		Payloads: payload.NewLDIFApplier(fs, runner, cfg.Instance.PayloadDir, socket, logger,
			payload.WithBootstrap(cfg.Instance.AdminPassword, dsinstance.PayloadLDAPI)),
		Issuer:    certmonger.NewIssuer(runner, fs, logger, certmonger.WithKeytabOwner(KeytabOwner)),
		Sysconfig: sysconfig.NewEditor(fs),
		Peer:      ldap.NewPeer(cfg.Instance.Suffix, session, logger),
		Clock:     clock.WallClock,
		Logger:    logger,
	})
}
