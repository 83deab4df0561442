package dsinstance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/drone/envsubst"
	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/domain/service"
	"github.com/felixgeelhaar/dsinstall/internal/domain/state"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// State keys written by the installation steps.
const (
	KeyServerID       = "serverid"
	KeyRunning        = "running"
	KeyEnabled        = "enabled"
	KeyUserExists     = "user_exists"
	KeySecurity       = "nsslapd-security"
	KeyPort           = "nsslapd-port"
	KeyLDAPIAutobind  = "nsslapd-ldapiautobind"
	KeyNickname       = "nickname"
	KeyCertmapSubject = "certmap.conf/subject_base"
	KeyReplication    = "replication"
)

// Deps are the collaborators the installation steps act through.
type Deps struct {
	FS          vfs.FileSystem
	Runner      ports.CommandRunner
	Store       state.Store
	Files       *state.FileBackups
	Controller  *service.Controller
	Services    ports.ServiceManager
	Payloads    ports.PayloadApplier
	Issuer      ports.CredentialIssuer
	Sysconfig   ports.SysconfigEditor
	Coordinator *replication.Coordinator
	Poller      *replication.Poller
	Logger      ports.Logger
}

// Builder creates the installation steps of one instance.
type Builder struct {
	inst *Instance
	deps Deps
}

// NewBuilder creates a step builder.
func NewBuilder(inst *Instance, deps Deps) *Builder {
	return &Builder{inst: inst, deps: deps}
}

// Instance returns the instance the steps act on.
func (b *Builder) Instance() *Instance {
	return b.inst
}

func (b *Builder) step(label string, action install.Action) install.Step {
	return install.NewStep(label, action)
}

// Payload applies one named payload with the instance substitutions.
func (b *Builder) Payload(label string, refs ...string) install.Step {
	return b.step(label, func(ctx context.Context) error {
		for _, ref := range refs {
			if err := b.deps.Payloads.Apply(ctx, ref, b.inst.Substitutions()); err != nil {
				return fmt.Errorf("applying %s: %w", ref, err)
			}
		}
		return nil
	})
}

// Start starts the instance.
func (b *Builder) Start() install.Step {
	return b.step("starting directory server", b.deps.Controller.Start)
}

// Connect opens the session to an instance that is already running.
func (b *Builder) Connect() install.Step {
	return b.step("connecting to directory server", b.deps.Controller.Connect)
}

// Stop stops the instance.
func (b *Builder) Stop() install.Step {
	return b.step("stopping directory server", b.deps.Controller.Stop)
}

// Restart restarts the instance.
func (b *Builder) Restart() install.Step {
	return b.step("restarting directory server", b.deps.Controller.Restart)
}

func (b *Builder) directory() (ports.DirectoryClient, error) {
	session := b.deps.Controller.Session()
	if session == nil || !session.IsConnected() {
		return nil, errors.New("directory server session is not connected")
	}
	return session.Client(), nil
}

func (b *Builder) render(name, tmpl string, extra map[string]string) (string, error) {
	subs := b.inst.Substitutions()
	out, err := envsubst.Eval(tmpl, func(key string) string {
		if v, ok := extra[key]; ok {
			return v
		}
		return subs[key]
	})
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return out, nil
}

func (b *Builder) writeFile(name string, data []byte, perm os.FileMode) error {
	if err := b.deps.FS.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}
	return vfs.WriteFile(b.deps.FS, name, data, perm)
}

func (b *Builder) serviceUID(ctx context.Context) (string, error) {
	res, err := b.deps.Runner.Run(ctx, ports.Command{Argv: []string{"id", "-u", ServiceUser}})
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", ServiceUser, err)
	}
	uid := strings.TrimSpace(res.Stdout)
	if uid == "" {
		return "", fmt.Errorf("no uid reported for %s", ServiceUser)
	}
	return uid, nil
}
