// Package payload applies LDIF payloads to the managed directory server.
package payload

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"

	"github.com/drone/envsubst"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// LDAPModify is the client used to apply payloads.
const LDAPModify = "/usr/bin/ldapmodify"

// DirectoryManager is the root DN used for password binds.
const DirectoryManager = "cn=Directory Manager"

// LDIFApplier renders LDIF templates and feeds them to ldapmodify. Payloads
// are applied over the instance ldapi socket with an EXTERNAL bind, except
// those marked as bootstrap payloads, which run before ldapi exists and
// bind as the directory manager over plain LDAP.
type LDIFApplier struct {
	fs        vfs.FileSystem
	runner    ports.CommandRunner
	dir       string
	socket    string
	password  string
	bootstrap map[string]bool
	logger    ports.Logger
}

// Option configures an LDIFApplier.
type Option func(*LDIFApplier)

// WithBootstrap marks refs as applied with a password bind to
// ldap://localhost.
func WithBootstrap(password string, refs ...string) Option {
	return func(a *LDIFApplier) {
		a.password = password
		for _, r := range refs {
			a.bootstrap[r] = true
		}
	}
}

// NewLDIFApplier creates an applier reading payloads from dir and talking
// to the instance listening on socket.
func NewLDIFApplier(fs vfs.FileSystem, runner ports.CommandRunner, dir, socket string, logger ports.Logger, opts ...Option) *LDIFApplier {
	a := &LDIFApplier{
		fs:        fs,
		runner:    runner,
		dir:       dir,
		socket:    socket,
		bootstrap: make(map[string]bool),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SocketPath is the ldapi socket of an instance.
func SocketPath(serverID string) string {
	return "/var/run/slapd-" + serverID + ".socket"
}

// LDAPIURI encodes socket as an ldapi URI.
func LDAPIURI(socket string) string {
	return "ldapi://" + url.PathEscape(socket)
}

// bareRef matches $NAME references along with the $$ and ${ forms that
// must be left alone.
var bareRef = regexp.MustCompile(`\$\$|\$\{|\$([A-Za-z_][A-Za-z0-9_]*)`)

// braceRefs rewrites $NAME as ${NAME}, the only form envsubst expands.
func braceRefs(tmpl string) string {
	return bareRef.ReplaceAllStringFunc(tmpl, func(m string) string {
		if m == "$$" || m == "${" {
			return m
		}
		return "${" + m[1:] + "}"
	})
}

// Render reads ref and substitutes ${VAR} and $VAR references.
func (a *LDIFApplier) Render(ref string, substitutions map[string]string) (string, error) {
	name := path.Join(a.dir, ref)
	data, err := vfs.ReadFile(a.fs, name)
	if err != nil {
		return "", fmt.Errorf("reading payload %s: %w", ref, err)
	}
	if substitutions == nil {
		return string(data), nil
	}
	out, err := envsubst.Eval(braceRefs(string(data)), func(key string) string {
		return substitutions[key]
	})
	if err != nil {
		return "", fmt.Errorf("rendering payload %s: %w", ref, err)
	}
	return out, nil
}

// Apply renders ref and applies it. ldapmodify stops at the first failing
// record, so a failed apply is reported as *ports.ExternalToolError.
func (a *LDIFApplier) Apply(ctx context.Context, ref string, substitutions map[string]string) error {
	ldif, err := a.Render(ref, substitutions)
	if err != nil {
		return err
	}

	cmd := ports.Command{
		Argv:  a.argv(ref),
		Stdin: ldif,
	}
	if a.bootstrap[ref] {
		cmd.Secrets = []string{a.password}
	}

	a.logger.Debug(ctx, "applying payload", ports.F("payload", ref))
	if _, err := a.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("applying %s: %w", ref, err)
	}
	return nil
}

func (a *LDIFApplier) argv(ref string) []string {
	if a.bootstrap[ref] {
		return []string{LDAPModify, "-a", "-H", "ldap://localhost", "-x", "-D", DirectoryManager, "-w", a.password}
	}
	return []string{LDAPModify, "-a", "-H", LDAPIURI(a.socket), "-Y", "EXTERNAL"}
}

var _ ports.PayloadApplier = (*LDIFApplier)(nil)
