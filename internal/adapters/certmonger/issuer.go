// Package certmonger obtains service certificates and keytabs through the
// certmonger, NSS and IPA command-line clients.
package certmonger

import (
	"bufio"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"golang.org/x/crypto/pkcs12"
)

// Client binaries.
const (
	Getcert     = "/usr/bin/getcert"
	PK12Util    = "/usr/bin/pk12util"
	CertUtil    = "/usr/bin/certutil"
	GetKeytab   = "/usr/sbin/ipa-getkeytab"
	CANickname  = "CA certificate"
	monitoring  = "MONITORING"
	notTracking = "No request found"
)

// ErrNotIssued is returned when certmonger finished a request without a
// certificate.
var ErrNotIssued = errors.New("certificate was not issued")

// Issuer implements ports.CredentialIssuer.
type Issuer struct {
	runner      ports.CommandRunner
	fs          vfs.FileSystem
	keytabOwner string
	logger      ports.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithKeytabOwner hands retrieved keytabs to owner ("user:group").
func WithKeytabOwner(owner string) Option {
	return func(i *Issuer) {
		i.keytabOwner = owner
	}
}

// NewIssuer creates an Issuer.
func NewIssuer(runner ports.CommandRunner, fs vfs.FileSystem, logger ports.Logger, opts ...Option) *Issuer {
	i := &Issuer{runner: runner, fs: fs, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RequestAndWaitForCredential requests a certificate, waits for certmonger
// to finish and verifies that it is being monitored.
func (i *Issuer) RequestAndWaitForCredential(ctx context.Context, req ports.CertRequest) error {
	argv := []string{Getcert, "request", "-w", "-d", req.CertDir, "-n", req.Nickname}
	if req.Subject != "" {
		argv = append(argv, "-N", req.Subject)
	}
	if req.Principal != "" {
		argv = append(argv, "-K", req.Principal)
	}
	for _, name := range req.DNSNames {
		argv = append(argv, "-D", name)
	}
	if req.CA != "" {
		argv = append(argv, "-c", req.CA)
	}
	if req.Profile != "" {
		argv = append(argv, "-T", req.Profile)
	}
	if req.PostCommand != "" {
		argv = append(argv, "-C", req.PostCommand)
	}

	if _, err := i.runner.Run(ctx, ports.Command{Argv: argv}); err != nil {
		return fmt.Errorf("requesting %s: %w", req.Nickname, err)
	}

	status, caError, err := i.status(ctx, req.CertDir, req.Nickname)
	if err != nil {
		return err
	}
	if status != monitoring {
		if caError != "" {
			return fmt.Errorf("%w: %s is %s: %s", ErrNotIssued, req.Nickname, status, caError)
		}
		return fmt.Errorf("%w: %s is %s", ErrNotIssued, req.Nickname, status)
	}
	i.logger.Debug(ctx, "certificate issued", ports.F("nickname", req.Nickname))
	return nil
}

func (i *Issuer) status(ctx context.Context, certDir, nickname string) (status, caError string, err error) {
	res, err := i.runner.Run(ctx, ports.Command{Argv: []string{Getcert, "list", "-d", certDir, "-n", nickname}})
	if err != nil {
		return "", "", fmt.Errorf("reading status of %s: %w", nickname, err)
	}
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "status":
			status = strings.TrimSpace(value)
		case "ca-error":
			caError = strings.TrimSpace(value)
		}
	}
	if status == "" {
		return "", "", fmt.Errorf("no request found for %s", nickname)
	}
	return status, caError, nil
}

// TrackCredential starts renewal tracking of an existing certificate.
func (i *Issuer) TrackCredential(ctx context.Context, req ports.TrackRequest) error {
	argv := []string{Getcert, "start-tracking", "-d", req.CertDir, "-n", req.Nickname}
	if req.Principal != "" {
		argv = append(argv, "-K", req.Principal)
	}
	if req.PinFile != "" {
		argv = append(argv, "-p", req.PinFile)
	}
	if req.PostCommand != "" {
		argv = append(argv, "-C", req.PostCommand)
	}
	if _, err := i.runner.Run(ctx, ports.Command{Argv: argv}); err != nil {
		return fmt.Errorf("tracking %s: %w", req.Nickname, err)
	}
	return nil
}

// UntrackCredential stops renewal tracking. Certificates that are not
// tracked are ignored.
func (i *Issuer) UntrackCredential(ctx context.Context, certDir, nickname string) error {
	_, err := i.runner.Run(ctx, ports.Command{Argv: []string{Getcert, "stop-tracking", "-d", certDir, "-n", nickname}})
	var toolErr *ports.ExternalToolError
	if errors.As(err, &toolErr) && strings.Contains(toolErr.Stderr, notTracking) {
		i.logger.Debug(ctx, "certificate was not tracked", ports.F("nickname", nickname))
		return nil
	}
	if err != nil {
		return fmt.Errorf("untracking %s: %w", nickname, err)
	}
	return nil
}

// ImportPKCS12 inspects the bundle for a server certificate and loads it,
// and the CA bundle if given, into the NSS database.
func (i *Issuer) ImportPKCS12(ctx context.Context, req ports.PKCS12Import) (string, error) {
	data, err := vfs.ReadFile(i.fs, req.File)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", req.File, err)
	}
	var pin string
	if req.PinFile != "" {
		raw, err := vfs.ReadFile(i.fs, req.PinFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", req.PinFile, err)
		}
		pin = strings.TrimRight(string(raw), "\r\n")
	}

	nickname, err := ServerNickname(data, pin)
	if err != nil {
		return "", fmt.Errorf("inspecting %s: %w", req.File, err)
	}
	if nickname == "" {
		return "", nil
	}

	argv := []string{PK12Util, "-i", req.File, "-d", req.CertDir}
	if req.PinFile != "" {
		argv = append(argv, "-w", req.PinFile)
	} else {
		argv = append(argv, "-W", "")
	}
	if _, err := i.runner.Run(ctx, ports.Command{Argv: argv}); err != nil {
		return "", fmt.Errorf("importing %s: %w", req.File, err)
	}

	if req.CAFile != "" {
		_, err := i.runner.Run(ctx, ports.Command{Argv: []string{
			CertUtil, "-A", "-d", req.CertDir, "-n", CANickname, "-t", "CT,C,C", "-a", "-i", req.CAFile,
		}})
		if err != nil {
			return "", fmt.Errorf("importing %s: %w", req.CAFile, err)
		}
	}
	return nickname, nil
}

// ServerNickname returns the nickname of the end-entity certificate that
// has a private key in the PKCS#12 bundle, or "" if there is none. The
// friendly name is used when present, the subject common name otherwise.
func ServerNickname(data []byte, pin string) (string, error) {
	blocks, err := pkcs12.ToPEM(data, pin)
	if err != nil {
		return "", err
	}

	keyIDs := make(map[string]bool)
	for _, b := range blocks {
		if strings.HasSuffix(b.Type, "PRIVATE KEY") {
			keyIDs[b.Headers["localKeyId"]] = true
		}
	}

	for _, b := range blocks {
		if b.Type != "CERTIFICATE" || !keyIDs[b.Headers["localKeyId"]] {
			continue
		}
		cert, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return "", err
		}
		if cert.IsCA {
			continue
		}
		if name := b.Headers["friendlyName"]; name != "" {
			return name, nil
		}
		return cert.Subject.CommonName, nil
	}
	return "", nil
}

// RequestKeytab retrieves the keytab of principal.
func (i *Issuer) RequestKeytab(ctx context.Context, principal, keytab string) error {
	if _, err := i.runner.Run(ctx, ports.Command{Argv: []string{GetKeytab, "-k", keytab, "-p", principal}}); err != nil {
		return fmt.Errorf("retrieving keytab for %s: %w", principal, err)
	}
	if i.keytabOwner == "" {
		return nil
	}
	if _, err := i.runner.Run(ctx, ports.Command{Argv: []string{"chown", i.keytabOwner, keytab}}); err != nil {
		return fmt.Errorf("changing owner of %s: %w", keytab, err)
	}
	return nil
}

// RemoveKeytab deletes keytab. A missing keytab is not an error.
func (i *Issuer) RemoveKeytab(ctx context.Context, keytab string) error {
	err := i.fs.Remove(keytab)
	if errors.Is(err, vfs.ErrNotExist) {
		i.logger.Debug(ctx, "keytab already removed", ports.F("path", keytab))
		return nil
	}
	return err
}

var _ ports.CredentialIssuer = (*Issuer)(nil)
