package dsinstance

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

const (
	encryptionDN = "cn=encryption,cn=config"
	rsaModuleDN  = "cn=RSA,cn=encryption,cn=config"
	configDN     = "cn=config"
	certProfile  = "caIPAserviceCert"
	certCA       = "IPA"
)

// EnableTLS obtains the server certificate and turns on transport security.
func (b *Builder) EnableTLS() install.Step {
	return b.step("configuring TLS for DS instance", func(ctx context.Context) error {
		nickname, err := b.obtainServerCert(ctx)
		if err != nil {
			return err
		}
		if err := b.deps.Store.Set(ctx, KeyNickname, nickname); err != nil {
			return err
		}

		dir, err := b.directory()
		if err != nil {
			return err
		}

		current, err := dir.GetEntry(ctx, configDN, KeySecurity)
		if err != nil {
			return fmt.Errorf("reading %s: %w", configDN, err)
		}
		previous := current.Value(KeySecurity)
		if current.Values(KeySecurity) == nil {
			err = b.deps.Store.BackupAbsent(ctx, KeySecurity)
		} else {
			err = b.deps.Store.Backup(ctx, KeySecurity, previous)
		}
		if err != nil {
			return err
		}

		err = dir.ModifyEntry(ctx, encryptionDN, []ports.Modification{
			{Op: ports.ModReplace, Attr: "nsSSLClientAuth", Values: []string{"allowed"}},
			{Op: ports.ModReplace, Attr: "nsSSL3Ciphers", Values: []string{"default"}},
			{Op: ports.ModReplace, Attr: "allowWeakCipher", Values: []string{"off"}},
		})
		if err != nil {
			return fmt.Errorf("configuring ciphers: %w", err)
		}

		if !strings.EqualFold(previous, "on") {
			err = dir.ModifyEntry(ctx, configDN, []ports.Modification{
				{Op: ports.ModReplace, Attr: KeySecurity, Values: []string{"on"}},
			})
			if err != nil {
				return fmt.Errorf("enabling security: %w", err)
			}
		}

		module := ports.NewEntry(rsaModuleDN).
			Set("objectClass", "top", "nsEncryptionModule").
			Set("cn", "RSA").
			Set("nsSSLPersonalitySSL", nickname).
			Set("nsSSLToken", "internal (software)").
			Set("nsSSLActivation", "on")
		if _, err := EnsureEntry(ctx, dir, module); err != nil {
			return fmt.Errorf("adding encryption module: %w", err)
		}
		return nil
	})
}

func (b *Builder) obtainServerCert(ctx context.Context) (string, error) {
	certDir := b.inst.InstanceDir()
	if b.inst.PKCS12File != "" {
		nickname, err := b.deps.Issuer.ImportPKCS12(ctx, ports.PKCS12Import{
			CertDir: certDir,
			File:    b.inst.PKCS12File,
			PinFile: b.inst.PKCS12PinFile,
			CAFile:  b.inst.CAFile,
		})
		if err != nil {
			return "", fmt.Errorf("importing %s: %w", b.inst.PKCS12File, err)
		}
		if nickname == "" {
			return "", fmt.Errorf("could not find a suitable server cert in %s", b.inst.PKCS12File)
		}
		return nickname, nil
	}

	err := b.deps.Issuer.RequestAndWaitForCredential(ctx, ports.CertRequest{
		CertDir:     certDir,
		Nickname:    ServerCertName,
		Principal:   b.inst.Principal(),
		Subject:     "CN=" + b.inst.FQDN + "," + b.inst.SubjectBase,
		DNSNames:    []string{b.inst.FQDN},
		CA:          certCA,
		Profile:     certProfile,
		PostCommand: "restart_dirsrv " + b.inst.ServerID,
	})
	if err != nil {
		return "", fmt.Errorf("requesting server certificate: %w", err)
	}
	return ServerCertName, nil
}

// UploadCACert publishes the CA certificates of the configured bundle.
func (b *Builder) UploadCACert() install.Step {
	return b.step("adding CA certificate entry", func(ctx context.Context) error {
		if b.inst.CAFile == "" {
			b.deps.Logger.Debug(ctx, "no CA file configured, skipping certificate upload")
			return nil
		}
		data, err := vfs.ReadFile(b.deps.FS, b.inst.CAFile)
		if err != nil {
			return fmt.Errorf("reading CA file: %w", err)
		}
		certs, err := parseCertificates(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", b.inst.CAFile, err)
		}

		dir, err := b.directory()
		if err != nil {
			return err
		}
		for _, cert := range certs {
			nickname := cert.Subject.CommonName
			if nickname == "" {
				nickname = cert.Subject.String()
			}
			entry := ports.NewEntry("cn="+nickname+",cn=certificates,cn=ipa,cn=etc,"+b.inst.Suffix).
				Set("objectClass", "top", "ipaCertificate", "pkiCA").
				Set("cn", nickname).
				Set("ipaCertIssuerSerial", fmt.Sprintf("%s;%s", cert.Issuer.String(), cert.SerialNumber.String())).
				Set("cACertificate;binary", string(cert.Raw))
			if _, err := EnsureEntry(ctx, dir, entry); err != nil {
				return fmt.Errorf("uploading %s: %w", nickname, err)
			}
		}
		return nil
	})
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found")
	}
	return certs, nil
}
