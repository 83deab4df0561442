package ports

import "context"

// CertRequest asks the PKI collaborator to issue and track a service
// certificate stored in an NSS database directory.
type CertRequest struct {
	CertDir     string
	Nickname    string
	Principal   string
	Subject     string
	DNSNames    []string
	CA          string
	Profile     string
	PostCommand string
}

// TrackRequest asks the PKI collaborator to start renewing an existing
// certificate.
type TrackRequest struct {
	CertDir     string
	Nickname    string
	Principal   string
	PinFile     string
	PostCommand string
}

// PKCS12Import asks the PKI collaborator to load an externally issued
// server certificate into an NSS database directory.
type PKCS12Import struct {
	CertDir string
	File    string
	PinFile string
	CAFile  string
}

// CredentialIssuer issues and tracks certificates and keytabs for the
// managed service identity.
type CredentialIssuer interface {
	RequestAndWaitForCredential(ctx context.Context, req CertRequest) error
	TrackCredential(ctx context.Context, req TrackRequest) error
	// ImportPKCS12 imports the bundle and returns the nickname of the
	// server certificate it contained.
	ImportPKCS12(ctx context.Context, req PKCS12Import) (string, error)
	UntrackCredential(ctx context.Context, certDir, nickname string) error
	RequestKeytab(ctx context.Context, principal, keytab string) error
	RemoveKeytab(ctx context.Context, keytab string) error
}
