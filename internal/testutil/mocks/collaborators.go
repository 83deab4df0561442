package mocks

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// PayloadApplier records applied payloads.
type PayloadApplier struct {
	mu      sync.Mutex
	applied []string

	// Errors maps a payload reference to the error its apply returns.
	Errors map[string]error
}

// NewPayloadApplier creates a PayloadApplier.
func NewPayloadApplier() *PayloadApplier {
	return &PayloadApplier{Errors: make(map[string]error)}
}

// Apply records ref.
func (p *PayloadApplier) Apply(_ context.Context, ref string, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Errors[ref]; err != nil {
		return err
	}
	p.applied = append(p.applied, ref)
	return nil
}

// Applied returns the applied references in order.
func (p *PayloadApplier) Applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

// CredentialIssuer records PKI calls.
type CredentialIssuer struct {
	mu    sync.Mutex
	calls []string

	Errors map[string]error
	// Nickname is returned by ImportPKCS12.
	Nickname string
}

// NewCredentialIssuer creates a CredentialIssuer.
func NewCredentialIssuer() *CredentialIssuer {
	return &CredentialIssuer{Errors: make(map[string]error)}
}

func (c *CredentialIssuer) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.Errors[call]
}

// RequestAndWaitForCredential records "request <nickname>".
func (c *CredentialIssuer) RequestAndWaitForCredential(_ context.Context, req ports.CertRequest) error {
	return c.record("request " + req.Nickname)
}

// TrackCredential records "track <nickname>".
func (c *CredentialIssuer) TrackCredential(_ context.Context, req ports.TrackRequest) error {
	return c.record("track " + req.Nickname)
}

// ImportPKCS12 records "import <file>".
func (c *CredentialIssuer) ImportPKCS12(_ context.Context, req ports.PKCS12Import) (string, error) {
	if err := c.record("import " + req.File); err != nil {
		return "", err
	}
	return c.Nickname, nil
}

// UntrackCredential records "untrack <nickname>".
func (c *CredentialIssuer) UntrackCredential(_ context.Context, _, nickname string) error {
	return c.record("untrack " + nickname)
}

// RequestKeytab records "keytab <principal>".
func (c *CredentialIssuer) RequestKeytab(_ context.Context, principal, _ string) error {
	return c.record("keytab " + principal)
}

// RemoveKeytab records "remove-keytab <path>".
func (c *CredentialIssuer) RemoveKeytab(_ context.Context, keytab string) error {
	return c.record("remove-keytab " + keytab)
}

// Calls returns the recorded calls.
func (c *CredentialIssuer) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// SysconfigEditor keeps variables in memory per path.
type SysconfigEditor struct {
	mu   sync.Mutex
	vars map[string]map[string]string

	Err error
}

// NewSysconfigEditor creates a SysconfigEditor.
func NewSysconfigEditor() *SysconfigEditor {
	return &SysconfigEditor{vars: make(map[string]map[string]string)}
}

// ReplaceVariables stores vars and returns the replaced values.
func (s *SysconfigEditor) ReplaceVariables(path string, vars map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	file, ok := s.vars[path]
	if !ok {
		file = make(map[string]string)
		s.vars[path] = file
	}
	old := make(map[string]string)
	for k, v := range vars {
		if prev, ok := file[k]; ok {
			old[k] = prev
		}
		file[k] = v
	}
	return old, nil
}

// Value returns the stored value of key in path.
func (s *SysconfigEditor) Value(path, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[path][key]
}

var (
	_ ports.PayloadApplier   = (*PayloadApplier)(nil)
	_ ports.CredentialIssuer = (*CredentialIssuer)(nil)
	_ ports.SysconfigEditor  = (*SysconfigEditor)(nil)
)
