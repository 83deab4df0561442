package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// Session is the control-plane session of the managed instance.
type Session struct {
	mu     sync.Mutex
	url    string
	cred   ports.Credential
	tls    *tls.Config
	dial   DialFunc
	client *Client
	logger ports.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the dial function.
func WithDialer(dial DialFunc) SessionOption {
	return func(s *Session) {
		s.dial = dial
	}
}

// WithTLSConfig sets the TLS configuration for ldaps URLs.
func WithTLSConfig(cfg *tls.Config) SessionOption {
	return func(s *Session) {
		s.tls = cfg
	}
}

// NewSession creates a disconnected session binding with cred.
func NewSession(addr string, cred ports.Credential, logger ports.Logger, opts ...SessionOption) *Session {
	s := &Session{
		url:    addr,
		cred:   cred,
		dial:   Dial,
		client: &Client{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials and binds. Connecting an open session does nothing.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.conn != nil {
		return nil
	}
	cn, err := s.dial(ctx, s.url, s.tls)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.url, err)
	}
	client := &Client{conn: cn}
	if err := client.Bind(ctx, s.cred); err != nil {
		_ = cn.Unbind()
		return fmt.Errorf("binding to %s: %w", s.url, err)
	}
	s.client.conn = cn
	s.logger.Debug(ctx, "directory session opened", ports.F("url", s.url))
	return nil
}

// Disconnect unbinds and closes the connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.conn == nil {
		return nil
	}
	return s.client.Unbind()
}

// IsConnected reports whether the session holds an open connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.conn != nil
}

// Client returns the directory client of the session. It fails with
// ErrNotConnected while the session is closed.
func (s *Session) Client() ports.DirectoryClient {
	return s.client
}

func sortedAttributes(entry *ports.Entry) []string {
	names := make([]string, 0, len(entry.Attributes))
	for name := range entry.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ ports.Session = (*Session)(nil)
