// Package ldap talks to directory servers with github.com/go-ldap/ldap/v3:
// the control-plane session of the managed instance and the replication
// peer a replica joins.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/go-ldap/ldap/v3"
)

// ErrNotConnected is returned by a client whose session is closed.
var ErrNotConnected = errors.New("directory session is not connected")

// conn is the subset of *ldap.Conn used here.
type conn interface {
	StartTLS(config *tls.Config) error
	Bind(username, password string) error
	ExternalBind() error
	Unbind() error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Del(req *ldap.DelRequest) error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string, tlsConfig *tls.Config) (conn, error)

// Dial opens a connection with ldap.DialURL. ldapi:// URLs connect to a
// unix socket.
func Dial(_ context.Context, url string, tlsConfig *tls.Config) (conn, error) {
	var opts []ldap.DialOpt
	if tlsConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}
	c, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client implements ports.DirectoryClient on one connection.
type Client struct {
	conn conn
}

func (c *Client) connection() (conn, error) {
	if c == nil || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Bind authenticates the connection.
func (c *Client) Bind(_ context.Context, cred ports.Credential) error {
	cn, err := c.connection()
	if err != nil {
		return err
	}
	switch cred.Method {
	case ports.BindExternal:
		return cn.ExternalBind()
	case ports.BindSimple:
		return cn.Bind(cred.DN, cred.Password)
	default:
		return fmt.Errorf("unsupported bind method %d", cred.Method)
	}
}

// Unbind closes the connection.
func (c *Client) Unbind() error {
	cn, err := c.connection()
	if err != nil {
		return err
	}
	c.conn = nil
	return cn.Unbind()
}

// GetEntry reads one entry. A missing entry is reported as
// ports.ErrNoSuchEntry.
func (c *Client) GetEntry(_ context.Context, dn string, attrs ...string) (*ports.Entry, error) {
	cn, err := c.connection()
	if err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)", attrs, nil)
	res, err := cn.Search(req)
	if hasCode(err, ldap.LDAPResultNoSuchObject) {
		return nil, fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dn, err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
	}

	found := res.Entries[0]
	entry := ports.NewEntry(found.DN)
	for _, a := range found.Attributes {
		entry.Set(a.Name, a.Values...)
	}
	return entry, nil
}

// AddEntry adds entry.
func (c *Client) AddEntry(_ context.Context, entry *ports.Entry) error {
	cn, err := c.connection()
	if err != nil {
		return err
	}
	req := ldap.NewAddRequest(entry.DN, nil)
	for _, name := range sortedAttributes(entry) {
		req.Attribute(name, entry.Attributes[name])
	}
	if err := cn.Add(req); err != nil {
		return fmt.Errorf("adding %s: %w", entry.DN, err)
	}
	return nil
}

// ModifyEntry applies mods to dn.
func (c *Client) ModifyEntry(_ context.Context, dn string, mods []ports.Modification) error {
	cn, err := c.connection()
	if err != nil {
		return err
	}
	req := ldap.NewModifyRequest(dn, nil)
	for _, m := range mods {
		switch m.Op {
		case ports.ModAdd:
			req.Add(m.Attr, m.Values)
		case ports.ModReplace:
			req.Replace(m.Attr, m.Values)
		case ports.ModDelete:
			req.Delete(m.Attr, m.Values)
		default:
			return fmt.Errorf("unknown modification %d of %s", m.Op, m.Attr)
		}
	}
	if err := cn.Modify(req); err != nil {
		if hasCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
		}
		return fmt.Errorf("modifying %s: %w", dn, err)
	}
	return nil
}

// DeleteEntry removes dn.
func (c *Client) DeleteEntry(_ context.Context, dn string) error {
	cn, err := c.connection()
	if err != nil {
		return err
	}
	if err := cn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		if hasCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
		}
		return fmt.Errorf("deleting %s: %w", dn, err)
	}
	return nil
}

func hasCode(err error, code uint16) bool {
	var ldapErr *ldap.Error
	return errors.As(err, &ldapErr) && ldapErr.ResultCode == code
}

var _ ports.DirectoryClient = (*Client)(nil)
