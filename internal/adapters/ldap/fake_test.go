package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory directory behind the conn interface.
type fakeConn struct {
	mu       sync.Mutex
	entries  map[string]map[string][]string
	binds    []string
	tls      *tls.Config
	unbound  bool
	bindErr  error
	addErr   error
	tlsErr   error
	dropAttr string
}

func newFakeConn() *fakeConn {
	return &fakeConn{entries: make(map[string]map[string][]string)}
}

func (f *fakeConn) put(dn string, attrs map[string][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[strings.ToLower(dn)] = attrs
}

func (f *fakeConn) StartTLS(cfg *tls.Config) error {
	f.tls = cfg
	return f.tlsErr
}

func (f *fakeConn) Bind(username, _ string) error {
	f.binds = append(f.binds, "simple "+username)
	return f.bindErr
}

func (f *fakeConn) ExternalBind() error {
	f.binds = append(f.binds, "external")
	return f.bindErr
}

func (f *fakeConn) Unbind() error {
	f.unbound = true
	return nil
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, ok := f.entries[strings.ToLower(req.BaseDN)]
	if !ok {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	entry := &ldap.Entry{DN: req.BaseDN}
	for name, values := range attrs {
		if len(req.Attributes) > 0 && !contains(req.Attributes, name) {
			continue
		}
		entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{Name: name, Values: values})
	}
	return &ldap.SearchResult{Entries: []*ldap.Entry{entry}}, nil
}

func (f *fakeConn) Add(req *ldap.AddRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	key := strings.ToLower(req.DN)
	if _, ok := f.entries[key]; ok {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("already exists"))
	}
	attrs := make(map[string][]string)
	for _, a := range req.Attributes {
		if strings.EqualFold(a.Type, f.dropAttr) {
			continue
		}
		attrs[a.Type] = a.Vals
	}
	f.entries[key] = attrs
	return nil
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, ok := f.entries[strings.ToLower(req.DN)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	for _, c := range req.Changes {
		switch c.Operation {
		case ldap.AddAttribute:
			attrs[c.Modification.Type] = append(attrs[c.Modification.Type], c.Modification.Vals...)
		case ldap.ReplaceAttribute:
			attrs[c.Modification.Type] = c.Modification.Vals
		case ldap.DeleteAttribute:
			delete(attrs, c.Modification.Type)
		}
	}
	return nil
}

func (f *fakeConn) Del(req *ldap.DelRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(req.DN)
	if _, ok := f.entries[key]; !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	delete(f.entries, key)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func dialer(c *fakeConn, dialed *[]string) DialFunc {
	return func(_ context.Context, url string, _ *tls.Config) (conn, error) {
		if dialed != nil {
			*dialed = append(*dialed, url)
		}
		return c, nil
	}
}
