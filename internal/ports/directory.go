package ports

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSuchEntry is returned by DirectoryClient lookups for a missing DN.
var ErrNoSuchEntry = errors.New("no such entry")

// Entry is a directory entry with multi-valued attributes.
// Attribute names are compared case-insensitively.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// NewEntry creates an entry with the given DN and no attributes.
func NewEntry(dn string) *Entry {
	return &Entry{DN: dn, Attributes: make(map[string][]string)}
}

// Set replaces the values of an attribute.
func (e *Entry) Set(attr string, values ...string) *Entry {
	if e.Attributes == nil {
		e.Attributes = make(map[string][]string)
	}
	for k := range e.Attributes {
		if strings.EqualFold(k, attr) {
			delete(e.Attributes, k)
		}
	}
	e.Attributes[attr] = values
	return e
}

// Values returns all values of an attribute.
func (e *Entry) Values(attr string) []string {
	for k, v := range e.Attributes {
		if strings.EqualFold(k, attr) {
			return v
		}
	}
	return nil
}

// Value returns the first value of an attribute, or "".
func (e *Entry) Value(attr string) string {
	if v := e.Values(attr); len(v) > 0 {
		return v[0]
	}
	return ""
}

// ModOp is the kind of a single attribute modification.
type ModOp int

// Modification operations.
const (
	ModAdd ModOp = iota
	ModReplace
	ModDelete
)

// Modification changes one attribute of an entry.
type Modification struct {
	Op     ModOp
	Attr   string
	Values []string
}

// BindMethod selects how a control-plane session authenticates.
type BindMethod int

// Bind methods.
const (
	// BindSimple authenticates with a DN and password.
	BindSimple BindMethod = iota
	// BindExternal authenticates with the transport identity: the peer
	// credentials of an ldapi socket or a TLS client certificate.
	BindExternal
)

// Credential carries the material for one bind.
type Credential struct {
	Method   BindMethod
	DN       string
	Password string
}

// DirectoryClient is the control-plane client of a directory server.
type DirectoryClient interface {
	Bind(ctx context.Context, cred Credential) error
	Unbind() error
	GetEntry(ctx context.Context, dn string, attrs ...string) (*Entry, error)
	AddEntry(ctx context.Context, entry *Entry) error
	ModifyEntry(ctx context.Context, dn string, mods []Modification) error
	DeleteEntry(ctx context.Context, dn string) error
}

// Session is the control-plane session of the managed instance. Its
// reachability follows the service process, so it is only toggled by the
// service lifecycle controller.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Client() DirectoryClient
}
