package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// Directory is an in-memory ports.DirectoryClient keyed by normalized DN.
type Directory struct {
	mu      sync.Mutex
	entries map[string]*ports.Entry
	binds   []ports.Credential
	writes  []string

	// Errors maps "<op> <dn>" (op is get, add, modify, delete) or
	// "bind" to an injected error.
	Errors map[string]error
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[string]*ports.Entry),
		Errors:  make(map[string]error),
	}
}

// Put stores an entry, replacing any existing one.
func (d *Directory) Put(entry *ports.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[normalize(entry.DN)] = clone(entry)
}

// Entry returns a copy of the stored entry, or nil.
func (d *Directory) Entry(dn string) *ports.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[normalize(dn)]; ok {
		return clone(e)
	}
	return nil
}

// Writes returns "<op> <dn>" for every successful write.
func (d *Directory) Writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}

// Binds returns the credentials used for binds.
func (d *Directory) Binds() []ports.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.Credential(nil), d.binds...)
}

// Bind records the credential.
func (d *Directory) Bind(_ context.Context, cred ports.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Errors["bind"]; err != nil {
		return err
	}
	d.binds = append(d.binds, cred)
	return nil
}

// Unbind does nothing.
func (d *Directory) Unbind() error {
	return nil
}

// GetEntry returns the entry restricted to attrs (all attributes if none).
func (d *Directory) GetEntry(_ context.Context, dn string, attrs ...string) (*ports.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Errors["get "+normalize(dn)]; err != nil {
		return nil, err
	}
	e, ok := d.entries[normalize(dn)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
	}
	if len(attrs) == 0 {
		return clone(e), nil
	}
	out := ports.NewEntry(e.DN)
	for _, a := range attrs {
		if v := e.Values(a); v != nil {
			out.Set(a, v...)
		}
	}
	return out, nil
}

// AddEntry stores a new entry.
func (d *Directory) AddEntry(_ context.Context, entry *ports.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize(entry.DN)
	if err := d.Errors["add "+key]; err != nil {
		return err
	}
	if _, ok := d.entries[key]; ok {
		return fmt.Errorf("%s: entry already exists", entry.DN)
	}
	d.entries[key] = clone(entry)
	d.writes = append(d.writes, "add "+key)
	return nil
}

// ModifyEntry applies modifications to an existing entry.
func (d *Directory) ModifyEntry(_ context.Context, dn string, mods []ports.Modification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize(dn)
	if err := d.Errors["modify "+key]; err != nil {
		return err
	}
	e, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
	}
	for _, m := range mods {
		switch m.Op {
		case ports.ModAdd:
			e.Set(m.Attr, append(e.Values(m.Attr), m.Values...)...)
		case ports.ModReplace:
			e.Set(m.Attr, m.Values...)
		case ports.ModDelete:
			for k := range e.Attributes {
				if strings.EqualFold(k, m.Attr) {
					delete(e.Attributes, k)
				}
			}
		default:
			return errors.New("unknown modification")
		}
	}
	d.writes = append(d.writes, "modify "+key)
	return nil
}

// DeleteEntry removes an entry.
func (d *Directory) DeleteEntry(_ context.Context, dn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize(dn)
	if err := d.Errors["delete "+key]; err != nil {
		return err
	}
	if _, ok := d.entries[key]; !ok {
		return fmt.Errorf("%s: %w", dn, ports.ErrNoSuchEntry)
	}
	delete(d.entries, key)
	d.writes = append(d.writes, "delete "+key)
	return nil
}

// Session is an in-memory ports.Session over a Directory.
type Session struct {
	mu        sync.Mutex
	dir       *Directory
	connected bool

	ConnectErr error
	Journal    *Journal
}

// NewSession creates a disconnected session over dir.
func NewSession(dir *Directory) *Session {
	return &Session{dir: dir}
}

// Connect marks the session connected.
func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Journal.Record("connect")
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

// Disconnect marks the session disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Journal.Record("disconnect")
	s.connected = false
	return nil
}

// IsConnected reports the session state.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Client returns the underlying directory.
func (s *Session) Client() ports.DirectoryClient {
	return s.dir
}

func normalize(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}

func clone(e *ports.Entry) *ports.Entry {
	out := ports.NewEntry(e.DN)
	for k, v := range e.Attributes {
		out.Attributes[k] = append([]string(nil), v...)
	}
	return out
}

var (
	_ ports.DirectoryClient = (*Directory)(nil)
	_ ports.Session         = (*Session)(nil)
)
