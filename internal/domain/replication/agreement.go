package replication

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// DomainLevel is the cluster-wide feature level.
type DomainLevel int

const (
	// DomainLevelFloor is the lowest supported level.
	DomainLevelFloor DomainLevel = 0
	// DomainLevelMax is the highest level this installer has been tested
	// against. Later levels keep the delegated bind.
	DomainLevelMax DomainLevel = 1
)

// DirectoryManagerDN is the administrator identity used at the floor level.
const DirectoryManagerDN = "cn=Directory Manager"

// Valid reports whether the level is a real domain level. Levels only grow,
// so anything at or above the floor is accepted.
func (l DomainLevel) Valid() bool {
	return l >= DomainLevelFloor
}

// DomainLevelDN returns the entry holding the domain level under suffix.
func DomainLevelDN(suffix string) string {
	return "cn=Domain Level,cn=ipa,cn=etc," + suffix
}

// ReadDomainLevel reads the cluster domain level. A missing entry means the
// cluster predates domain levels and yields the floor.
func ReadDomainLevel(ctx context.Context, dir ports.DirectoryClient, suffix string) (DomainLevel, error) {
	entry, err := dir.GetEntry(ctx, DomainLevelDN(suffix), "ipaDomainLevel")
	if errors.Is(err, ports.ErrNoSuchEntry) {
		return DomainLevelFloor, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading domain level: %w", err)
	}

	raw := strings.TrimSpace(entry.Value("ipaDomainLevel"))
	if raw == "" {
		return DomainLevelFloor, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid domain level %q: %w", raw, err)
	}
	return DomainLevel(n), nil
}

// BindMode selects how the replication agreement authenticates.
type BindMode int

const (
	// DirectCredential binds as the directory administrator.
	DirectCredential BindMode = iota
	// DelegatedCredential binds with the node's own service identity.
	DelegatedCredential
)

// String returns the mode name.
func (m BindMode) String() string {
	switch m {
	case DirectCredential:
		return "direct"
	case DelegatedCredential:
		return "delegated"
	default:
		return "unknown"
	}
}

// Agreement is the immutable description of one replication relationship.
type Agreement struct {
	peer        string
	mode        BindMode
	bindDN      string
	secret      string
	trustAnchor []byte
}

// NewAgreement builds an agreement. The trust anchor is copied.
func NewAgreement(peer string, mode BindMode, bindDN, secret string, trustAnchor []byte) Agreement {
	return Agreement{
		peer:        peer,
		mode:        mode,
		bindDN:      bindDN,
		secret:      secret,
		trustAnchor: append([]byte(nil), trustAnchor...),
	}
}

// Peer returns the address of the existing node.
func (a Agreement) Peer() string { return a.peer }

// Mode returns the bind mode.
func (a Agreement) Mode() BindMode { return a.mode }

// BindDN returns the identity the agreement binds as.
func (a Agreement) BindDN() string { return a.bindDN }

// TrustAnchor returns a copy of the CA certificate used to verify the peer.
func (a Agreement) TrustAnchor() []byte {
	return append([]byte(nil), a.trustAnchor...)
}

// Credential returns the directory credential for the agreement.
func (a Agreement) Credential() ports.Credential {
	if a.mode == DelegatedCredential {
		return ports.Credential{Method: ports.BindExternal, DN: a.bindDN}
	}
	return ports.Credential{Method: ports.BindSimple, DN: a.bindDN, Password: a.secret}
}

// SelectAgreement chooses the credential for level. The floor level requires
// the administrator secret; higher levels require a service identity and
// ignore the secret.
func SelectAgreement(peer string, level DomainLevel, adminSecret, serviceIdentity string, trustAnchor []byte) (Agreement, error) {
	if !level.Valid() {
		return Agreement{}, &PreconditionError{
			Reason: fmt.Sprintf("domain level %d is below the floor %d", level, DomainLevelFloor),
		}
	}
	if peer == "" {
		return Agreement{}, &PreconditionError{Reason: "no peer address given"}
	}

	if level == DomainLevelFloor {
		if adminSecret == "" {
			return Agreement{}, &PreconditionError{Reason: "directory manager password is required at domain level 0"}
		}
		return NewAgreement(peer, DirectCredential, DirectoryManagerDN, adminSecret, trustAnchor), nil
	}

	if serviceIdentity == "" {
		return Agreement{}, &PreconditionError{Reason: "a service identity is required for delegated replication"}
	}
	return NewAgreement(peer, DelegatedCredential, serviceIdentity, "", trustAnchor), nil
}
