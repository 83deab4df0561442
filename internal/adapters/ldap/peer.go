package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/go-ldap/ldap/v3"
)

// Attributes kept out of incremental and total updates.
const (
	excludedIncremental = "(objectclass=*) $ EXCLUDE memberof idnssoaserial entryusn krblastsuccessfulauth krblastfailedauth krbloginfailedcount"
	excludedTotal       = "(objectclass=*) $ EXCLUDE entryusn krblastsuccessfulauth krblastfailedauth krbloginfailedcount"
	attrTotalList       = "nsDS5ReplicatedAttributeListTotal"
	replicationPort     = "389"
)

// authCodes are the result codes that mean the peer rejected the
// credential rather than the connection.
var authCodes = []uint16{
	ldap.LDAPResultInvalidCredentials,
	ldap.LDAPResultInappropriateAuthentication,
	ldap.LDAPResultInsufficientAccessRights,
	ldap.LDAPResultStrongAuthRequired,
}

// Peer joins an existing directory server and drives repair tasks on the
// local instance.
type Peer struct {
	suffix     string
	local      ports.Session
	dial       DialFunc
	clientCert *tls.Certificate
	logger     ports.Logger
}

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithPeerDialer replaces the dial function.
func WithPeerDialer(dial DialFunc) PeerOption {
	return func(p *Peer) {
		p.dial = dial
	}
}

// WithClientCertificate presents cert during TLS negotiation, which the
// peer maps to the bind identity of delegated binds.
func WithClientCertificate(cert tls.Certificate) PeerOption {
	return func(p *Peer) {
		p.clientCert = &cert
	}
}

// NewPeer creates a Peer replicating suffix. Repair tasks run through the
// local session.
func NewPeer(suffix string, local ports.Session, logger ports.Logger, opts ...PeerOption) *Peer {
	p := &Peer{suffix: suffix, local: local, dial: Dial, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AgreementDN is the agreement entry on the peer that replicates to host.
func (p *Peer) AgreementDN(host string) string {
	return "cn=meTo" + host + ",cn=replica,cn=" + escapeRDNValue(p.suffix) + ",cn=mapping tree,cn=config"
}

// Join binds to the peer with the request credential over StartTLS and
// creates or refreshes the agreement that replicates to the local host.
// When the peer does not support restricting total updates, memberOf is
// not replicated during initialization and the result asks for a repair.
func (p *Peer) Join(ctx context.Context, req ports.JoinRequest) (ports.JoinResult, error) {
	tlsConfig, err := p.tlsConfig(req)
	if err != nil {
		return ports.JoinResult{}, &ports.JoinError{Kind: ports.JoinFailureTransport, Err: err}
	}

	addr := "ldap://" + net.JoinHostPort(req.PeerAddress, replicationPort)
	cn, err := p.dial(ctx, addr, nil)
	if err != nil {
		return ports.JoinResult{}, &ports.JoinError{Kind: ports.JoinFailureTransport, Err: err}
	}
	client := &Client{conn: cn}
	defer func() { _ = client.Unbind() }()

	if err := cn.StartTLS(tlsConfig); err != nil {
		return ports.JoinResult{}, &ports.JoinError{Kind: ports.JoinFailureTransport, Err: fmt.Errorf("starting TLS: %w", err)}
	}
	if err := client.Bind(ctx, req.Credential); err != nil {
		return ports.JoinResult{}, &ports.JoinError{Kind: classify(err), Err: err}
	}

	dn := p.AgreementDN(req.LocalHost)
	if err := client.AddEntry(ctx, p.agreement(dn, req)); err != nil {
		if !hasCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return ports.JoinResult{}, &ports.JoinError{Kind: classify(err), Err: err}
		}
		p.logger.Debug(ctx, "agreement exists, requesting a refresh", ports.F("dn", dn))
		err = client.ModifyEntry(ctx, dn, []ports.Modification{
			{Op: ports.ModReplace, Attr: "nsds5BeginReplicaRefresh", Values: []string{"start"}},
		})
		if err != nil {
			return ports.JoinResult{}, &ports.JoinError{Kind: classify(err), Err: err}
		}
	}

	stored, err := client.GetEntry(ctx, dn, attrTotalList)
	if err != nil {
		return ports.JoinResult{}, &ports.JoinError{Kind: classify(err), Err: err}
	}
	return ports.JoinResult{
		AgreementDN: dn,
		NeedsRepair: stored.Value(attrTotalList) == "",
	}, nil
}

func (p *Peer) agreement(dn string, req ports.JoinRequest) *ports.Entry {
	method := "SIMPLE"
	if req.Credential.Method == ports.BindExternal {
		method = "SASL/GSSAPI"
	}
	entry := ports.NewEntry(dn).
		Set("objectClass", "top", "nsds5replicationagreement").
		Set("cn", "meTo"+req.LocalHost).
		Set("nsds5replicahost", req.LocalHost).
		Set("nsds5replicaport", replicationPort).
		Set("nsds5replicatransportinfo", "TLS").
		Set("nsds5replicabindmethod", method).
		Set("nsds5replicaroot", p.suffix).
		Set("nsds5replicatedattributelist", excludedIncremental).
		Set(attrTotalList, excludedTotal).
		Set("nsds5BeginReplicaRefresh", "start").
		Set("description", "me to "+req.LocalHost)
	if method == "SIMPLE" {
		entry.Set("nsds5replicabinddn", req.Credential.DN)
		entry.Set("nsds5replicacredentials", req.Credential.Password)
	}
	return entry
}

func (p *Peer) tlsConfig(req ports.JoinRequest) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: req.PeerAddress,
		MinVersion: tls.VersionTLS12,
	}
	if len(req.TrustAnchor) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(req.TrustAnchor) {
			return nil, errors.New("trust anchor holds no PEM certificates")
		}
		cfg.RootCAs = pool
	}
	if p.clientCert != nil {
		cfg.Certificates = []tls.Certificate{*p.clientCert}
	}
	return cfg, nil
}

func classify(err error) ports.JoinFailureKind {
	for _, code := range authCodes {
		if hasCode(err, code) {
			return ports.JoinFailureAuthentication
		}
	}
	return ports.JoinFailureTransport
}

// StartRepairTask creates a memberOf fixup task on the local instance.
func (p *Peer) StartRepairTask(ctx context.Context, name string) (string, error) {
	if !p.local.IsConnected() {
		return "", ErrNotConnected
	}
	dn := "cn=" + escapeRDNValue(name) + ",cn=memberof task,cn=tasks,cn=config"
	task := ports.NewEntry(dn).
		Set("objectClass", "top", "extensibleObject").
		Set("cn", name).
		Set("basedn", p.suffix).
		Set("filter", "(objectclass=*)").
		Set("ttl", "3600")
	if err := p.local.Client().AddEntry(ctx, task); err != nil {
		return "", err
	}
	return dn, nil
}

// TaskStatus reads the completion attributes of a task on the local
// instance.
func (p *Peer) TaskStatus(ctx context.Context, taskDN string) (ports.TaskStatus, error) {
	if !p.local.IsConnected() {
		return ports.TaskStatus{}, ErrNotConnected
	}
	return replication.DirectoryTaskStatus(p.local.Client())(ctx, taskDN)
}

// escapeRDNValue escapes the characters RFC 4514 reserves in an attribute
// value.
func escapeRDNValue(v string) string {
	var b strings.Builder
	for i, r := range v {
		switch {
		case strings.ContainsRune(`,+"\<>;=`, r),
			r == '#' && i == 0,
			r == ' ' && (i == 0 || i == len(v)-1):
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ ports.ReplicationPeer = (*Peer)(nil)
