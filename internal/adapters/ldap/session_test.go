package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/felixgeelhaar/dsinstall/internal/adapters/logging"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const socketURL = "ldapi://%2Fvar%2Frun%2Fslapd-EXAMPLE-TEST.socket"

func TestSession_ConnectAndDisconnect(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	var dialed []string
	s := NewSession(socketURL, ports.Credential{Method: ports.BindExternal}, logging.NewNopLogger(),
		WithDialer(dialer(fc, &dialed)))

	assert.False(t, s.IsConnected())
	_, err := s.Client().GetEntry(t.Context(), "cn=config")
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Connect(t.Context()))
	require.NoError(t, s.Connect(t.Context()), "connecting twice is a no-op")

	assert.True(t, s.IsConnected())
	assert.Equal(t, []string{socketURL}, dialed)
	assert.Equal(t, []string{"external"}, fc.binds)

	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
	assert.True(t, fc.unbound)
	require.NoError(t, s.Disconnect())
}

func TestSession_BindFailureCloses(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	fc.bindErr = ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	s := NewSession("ldap://localhost", ports.Credential{Method: ports.BindSimple, DN: "cn=Directory Manager", Password: "x"},
		logging.NewNopLogger(), WithDialer(dialer(fc, nil)))

	err := s.Connect(t.Context())

	require.Error(t, err)
	assert.False(t, s.IsConnected())
	assert.True(t, fc.unbound)
	assert.Equal(t, []string{"simple cn=Directory Manager"}, fc.binds)
}

func TestSession_DialFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	s := NewSession(socketURL, ports.Credential{Method: ports.BindExternal}, logging.NewNopLogger(),
		WithDialer(func(context.Context, string, *tls.Config) (conn, error) { return nil, boom }))

	require.ErrorIs(t, s.Connect(t.Context()), boom)
	assert.False(t, s.IsConnected())
}

func TestClient_Operations(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	fc.put("cn=config", map[string][]string{"nsslapd-security": {"off"}, "cn": {"config"}})
	c := &Client{conn: fc}
	ctx := t.Context()

	entry, err := c.GetEntry(ctx, "cn=config", "nsslapd-security")
	require.NoError(t, err)
	assert.Equal(t, "off", entry.Value("nsslapd-security"))
	assert.Empty(t, entry.Value("cn"))

	_, err = c.GetEntry(ctx, "cn=missing")
	require.ErrorIs(t, err, ports.ErrNoSuchEntry)

	require.NoError(t, c.ModifyEntry(ctx, "cn=config", []ports.Modification{
		{Op: ports.ModReplace, Attr: "nsslapd-security", Values: []string{"on"}},
	}))
	entry, err = c.GetEntry(ctx, "cn=config")
	require.NoError(t, err)
	assert.Equal(t, "on", entry.Value("nsslapd-security"))

	err = c.ModifyEntry(ctx, "cn=missing", []ports.Modification{{Op: ports.ModDelete, Attr: "x"}})
	require.ErrorIs(t, err, ports.ErrNoSuchEntry)

	require.NoError(t, c.AddEntry(ctx, ports.NewEntry("cn=new").Set("cn", "new")))
	require.Error(t, c.AddEntry(ctx, ports.NewEntry("cn=new").Set("cn", "new")))

	require.NoError(t, c.DeleteEntry(ctx, "cn=new"))
	require.ErrorIs(t, c.DeleteEntry(ctx, "cn=new"), ports.ErrNoSuchEntry)
}

func TestClient_UnsupportedBind(t *testing.T) {
	t.Parallel()

	c := &Client{conn: newFakeConn()}

	require.Error(t, c.Bind(t.Context(), ports.Credential{Method: ports.BindMethod(7)}))
}
