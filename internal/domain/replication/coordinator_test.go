package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/adapters/logging"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/felixgeelhaar/dsinstall/internal/testutil"
	"github.com/felixgeelhaar/dsinstall/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newCoordinator(peer *mocks.ReplicationPeer, opts ...Option) (*Coordinator, *testutil.StepClock) {
	clk := testutil.NewStepClock(epoch)
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewCoordinator(peer, logging.NewNopLogger(), opts...), clk
}

func TestBootstrap_FloorLevelRequiresAdminSecret(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{}
	coord, _ := newCoordinator(peer)

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: DomainLevelFloor,
	})

	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Empty(t, peer.Joins(), "no network call before preconditions hold")
}

func TestBootstrap_CredentialSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		level      DomainLevel
		wantMethod ports.BindMethod
		wantDN     string
		wantSecret string
		wantMode   BindMode
	}{
		{
			name:       "floor level binds as directory manager",
			level:      DomainLevelFloor,
			wantMethod: ports.BindSimple,
			wantDN:     DirectoryManagerDN,
			wantSecret: "Secret123",
			wantMode:   DirectCredential,
		},
		{
			name:       "higher level delegates and ignores the secret",
			level:      DomainLevelMax,
			wantMethod: ports.BindExternal,
			wantDN:     "krbprincipalname=ldap/replica.example.test@EXAMPLE.TEST",
			wantMode:   DelegatedCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			peer := &mocks.ReplicationPeer{}
			coord, _ := newCoordinator(peer)

			outcome, err := coord.Bootstrap(context.Background(), Request{
				Peer:            "master.example.test",
				DomainLevel:     tt.level,
				AdminSecret:     "Secret123",
				ServiceIdentity: "krbprincipalname=ldap/replica.example.test@EXAMPLE.TEST",
			})
			require.NoError(t, err)
			assert.Equal(t, StateDone, outcome.State)
			assert.Equal(t, tt.wantMode, outcome.Agreement.Mode())

			joins := peer.Joins()
			require.Len(t, joins, 1)
			assert.Equal(t, tt.wantMethod, joins[0].Credential.Method)
			assert.Equal(t, tt.wantDN, joins[0].Credential.DN)
			assert.Equal(t, tt.wantSecret, joins[0].Credential.Password)
		})
	}
}

func TestBootstrap_LevelsAboveMaxDelegate(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{}
	coord, _ := newCoordinator(peer)

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:            "master.example.test",
		DomainLevel:     DomainLevelMax + 1,
		AdminSecret:     "Secret123",
		ServiceIdentity: "krbprincipalname=ldap/replica.example.test@EXAMPLE.TEST",
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, DelegatedCredential, outcome.Agreement.Mode())

	joins := peer.Joins()
	require.Len(t, joins, 1)
	assert.Equal(t, ports.BindExternal, joins[0].Credential.Method)
	assert.Empty(t, joins[0].Credential.Password)
}

func TestBootstrap_RejectsNegativeLevel(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{}
	coord, _ := newCoordinator(peer)

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: -1,
		AdminSecret: "Secret123",
	})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Same(t, precondition, outcome.Err)
	assert.Empty(t, peer.Joins())
}

func TestBootstrap_NoRepairWhenPeerSaysConsistent(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{Result: ports.JoinResult{AgreementDN: "cn=meTomaster"}}
	coord, _ := newCoordinator(peer)

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: DomainLevelFloor,
		AdminSecret: "Secret123",
	})
	require.NoError(t, err)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.RepairPerformed)
	assert.Equal(t, "cn=meTomaster", outcome.AgreementDN)
	assert.Empty(t, peer.Tasks())
	assert.Zero(t, peer.Polls())
}

func TestBootstrap_RepairGatesCompletion(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{
		Result:        ports.JoinResult{NeedsRepair: true},
		CompleteAfter: 3,
	}
	coord, clk := newCoordinator(peer, WithPollInterval(time.Second))

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: DomainLevelFloor,
		AdminSecret: "Secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.True(t, outcome.RepairPerformed)
	assert.Equal(t, 3, outcome.Polls)
	assert.Equal(t, 3, peer.Polls())
	assert.Len(t, peer.Tasks(), 1)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.Waits())
}

func TestBootstrap_RepairTimeout(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{
		Result:        ports.JoinResult{NeedsRepair: true},
		CompleteAfter: -1,
	}
	coord, _ := newCoordinator(peer,
		WithPollInterval(time.Second),
		WithPollBound(5*time.Second))

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: DomainLevelFloor,
		AdminSecret: "Secret123",
	})

	var timeout *ConsistencyTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, peer.Polls(), timeout.Polls)
	assert.Positive(t, timeout.Polls)
	assert.Positive(t, timeout.Waited)
}

func TestBootstrap_RepairTaskFailure(t *testing.T) {
	t.Parallel()

	peer := &mocks.ReplicationPeer{
		Result:        ports.JoinResult{NeedsRepair: true},
		CompleteAfter: 1,
		ExitCode:      2,
	}
	coord, _ := newCoordinator(peer)

	outcome, err := coord.Bootstrap(context.Background(), Request{
		Peer:        "master.example.test",
		DomainLevel: DomainLevelFloor,
		AdminSecret: "Secret123",
	})

	var repairErr *RepairError
	require.ErrorAs(t, err, &repairErr)
	assert.Equal(t, 2, repairErr.ExitCode)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Same(t, repairErr, outcome.Err, "machine records the failure")
}

func TestBootstrap_ClassifiesJoinFailures(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	invalid := errors.New("invalid credentials")

	t.Run("transport", func(t *testing.T) {
		t.Parallel()

		peer := &mocks.ReplicationPeer{JoinErr: &ports.JoinError{Kind: ports.JoinFailureTransport, Err: refused}}
		coord, _ := newCoordinator(peer)

		outcome, err := coord.Bootstrap(context.Background(), Request{
			Peer: "master.example.test", DomainLevel: DomainLevelFloor, AdminSecret: "x",
		})
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, StateFailed, outcome.State)
		assert.ErrorIs(t, outcome.Err, refused)
	})

	t.Run("authentication", func(t *testing.T) {
		t.Parallel()

		peer := &mocks.ReplicationPeer{JoinErr: &ports.JoinError{Kind: ports.JoinFailureAuthentication, Err: invalid}}
		coord, _ := newCoordinator(peer)

		_, err := coord.Bootstrap(context.Background(), Request{
			Peer: "master.example.test", DomainLevel: DomainLevelFloor, AdminSecret: "x",
		})
		var auth *AuthenticationError
		require.ErrorAs(t, err, &auth)
		assert.ErrorIs(t, err, invalid)
		assert.Equal(t, DirectCredential, auth.Mode)
	})

	t.Run("unclassified errors are transport errors", func(t *testing.T) {
		t.Parallel()

		peer := &mocks.ReplicationPeer{JoinErr: refused}
		coord, _ := newCoordinator(peer)

		_, err := coord.Bootstrap(context.Background(), Request{
			Peer: "master.example.test", DomainLevel: DomainLevelFloor, AdminSecret: "x",
		})
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
	})
}

func TestAgreement_IsImmutable(t *testing.T) {
	t.Parallel()

	anchor := []byte("ca")
	a := NewAgreement("master.example.test", DirectCredential, DirectoryManagerDN, "pw", anchor)
	anchor[0] = 'x'
	assert.Equal(t, []byte("ca"), a.TrustAnchor())

	got := a.TrustAnchor()
	got[0] = 'y'
	assert.Equal(t, []byte("ca"), a.TrustAnchor())
}

func TestReadDomainLevel(t *testing.T) {
	t.Parallel()

	const suffix = "dc=example,dc=test"

	t.Run("missing entry yields floor", func(t *testing.T) {
		t.Parallel()

		level, err := ReadDomainLevel(context.Background(), mocks.NewDirectory(), suffix)
		require.NoError(t, err)
		assert.Equal(t, DomainLevelFloor, level)
	})

	t.Run("reads attribute", func(t *testing.T) {
		t.Parallel()

		dir := mocks.NewDirectory()
		entry := ports.NewEntry(DomainLevelDN(suffix))
		entry.Set("ipaDomainLevel", "1")
		dir.Put(entry)

		level, err := ReadDomainLevel(context.Background(), dir, suffix)
		require.NoError(t, err)
		assert.Equal(t, DomainLevel(1), level)
	})

	t.Run("garbage is an error", func(t *testing.T) {
		t.Parallel()

		dir := mocks.NewDirectory()
		entry := ports.NewEntry(DomainLevelDN(suffix))
		entry.Set("ipaDomainLevel", "one")
		dir.Put(entry)

		_, err := ReadDomainLevel(context.Background(), dir, suffix)
		require.Error(t, err)
	})
}
