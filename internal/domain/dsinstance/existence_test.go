package dsinstance

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/felixgeelhaar/dsinstall/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistenceCheck(t *testing.T) {
	t.Parallel()

	const dn = "cn=RSA,cn=encryption,cn=config"

	tests := []struct {
		name   string
		stored *ports.Entry
		want   *ports.Entry
		result Existence
	}{
		{
			name:   "absent",
			want:   ports.NewEntry(dn).Set("cn", "RSA"),
			result: Absent,
		},
		{
			name:   "matching ignores value order and case",
			stored: ports.NewEntry(dn).Set("objectClass", "nsEncryptionModule", "top").Set("cn", "RSA"),
			want:   ports.NewEntry(dn).Set("objectclass", "top", "nsencryptionmodule"),
			result: PresentMatching,
		},
		{
			name:   "conflicting value",
			stored: ports.NewEntry(dn).Set("nsSSLActivation", "off"),
			want:   ports.NewEntry(dn).Set("nsSSLActivation", "on"),
			result: PresentConflicting,
		},
		{
			name:   "missing attribute conflicts",
			stored: ports.NewEntry(dn).Set("cn", "RSA"),
			want:   ports.NewEntry(dn).Set("nsSSLToken", "internal (software)"),
			result: PresentConflicting,
		},
		{
			name:   "dn only is present",
			stored: ports.NewEntry(dn).Set("cn", "RSA"),
			want:   ports.NewEntry(dn),
			result: PresentMatching,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := mocks.NewDirectory()
			if tt.stored != nil {
				dir.Put(tt.stored)
			}
			got, err := ExistenceCheck(t.Context(), dir, tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.result, got)
		})
	}
}

func TestExistenceCheck_ReadError(t *testing.T) {
	t.Parallel()

	dir := mocks.NewDirectory()
	boom := errors.New("connection reset")
	dir.Errors["get cn=x"] = boom

	_, err := ExistenceCheck(t.Context(), dir, ports.NewEntry("cn=x"))

	require.ErrorIs(t, err, boom)
}

func TestEnsureEntry(t *testing.T) {
	t.Parallel()

	const dn = "cn=Name Only,cn=mapping,cn=sasl,cn=config"
	want := ports.NewEntry(dn).Set("nsSaslMapPriority", "10")

	t.Run("adds absent entry", func(t *testing.T) {
		t.Parallel()
		dir := mocks.NewDirectory()

		got, err := EnsureEntry(t.Context(), dir, want)

		require.NoError(t, err)
		assert.Equal(t, Absent, got)
		assert.Equal(t, "10", dir.Entry(dn).Value("nsSaslMapPriority"))
	})

	t.Run("replaces conflicting values", func(t *testing.T) {
		t.Parallel()
		dir := mocks.NewDirectory()
		dir.Put(ports.NewEntry(dn).Set("nsSaslMapPriority", "50").Set("cn", "Name Only"))

		got, err := EnsureEntry(t.Context(), dir, want)

		require.NoError(t, err)
		assert.Equal(t, PresentConflicting, got)
		assert.Equal(t, "10", dir.Entry(dn).Value("nsSaslMapPriority"))
		assert.Equal(t, "Name Only", dir.Entry(dn).Value("cn"))
	})

	t.Run("leaves matching entry alone", func(t *testing.T) {
		t.Parallel()
		dir := mocks.NewDirectory()
		dir.Put(want)

		got, err := EnsureEntry(t.Context(), dir, want)

		require.NoError(t, err)
		assert.Equal(t, PresentMatching, got)
		assert.Empty(t, dir.Writes())
	})
}

func TestExistence_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "present", PresentMatching.String())
	assert.Equal(t, "conflicting", PresentConflicting.String())
	assert.Equal(t, "unknown", Existence(9).String())
}
