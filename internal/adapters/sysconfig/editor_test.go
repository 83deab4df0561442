package sysconfig

import (
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const path = "/etc/sysconfig/dirsrv"

func TestEditor_ReplaceVariables(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	require.NoError(t, fs.MkdirAll("/etc/sysconfig", 0o755))
	require.NoError(t, vfs.WriteFile(fs, path, []byte("# managed by dirsrv\nULIMIT=8192\nKRB5CCNAME=/tmp/old\n"), 0o640))
	editor := NewEditor(fs)

	old, err := editor.ReplaceVariables(path, map[string]string{
		"KRB5CCNAME":  "/tmp/krb5cc_389",
		"KRB5_KTNAME": "/etc/dirsrv/ds.keytab",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"KRB5CCNAME": "/tmp/old"}, old)

	data, err := vfs.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# managed by dirsrv")
	assert.Contains(t, string(data), "ULIMIT=8192")
	assert.Contains(t, string(data), "KRB5CCNAME=/tmp/krb5cc_389")
	assert.Contains(t, string(data), "KRB5_KTNAME=/etc/dirsrv/ds.keytab")

	fi, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 0o640, int(fi.Mode().Perm()))
}

func TestEditor_CreatesMissingFile(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	require.NoError(t, fs.MkdirAll("/etc/sysconfig", 0o755))
	editor := NewEditor(fs)

	old, err := editor.ReplaceVariables(path, map[string]string{"KRB5CCNAME": "/tmp/krb5cc_389"})

	require.NoError(t, err)
	assert.Empty(t, old)

	value, ok, err := editor.Lookup(path, "KRB5CCNAME")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/tmp/krb5cc_389", value)
}

func TestEditor_Lookup(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	editor := NewEditor(fs)

	_, ok, err := editor.Lookup(path, "KRB5CCNAME")
	require.NoError(t, err)
	assert.False(t, ok, "missing file has no keys")

	require.NoError(t, fs.MkdirAll("/etc/sysconfig", 0o755))
	require.NoError(t, vfs.WriteFile(fs, path, []byte("A=1\n"), 0o644))

	_, ok, err = editor.Lookup(path, "B")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := editor.Lookup(path, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
