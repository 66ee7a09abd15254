package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	ns := s.Namespace("gpscfg")

	_, ok := ns.Uint32("baud")
	assert.False(t, ok)

	require.NoError(t, ns.PutUint32("baud", 115200))
	require.NoError(t, ns.PutUint8("ubx_profile", 2))
	require.NoError(t, ns.PutBytes("ubx_custom_profile", []byte{0xB5, 0x62, 0x00}))

	v, ok := ns.Uint32("baud")
	require.True(t, ok)
	assert.Equal(t, uint32(115200), v)

	p, ok := ns.Uint8("ubx_profile")
	require.True(t, ok)
	assert.Equal(t, uint8(2), p)

	b, ok := ns.Bytes("ubx_custom_profile")
	require.True(t, ok)
	assert.Equal(t, []byte{0xB5, 0x62, 0x00}, b)

	require.NoError(t, ns.Remove("ubx_custom_profile"))
	_, ok = ns.Bytes("ubx_custom_profile")
	assert.False(t, ok)
}

func TestNamespacesAreSeparate(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Namespace("gpscfg").PutUint8("mode", 1))
	_, ok := s.Namespace("sysmode").Uint8("mode")
	assert.False(t, ok)
}

func TestKindMismatch(t *testing.T) {
	s := NewMemory()
	ns := s.Namespace("gpscfg")
	require.NoError(t, ns.PutUint32("baud", 921600))

	// 921600 does not fit a byte.
	_, ok := ns.Uint8("baud")
	assert.False(t, ok)
}

func TestFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Namespace("gpscfg").PutUint32("baud", 38400))
	require.NoError(t, s.Namespace("sysmode").PutUint8("mode", 1))

	s2, err := Open(path)
	require.NoError(t, err)
	v, ok := s2.Namespace("gpscfg").Uint32("baud")
	require.True(t, ok)
	assert.Equal(t, uint32(38400), v)
	m, ok := s2.Namespace("sysmode").Uint8("mode")
	require.True(t, ok)
	assert.Equal(t, uint8(1), m)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, ok := s.Namespace("gpscfg").Uint32("baud")
	assert.False(t, ok)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gpscfg: [1, 2"), 0o644))
	_, err := Open(path)
	require.Error(t, err)
}

func TestFailedWriteKeepsOldValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(dir, 0o755))
	s, err := Open(filepath.Join(dir, "prefs.yaml"))
	require.NoError(t, err)
	ns := s.Namespace("gpscfg")
	require.NoError(t, ns.PutUint32("baud", 9600))

	require.NoError(t, os.RemoveAll(dir))
	require.Error(t, ns.PutUint32("baud", 19200))

	v, _ := ns.Uint32("baud")
	assert.Equal(t, uint32(9600), v)
}

func TestFailedRemoveKeepsValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(dir, 0o755))
	s, err := Open(filepath.Join(dir, "prefs.yaml"))
	require.NoError(t, err)
	ns := s.Namespace("gpscfg")
	require.NoError(t, ns.PutBytes("custom", []byte{0xb5, 0x62}))

	require.NoError(t, os.RemoveAll(dir))
	require.Error(t, ns.Remove("custom"))

	v, ok := ns.Bytes("custom")
	require.True(t, ok)
	assert.Equal(t, []byte{0xb5, 0x62}, v)
}
