package objcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	c.Write("nn-abc.network", []byte("blob"))
	data, ok := c.Read("nn-abc.network")
	assert.True(t, ok)
	assert.Equal(t, []byte("blob"), data)
}

func TestReadMissReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	_, ok := c.Read("does-not-exist")
	assert.False(t, ok)
}

func TestWriteLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	c.Write("nn-abc.network", []byte("blob"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "nn-abc.network", entries[0].Name())
}

func TestWriteIsIdempotentOnCollision(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	c.Write("key", []byte("first"))
	c.Write("key", []byte("second"))

	data, ok := c.Read("key")
	assert.True(t, ok)
	assert.Equal(t, []byte("first"), data)
}

func TestZeroValueCacheIsNoop(t *testing.T) {
	var c Cache
	c.Write("anything", []byte("x"))
	_, ok := c.Read("anything")
	assert.False(t, ok)
}

func TestNewCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := New(dir)
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, c.Dir)
}
