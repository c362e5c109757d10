package lfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPointer(t *testing.T) {
	ptr := []byte("version https://git-lfs.github.com/spec/v1\noid sha256:abc\nsize 10\n")
	assert.True(t, IsPointer(ptr))

	assert.False(t, IsPointer([]byte("package main\n")))
	assert.False(t, IsPointer(append([]byte("version https://git-lfs.github.com/spec/v1\n"), make([]byte, 1024)...)))
	assert.False(t, IsPointer([]byte{0x89, 0x50, 0x4e, 0x47}))
}

func TestCreateAndParseRoundtrip(t *testing.T) {
	content := []byte("hello large world")
	rendered := CreatePointer(content)

	ptr, ok := ParsePointer([]byte(rendered))
	require.True(t, ok)
	assert.Len(t, ptr.OID, 64)
	assert.Equal(t, int64(len(content)), ptr.Size)
}

func TestParsePointerIncomplete(t *testing.T) {
	_, ok := ParsePointer([]byte("version https://git-lfs.github.com/spec/v1\noid sha256:abc\n"))
	assert.False(t, ok)

	_, ok = ParsePointer([]byte("version https://git-lfs.github.com/spec/v1\nsize 10\n"))
	assert.False(t, ok)
}

func TestPatternForPath(t *testing.T) {
	assert.Equal(t, "*.psd", PatternForPath("art/logo.psd"))
	assert.Equal(t, "data/blob", PatternForPath("data/blob"))
}

func TestEnsureTracked(t *testing.T) {
	root := t.TempDir()

	changed, err := EnsureTracked(root, "*.bin")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(root, ".gitattributes"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "*.bin filter=lfs diff=lfs merge=lfs -text")

	// Second call is a no-op.
	changed, err = EnsureTracked(root, "*.bin")
	require.NoError(t, err)
	assert.False(t, changed)

	// A second pattern appends.
	changed, err = EnsureTracked(root, "*.psd")
	require.NoError(t, err)
	assert.True(t, changed)

	data, _ = os.ReadFile(filepath.Join(root, ".gitattributes"))
	assert.Equal(t, 2, strings.Count(string(data), "filter=lfs"))
}

func TestStoreAndResolveObject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	content := []byte("big binary payload")
	pointer, err := StoreObject(root, content)
	require.NoError(t, err)
	require.True(t, IsPointer(pointer))

	resolved, err := ResolvePointer(root, pointer)
	require.NoError(t, err)
	assert.Equal(t, content, resolved)
}

func TestResolvePointerRejectsGarbage(t *testing.T) {
	_, err := ResolvePointer(t.TempDir(), []byte("not a pointer"))
	assert.Error(t, err)
}
