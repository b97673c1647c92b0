package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemManager(t *testing.T) {
	fs := NewFileSystemManager()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.apk")

	assert.False(t, fs.Exists(path))

	content := []byte("not really an apk")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	assert.True(t, fs.Exists(path))

	size, err := fs.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	data, err := fs.Read(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, fs.Delete(path))
	assert.False(t, fs.Exists(path))
	assert.Error(t, fs.Delete(path))
}

func TestEnsureDirCreatesNestedPath(t *testing.T) {
	fs := NewFileSystemManager()
	nested := filepath.Join(t.TempDir(), "a", "b", "c")

	require.NoError(t, fs.EnsureDir(nested))
	assert.True(t, fs.Exists(nested))

	// Idempotent on an existing directory.
	assert.NoError(t, fs.EnsureDir(nested))
}
