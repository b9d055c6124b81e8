package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_WriteImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, os.WriteFile(path, []byte("old contents"), 0o644))

	w := &FileWriter{Path: path}
	require.NoError(t, w.WriteImage([]byte{0xFF, 0x00, 0xFF}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x00, 0xFF}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPerm, fi.Mode().Perm())
}

func TestFileWriter_Perm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.bin")
	w := &FileWriter{Path: path, Perm: 0o600}
	require.NoError(t, w.WriteImage([]byte{1, 2}))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestFileWriter_MissingDir(t *testing.T) {
	w := &FileWriter{Path: filepath.Join(t.TempDir(), "nope", "flash.img")}
	assert.Error(t, w.WriteImage([]byte{1}))
}

func TestMemWriter_Copies(t *testing.T) {
	src := []byte{1, 2, 3}
	var w MemWriter
	require.NoError(t, w.WriteImage(src))
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, w.Buf)

	var sink Sink = &w
	require.NoError(t, sink.WriteImage([]byte{4}))
	assert.Equal(t, []byte{4}, w.Buf)
}
