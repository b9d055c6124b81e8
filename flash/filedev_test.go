package flash

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/internal/buf"
)

func TestFileDevice_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	g := testGeometry()

	dev, err := OpenFileDevice(path, g)
	require.NoError(t, err)

	a := NewAdapter(dev)
	require.NoError(t, a.Erase(g.Base+0x800, 0x800))
	require.NoError(t, a.Write(g.Base+0x800, []byte("registry")))
	require.NoError(t, dev.Sync(context.Background()))
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close(), "close is idempotent")

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(g.Size()), st.Size())

	dev, err = OpenFileDevice(path, g)
	require.NoError(t, err)
	defer dev.Close()

	got, err := dev.Read(g.Base+0x800, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("registry"), got)

	rest, err := dev.Read(g.Base, 0x800)
	require.NoError(t, err)
	assert.True(t, buf.IsErased(rest, 0xFF), "fresh image starts erased")

	require.ErrorIs(t, dev.ProgramDoubleWord(g.Base+0x800, 1), ErrNotErased)
}

func TestFileDevice_RejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))

	_, err := OpenFileDevice(path, testGeometry())
	require.ErrorIs(t, err, ErrImageSize)
}

func TestFileDevice_Closed(t *testing.T) {
	dev, err := OpenFileDevice(filepath.Join(t.TempDir(), "flash.img"), testGeometry())
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	_, err = dev.Read(testBase, 8)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, dev.ProgramDoubleWord(testBase, 0), ErrClosed)
	require.ErrorIs(t, dev.Sync(context.Background()), ErrClosed)
}
