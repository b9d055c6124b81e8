package dm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/pkg/types"
)

const testHost = "https://device.blob.example.net/"

func newBlobRig(t *testing.T, opts ...Option) (*rig, *blob.MemStore) {
	t.Helper()
	store := blob.NewMemStore()
	store.ChunkSize = 0x100
	r := newRig(t, append([]Option{WithBlobFactory(store.Factory()), WithMaxPackageSize(0x800)}, opts...)...)
	return r, store
}

func TestInstallBlobGapSearch(t *testing.T) {
	r, store := newBlobRig(t)
	store.Put("pkgs/alpha.bin", r.image(t, 1, 0x140, "alpha"))
	store.Put("pkgs/beta.bin", r.image(t, 2, 0x900, "beta"))
	store.Put("pkgs/gamma.bin", r.image(t, 3, 0x40, "gamma"))
	ctx := context.Background()

	require.NoError(t, r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/alpha.bin?sv=x"))
	require.NoError(t, r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/beta.bin"))
	require.NoError(t, r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/gamma.bin"))

	pkgs := r.m.Packages()
	require.Len(t, pkgs, 3)
	assert.Equal(t, "alpha", pkgs[0].Name)
	assert.Equal(t, uint32(0x1000), pkgs[0].Base)
	assert.Equal(t, "beta", pkgs[1].Name)
	assert.Equal(t, uint32(0x1800), pkgs[1].Base)
	// beta spans two pages, so gamma lands after it.
	assert.Equal(t, "gamma", pkgs[2].Name)
	assert.Equal(t, uint32(0x2800), pkgs[2].Base)
	assert.Equal(t, "blob", pkgs[2].Source)
	assert.True(t, r.m.Table().Published("gamma"))

	opened, closed := store.Stats()
	assert.Equal(t, 3, opened)
	assert.Equal(t, 3, closed)

	// A freed gap at the start of the region is reused.
	require.NoError(t, r.m.Uninstall("alpha"))
	store.Put("pkgs/delta.bin", r.image(t, 4, 0x40, "delta"))
	require.NoError(t, r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/delta.bin"))
	info, err := r.m.Lookup("delta")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), info.Base)
}

func TestInstallBlobDuplicateName(t *testing.T) {
	r, store := newBlobRig(t)
	store.Put("one/dup.bin", r.image(t, 1, 0x40, "dup"))
	store.Put("two/dup.pkg", r.image(t, 2, 0x80, "dup2"))
	ctx := context.Background()

	require.NoError(t, r.m.Install(ctx, SourceBlob, NoAddress, testHost+"one/dup.bin"))
	err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"two/dup.pkg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDuplicate))

	assert.Equal(t, []string{"dup"}, names(r.m.Packages()))
	opened, _ := store.Stats()
	assert.Equal(t, 1, opened, "duplicate is rejected before downloading")
}

func TestInstallBlobExplicitAddress(t *testing.T) {
	r, store := newBlobRig(t)
	store.Put("pkgs/fixed.bin", r.image(t, 1, 0x40, "fixed"))
	ctx := context.Background()

	err := r.m.Install(ctx, SourceBlob, 0x3100, testHost+"pkgs/fixed.bin")
	assert.True(t, errors.Is(err, types.ErrArgument))

	require.NoError(t, r.m.Install(ctx, SourceBlob, 0x3000, testHost+"pkgs/fixed.bin"))
	info, err := r.m.Lookup("fixed")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3000), info.Base)
}

func TestInstallBlobOverlapNotErased(t *testing.T) {
	r, store := newBlobRig(t)
	first := r.image(t, 1, 0x40, "first")
	store.Put("pkgs/first.bin", first)
	store.Put("pkgs/second.bin", r.image(t, 2, 0x40, "second"))
	ctx := context.Background()

	require.NoError(t, r.m.Install(ctx, SourceBlob, 0x2000, testHost+"pkgs/first.bin"))
	err := r.m.Install(ctx, SourceBlob, 0x2000, testHost+"pkgs/second.bin")
	assert.True(t, errors.Is(err, types.ErrOutOfSpace))

	got, err := r.a.Read(0x2000, len(first))
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestInstallBlobValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("truncated", func(t *testing.T) {
		r, store := newBlobRig(t)
		img := r.image(t, 1, 0x100, "short")
		store.Put("pkgs/short.bin", img[:0xC0])
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/short.bin")
		assert.True(t, errors.Is(err, types.ErrCorrupt))
		assert.Empty(t, r.m.Packages())
	})

	t.Run("checksum", func(t *testing.T) {
		r, store := newBlobRig(t)
		img := r.image(t, 1, 0x100, "bad")
		img[0x100] ^= 0x80
		store.Put("pkgs/bad.bin", img)
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/bad.bin")
		assert.True(t, errors.Is(err, types.ErrCorrupt))
		assert.False(t, r.m.Table().Published("bad"))
	})

	t.Run("transport failure", func(t *testing.T) {
		r, store := newBlobRig(t)
		store.Put("pkgs/flaky.bin", r.image(t, 1, 0x400, "flaky"))
		store.FailAtChunk = 2
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/flaky.bin")
		assert.True(t, errors.Is(err, types.ErrSystem))
		assert.Empty(t, r.m.Packages())
		_, closed := store.Stats()
		assert.Equal(t, 1, closed)
	})

	t.Run("not found", func(t *testing.T) {
		r, _ := newBlobRig(t)
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/missing.bin")
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})

	t.Run("directories", func(t *testing.T) {
		r, _ := newBlobRig(t)
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/v1/a.bin")
		assert.True(t, errors.Is(err, types.ErrNotImplemented))
	})

	t.Run("no extension", func(t *testing.T) {
		r, _ := newBlobRig(t)
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/a")
		assert.True(t, errors.Is(err, types.ErrArgument))
	})

	t.Run("no transport", func(t *testing.T) {
		r := newRig(t)
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/a.bin")
		assert.True(t, errors.Is(err, types.ErrNotSupported))
	})

	t.Run("region full", func(t *testing.T) {
		r, store := newBlobRig(t, WithMaxPackageSize(0x8000))
		store.Put("pkgs/big.bin", r.image(t, 1, 0x40, "big"))
		err := r.m.Install(ctx, SourceBlob, NoAddress, testHost+"pkgs/big.bin")
		assert.True(t, errors.Is(err, types.ErrOutOfSpace))
	})
}
