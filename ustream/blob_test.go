package ustream

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/pkg/types"
)

type chunkCounter struct {
	chunks, bytes, timeouts int
}

func (c *chunkCounter) OnChunk(n int) { c.chunks++; c.bytes += n }
func (c *chunkCounter) OnTimeout()    { c.timeouts++ }

func newStore(t *testing.T, chunk int, data []byte) (*blob.MemStore, blob.Endpoint) {
	t.Helper()
	store := blob.NewMemStore()
	store.ChunkSize = chunk
	store.Put("pkgs/demo.bin", data)
	ep, err := blob.ParseURL("mem://local/pkgs/demo.bin?sig=x")
	require.NoError(t, err)
	return store, ep
}

func TestNewBlob_ReadAll(t *testing.T) {
	for _, eofWithData := range []bool{false, true} {
		data := testData(3000)
		store, ep := newStore(t, 700, data)
		store.EOFWithData = eofWithData
		obs := &chunkCounter{}

		s, err := NewBlob(t.Context(), store.Factory()(), ep, WithObserver(obs))
		require.NoError(t, err)
		assert.Equal(t, int64(3000), s.ContentLength())
		assert.Equal(t, int64(0x1000), s.Length(), "rounded up to a page")
		assert.NotEmpty(t, s.SessionID())

		var out []byte
		for {
			p := make([]byte, 256)
			n, st, err := s.Read(p)
			require.NoError(t, err)
			out = append(out, p[:n]...)
			if st == Done {
				break
			}
		}
		assert.True(t, bytes.Equal(data, out), "eofWithData=%v", eofWithData)
		assert.Equal(t, 3000, obs.bytes)

		rem, err := s.Remaining()
		require.NoError(t, err)
		assert.Equal(t, int64(0x1000-3000), rem)

		s.Dispose()
		opened, closed := store.Stats()
		assert.Equal(t, 1, opened)
		assert.Equal(t, 1, closed)
	}
}

func TestNewBlob_DoneCarriesFinalBytes(t *testing.T) {
	data := testData(100)
	store, ep := newStore(t, 64, data)
	store.EOFWithData = true

	s, err := NewBlob(t.Context(), store.Factory()(), ep)
	require.NoError(t, err)
	defer s.Dispose()

	p := make([]byte, 1000)
	n, st, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, Done, st)
	assert.Equal(t, data, p[:n])
}

func TestNewBlob_ForwardOnly(t *testing.T) {
	store, ep := newStore(t, 64, testData(200))
	s, err := NewBlob(t.Context(), store.Factory()(), ep)
	require.NoError(t, err)
	defer s.Dispose()

	_, _, err = s.Read(make([]byte, 50))
	require.NoError(t, err)
	require.ErrorIs(t, s.SetPosition(10), types.ErrNotSupported)
	require.NoError(t, s.SetPosition(50), "staying put is allowed")
	require.ErrorIs(t, s.SetPosition(0x900), types.ErrArgument)

	c, err := s.Clone(0)
	require.NoError(t, err)
	_, _, err = s.Read(make([]byte, 10))
	require.NoError(t, err)
	_, _, err = c.Read(make([]byte, 10))
	require.ErrorIs(t, err, types.ErrNotSupported, "clone lags behind the shared source")
	c.Dispose()
}

func TestNewBlob_Timeout(t *testing.T) {
	store, ep := newStore(t, 64, testData(200))
	store.TimeoutAtChunk = 2
	obs := &chunkCounter{}

	s, err := NewBlob(t.Context(), store.Factory()(), ep, WithObserver(obs), WithChunkTimeout(time.Millisecond))
	require.NoError(t, err)
	defer s.Dispose()

	n, _, err := s.Read(make([]byte, 200))
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, 128, n, "bytes copied before the stall are reported")
	assert.Equal(t, 1, obs.timeouts)
}

func TestNewBlob_SetupFailureClosesClient(t *testing.T) {
	store, ep := newStore(t, 64, testData(200))
	store.FailAtChunk = 0

	_, err := NewBlob(t.Context(), store.Factory()(), ep)
	require.ErrorIs(t, err, types.ErrSystem)
	opened, closed := store.Stats()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	missing, err := blob.ParseURL("mem://local/pkgs/missing.bin")
	require.NoError(t, err)
	_, err = NewBlob(t.Context(), store.Factory()(), missing)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestNewBlob_CustomGranularity(t *testing.T) {
	store, ep := newStore(t, 64, testData(10))
	s, err := NewBlob(t.Context(), store.Factory()(), ep, WithLengthGranularity(8))
	require.NoError(t, err)
	defer s.Dispose()
	assert.Equal(t, int64(16), s.Length())
}

func TestNewBlob_DisposeOrder(t *testing.T) {
	store, ep := newStore(t, 64, testData(10))
	var calls []string
	s, err := NewBlob(t.Context(), store.Factory()(), ep,
		WithDataRelease(func() { calls = append(calls, "data") }),
		WithControlBlockRelease(func() { calls = append(calls, "cb") }))
	require.NoError(t, err)

	c, err := s.Clone(0)
	require.NoError(t, err)
	s.Dispose()
	_, closed := store.Stats()
	assert.Zero(t, closed)

	c.Dispose()
	_, closed = store.Stats()
	assert.Equal(t, 1, closed)
	assert.Equal(t, []string{"data", "cb"}, calls)
}
