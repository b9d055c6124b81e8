package ustream

import (
	"bytes"
	"io"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/pkg/types"
)

func testData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + 7)
	}
	return b
}

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, types.ErrArgument)
}

func TestRead_Exactness(t *testing.T) {
	data := testData(1000)
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 50 {
		s, err := New(data)
		require.NoError(t, err)

		var out []byte
		for {
			p := make([]byte, 1+rng.IntN(97))
			n, st, err := s.Read(p)
			require.NoError(t, err)
			out = append(out, p[:n]...)
			if st == Done {
				require.NotZero(t, n, "round %d: Done must come with the final bytes", round)
				break
			}
			require.Equal(t, len(p), n, "a Continue read fills the buffer")
		}
		require.True(t, bytes.Equal(data, out), "round %d", round)

		n, st, err := s.Read(make([]byte, 8))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, Done, st)
		s.Dispose()
	}
}

func TestRead_ExactBufferSize(t *testing.T) {
	s, err := New(testData(16))
	require.NoError(t, err)
	defer s.Dispose()

	n, st, err := s.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, Done, st)
}

func TestPositionAndRemaining(t *testing.T) {
	s, err := New(testData(100))
	require.NoError(t, err)
	defer s.Dispose()

	_, _, err = s.Read(make([]byte, 30))
	require.NoError(t, err)

	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(30), pos)
	rem, err := s.Remaining()
	require.NoError(t, err)
	assert.Equal(t, int64(70), rem)

	require.NoError(t, s.SetPosition(10))
	p := make([]byte, 1)
	_, _, err = s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, testData(100)[10], p[0])

	require.ErrorIs(t, s.SetPosition(101), types.ErrArgument)
	require.ErrorIs(t, s.SetPosition(-1), types.ErrArgument)
	require.NoError(t, s.SetPosition(100))
	n, st, err := s.Read(p)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, Done, st)

	require.NoError(t, s.Reset())
	pos, err = s.Position()
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestRelease(t *testing.T) {
	s, err := New(testData(100))
	require.NoError(t, err)
	defer s.Dispose()

	require.ErrorIs(t, s.Release(0), types.ErrArgument, "nothing read yet")

	_, _, err = s.Read(make([]byte, 20))
	require.NoError(t, err)
	require.ErrorIs(t, s.Release(20), types.ErrArgument, "current position is not released")
	require.NoError(t, s.Release(9))
	require.ErrorIs(t, s.Release(9), types.ErrArgument, "already released")

	require.ErrorIs(t, s.SetPosition(9), types.ErrArgument)
	require.NoError(t, s.SetPosition(10))
	require.NoError(t, s.Reset())
	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
}

func TestClone_Independence(t *testing.T) {
	data := testData(64)
	s, err := New(data)
	require.NoError(t, err)

	_, _, err = s.Read(make([]byte, 8))
	require.NoError(t, err)

	c, err := s.Clone(1000)
	require.NoError(t, err)
	pos, err := c.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pos)

	p := make([]byte, 16)
	_, _, err = c.Read(p)
	require.NoError(t, err)
	assert.Equal(t, data[8:24], p)

	pos, err = s.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos, "advancing the clone leaves the original alone")
	pos, err = c.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(1016), pos)

	require.ErrorIs(t, c.SetPosition(999), types.ErrArgument, "clone starts at its creation point")

	s.Dispose()
	_, _, err = c.Read(p)
	require.NoError(t, err, "the clone keeps the data alive")
	assert.Equal(t, data[24:40], p)
	c.Dispose()
}

func TestClone_OffsetOverflow(t *testing.T) {
	s, err := New(testData(100))
	require.NoError(t, err)
	defer s.Dispose()

	_, err = s.Clone(math.MaxUint32 - 99)
	require.ErrorIs(t, err, types.ErrArgument)
	c, err := s.Clone(math.MaxUint32 - 100)
	require.NoError(t, err)
	c.Dispose()
	_, err = s.Clone(-1)
	require.ErrorIs(t, err, types.ErrArgument)
}

func TestDispose_ReleaseOrder(t *testing.T) {
	var calls []string
	s, err := New(testData(10),
		WithDataRelease(func() { calls = append(calls, "data") }),
		WithControlBlockRelease(func() { calls = append(calls, "cb") }))
	require.NoError(t, err)

	c1, err := s.Clone(0)
	require.NoError(t, err)
	c2, err := c1.Clone(5)
	require.NoError(t, err)

	s.Dispose()
	s.Dispose()
	c1.Dispose()
	assert.Empty(t, calls, "a live clone keeps the control block")

	c2.Dispose()
	assert.Equal(t, []string{"data", "cb"}, calls)

	_, _, err = s.Read(make([]byte, 1))
	require.ErrorIs(t, err, types.ErrArgument)
	_, err = c2.Position()
	require.ErrorIs(t, err, types.ErrArgument)
	_, err = c2.Clone(0)
	require.ErrorIs(t, err, types.ErrArgument)
	require.ErrorIs(t, c2.Release(0), types.ErrArgument)
}

func TestRead_EmptyDestination(t *testing.T) {
	s, err := New(testData(10))
	require.NoError(t, err)
	defer s.Dispose()
	_, _, err = s.Read(nil)
	require.ErrorIs(t, err, types.ErrArgument)
}

func TestReader(t *testing.T) {
	data := testData(777)
	s, err := New(data)
	require.NoError(t, err)
	defer s.Dispose()

	got, err := io.ReadAll(s.Reader(t.Context()))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDrain(t *testing.T) {
	data := testData(100)
	s, err := New(data)
	require.NoError(t, err)
	defer s.Dispose()

	var out []byte
	var calls int
	n, err := s.Drain(t.Context(), 32, func(p []byte) error {
		calls++
		out = append(out, p...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, 4, calls)
	assert.Equal(t, data, out)

	_, err = s.Drain(t.Context(), 0, nil)
	require.ErrorIs(t, err, types.ErrArgument)
}
