package flash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/pkg/types"
)

const testBase = 0x08000000

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestAdapter_WriteDisarmedPadsImmediately(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)

	require.NoError(t, a.Write(testBase, seq(20)))
	assert.Zero(t, a.Pending())

	got, err := a.Read(testBase, 24)
	require.NoError(t, err)
	assert.Equal(t, seq(20), got[:20])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, got[20:])
}

func TestAdapter_WriteArmedBuffersRemainder(t *testing.T) {
	dev := newTestDevice(t)
	obs := &countingObserver{}
	a := NewAdapter(dev, WithObserver(obs))
	payload := seq(13)

	require.NoError(t, a.Erase(testBase, uint32(len(payload))))
	require.NoError(t, a.Write(testBase, payload[:5]))
	assert.Equal(t, 5, a.Pending())
	programs, _ := dev.Counts()
	assert.Zero(t, programs, "sub double-word remainder stays buffered")

	require.NoError(t, a.Write(testBase+5, payload[5:]))
	assert.Zero(t, a.Pending())

	got, err := a.Read(testBase, 16)
	require.NoError(t, err)
	assert.Equal(t, payload, got[:13])
	assert.True(t, buf.IsErased(got[13:], 0xFF))
	assert.Equal(t, 16, obs.programs)
	assert.Equal(t, 1, obs.erases)
}

func TestAdapter_ManySmallWrites(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)
	payload := seq(100)

	require.NoError(t, a.Erase(testBase, uint32(len(payload))))
	addr := uint32(testBase)
	for off := 0; off < len(payload); {
		n := min(3, len(payload)-off)
		require.NoError(t, a.Write(addr, payload[off:off+n]))
		addr += uint32(n)
		off += n
	}
	got, err := a.Read(testBase, 104)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got[:100]))
	assert.True(t, buf.IsErased(got[100:], 0xFF))
}

func TestAdapter_FlushProgramsRemainder(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)

	require.NoError(t, a.Erase(testBase, 0x800))
	require.NoError(t, a.Write(testBase, seq(3)))
	assert.Equal(t, 3, a.Pending())

	require.NoError(t, a.Flush())
	assert.Zero(t, a.Pending())
	got, err := a.Read(testBase, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, got)

	// Disarmed after flush: the next write pads right away.
	require.NoError(t, a.Write(testBase+8, seq(1)))
	assert.Zero(t, a.Pending())
}

func TestAdapter_WriteArgumentErrors(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)

	err := a.Write(testBase+4, seq(8))
	require.ErrorIs(t, err, types.ErrArgument)
	require.ErrorIs(t, err, ErrUnaligned)

	require.NoError(t, a.Erase(testBase, 64))
	require.NoError(t, a.Write(testBase, seq(5)))
	require.ErrorIs(t, a.Write(testBase+8, seq(5)), types.ErrArgument, "gap after buffered bytes")
	require.ErrorIs(t, a.Write(testBase+4, seq(5)), types.ErrArgument, "overlap with buffered bytes")
	require.NoError(t, a.Write(testBase+5, seq(3)))

	require.ErrorIs(t, a.Write(0x08007FF8, seq(16)), types.ErrArgument)
	require.NoError(t, a.Write(testBase, nil))
}

func TestAdapter_WriteFailureNotRetried(t *testing.T) {
	dev := newTestDevice(t)
	obs := &countingObserver{}
	a := NewAdapter(dev, WithObserver(obs))

	dev.FailAfter(1)
	err := a.Write(testBase, seq(16))
	require.ErrorIs(t, err, types.ErrSystem)
	require.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, []string{"program"}, obs.errs)
	assert.Zero(t, a.Pending())

	programs, _ := dev.Counts()
	assert.Equal(t, 1, programs)

	dev.FailAfter(-1)
	require.ErrorIs(t, a.Write(testBase, seq(8)), ErrNotErased, "first double-word already programmed")
}

func TestAdapter_EraseRetriesOnce(t *testing.T) {
	dev := newTestDevice(t)
	obs := &countingObserver{}
	a := NewAdapter(dev, WithObserver(obs))

	dev.FailErase(1)
	require.NoError(t, a.Erase(testBase, 0x10))
	assert.Empty(t, obs.errs)

	dev.FailErase(2)
	err := a.Erase(testBase, 0x10)
	require.ErrorIs(t, err, types.ErrSystem)
	assert.Equal(t, []string{"erase"}, obs.errs)
}

func TestAdapter_EraseSplitsBanks(t *testing.T) {
	dev := newTestDevice(t)
	obs := &countingObserver{}
	a := NewAdapter(dev, WithObserver(obs))

	for _, addr := range []uint32{0x08003800, 0x08004000, 0x08004800} {
		require.NoError(t, dev.ProgramDoubleWord(addr, 0))
	}

	// Last page of bank 0 and first page of bank 1.
	require.NoError(t, a.Erase(0x08003C00, 0x800))
	assert.Equal(t, 2, obs.erases)

	for _, addr := range []uint32{0x08003800, 0x08004000} {
		b, err := a.Read(addr, 8)
		require.NoError(t, err)
		assert.True(t, buf.IsErased(b, 0xFF), "0x%08X", addr)
	}
	b, err := a.Read(0x08004800, 8)
	require.NoError(t, err)
	assert.False(t, buf.IsErased(b, 0xFF), "page outside the range survives")
}

func TestAdapter_EraseErrors(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)

	require.ErrorIs(t, a.Erase(testBase, 0), types.ErrArgument)
	require.ErrorIs(t, a.Erase(0x08007800, 0x1000), types.ErrArgument)
	require.ErrorIs(t, a.Erase(0x07FFF800, 0x800), types.ErrArgument)

	dev.SetBusy(true)
	require.ErrorIs(t, a.Erase(testBase, 8), types.ErrBusy)
}

func TestAdapter_EraseDiscardsPending(t *testing.T) {
	dev := newTestDevice(t)
	a := NewAdapter(dev)

	require.NoError(t, a.Erase(testBase, 64))
	require.NoError(t, a.Write(testBase, seq(5)))
	require.NoError(t, a.Erase(testBase+0x800, 64))
	assert.Zero(t, a.Pending())
	require.NoError(t, a.Write(testBase+0x800, seq(8)))
}
