package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/internal/buf"
)

func TestMemDevice_ProgramRules(t *testing.T) {
	dev := newTestDevice(t)
	const addr = 0x08000010

	require.NoError(t, dev.ProgramDoubleWord(addr, 0x1122334455667788))
	b, err := dev.Read(addr, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), buf.U64LE(b))

	// Programming a non-erased double-word is refused...
	require.ErrorIs(t, dev.ProgramDoubleWord(addr, 0x1), ErrNotErased)
	// ...except for clearing it entirely.
	require.NoError(t, dev.ProgramDoubleWord(addr, 0))
	b, err = dev.Read(addr, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), buf.U64LE(b))

	require.ErrorIs(t, dev.ProgramDoubleWord(addr+4, 0), ErrUnaligned)
	require.ErrorIs(t, dev.ProgramDoubleWord(0x07FFFFF8, 0), ErrOutOfRange)
	require.ErrorIs(t, dev.ProgramDoubleWord(0x08008000, 0), ErrOutOfRange)
}

func TestMemDevice_Erase(t *testing.T) {
	dev := newTestDevice(t)
	require.NoError(t, dev.ProgramDoubleWord(0x08000800, 0))
	require.NoError(t, dev.ProgramDoubleWord(0x08001000, 0))

	require.NoError(t, dev.ErasePages(0, 1, 1))
	b, err := dev.Read(0x08000800, 0x800)
	require.NoError(t, err)
	assert.True(t, buf.IsErased(b, 0xFF))

	b, err = dev.Read(0x08001000, 8)
	require.NoError(t, err)
	assert.False(t, buf.IsErased(b, 0xFF), "neighbouring page untouched")

	require.ErrorIs(t, dev.ErasePages(2, 0, 1), ErrOutOfRange)
	require.ErrorIs(t, dev.ErasePages(0, 7, 2), ErrOutOfRange)
	require.ErrorIs(t, dev.ErasePages(0, 0, 0), ErrOutOfRange)
}

func TestMemDevice_FaultInjection(t *testing.T) {
	dev := newTestDevice(t)
	dev.FailAfter(2)
	require.NoError(t, dev.ProgramDoubleWord(0x08000000, 0))
	require.NoError(t, dev.ProgramDoubleWord(0x08000008, 0))
	require.ErrorIs(t, dev.ProgramDoubleWord(0x08000010, 0), ErrInjected)
	require.ErrorIs(t, dev.ProgramDoubleWord(0x08000018, 0), ErrInjected)

	dev.FailAfter(-1)
	require.NoError(t, dev.ProgramDoubleWord(0x08000010, 0))

	dev.FailErase(1)
	require.ErrorIs(t, dev.ErasePages(0, 0, 1), ErrInjected)
	require.NoError(t, dev.ErasePages(0, 0, 1))

	dev.SetBusy(true)
	require.ErrorIs(t, dev.ErasePages(0, 0, 1), ErrBusy)
	dev.SetBusy(false)

	programs, erases := dev.Counts()
	assert.Equal(t, 3, programs)
	assert.Equal(t, 1, erases)
}

func TestMemDevice_SnapshotLoad(t *testing.T) {
	dev := newTestDevice(t)
	require.NoError(t, dev.ProgramDoubleWord(0x08000000, 0))
	snap := dev.Snapshot()

	other := newTestDevice(t)
	require.NoError(t, other.Load(snap))
	b, err := other.Read(0x08000000, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), buf.U64LE(b))

	require.ErrorIs(t, other.Load(snap[:16]), ErrImageSize)
}
