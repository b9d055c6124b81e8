package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

const (
	testBase   = 0x08000000
	infoBase   = testBase
	infoSize   = 8 * format.NodeSize
	bufferBase = testBase + 0x800
	bufferSize = 0x100
)

type testRig struct {
	dev *flash.MemDevice
	a   *flash.Adapter
	reg *Registry
}

func newTestRegistry(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	dev, err := flash.NewMemDevice(flash.Geometry{
		Base: testBase, BankSize: 0x4000, Banks: 2, PageSize: 0x800, WordSize: 8,
	})
	require.NoError(t, err)
	a := flash.NewAdapter(dev)
	reg, err := New(a,
		flash.Region{Base: infoBase, Size: infoSize},
		flash.Region{Base: bufferBase, Size: bufferSize},
		opts...)
	require.NoError(t, err)
	require.NoError(t, reg.Init())
	return &testRig{dev: dev, a: a, reg: reg}
}

// reopen builds a second registry over the same flash, as after a reset.
func (r *testRig) reopen(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(flash.NewAdapter(r.dev),
		flash.Region{Base: infoBase, Size: infoSize},
		flash.Region{Base: bufferBase, Size: bufferSize})
	require.NoError(t, err)
	require.NoError(t, reg.Init())
	return reg
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) OnRegistry(op string, err error) {
	o.ops = append(o.ops, fmt.Sprintf("%s:%v", op, err == nil))
}

func TestRegistry_AddGet(t *testing.T) {
	rig := newTestRegistry(t)

	require.NoError(t, rig.reg.Add([]byte("wifi/ssid"), []byte("home")))
	require.NoError(t, rig.reg.Add([]byte("wifi/pass"), []byte("secret-passphrase")))

	v, err := rig.reg.Get([]byte("wifi/ssid"))
	require.NoError(t, err)
	assert.Equal(t, []byte("home"), v)

	v, err = rig.reg.Get([]byte("wifi/pass"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-passphrase"), v)

	_, err = rig.reg.Get([]byte("missing"))
	require.ErrorIs(t, err, types.ErrNotFound)

	v, err = rig.reopen(t).Get([]byte("wifi/pass"))
	require.NoError(t, err, "state lives on flash")
	assert.Equal(t, []byte("secret-passphrase"), v)
}

func TestRegistry_Layout(t *testing.T) {
	rig := newTestRegistry(t)
	require.NoError(t, rig.reg.Add([]byte("abc"), []byte("12345")))
	require.NoError(t, rig.reg.Add([]byte("k"), []byte("v")))

	n0, err := rig.reg.readNode(0)
	require.NoError(t, err)
	assert.True(t, n0.ready)
	assert.False(t, n0.deleted)
	assert.Equal(t, uint32(bufferBase), n0.keyAddr)
	assert.Equal(t, uint32(3), n0.keyLen)
	assert.Equal(t, uint32(bufferBase+8), n0.valAddr)
	assert.Equal(t, uint32(5), n0.valLen)

	n1, err := rig.reg.readNode(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(bufferBase+16), n1.keyAddr, "bump past the previous value, aligned")
	assert.Equal(t, uint32(bufferBase+24), n1.valAddr)

	raw, err := rig.a.Read(bufferBase, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, raw[:8])
	assert.Equal(t, []byte{'1', '2', '3', '4', '5', 0xFF, 0xFF, 0xFF}, raw[8:])
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	rig := newTestRegistry(t)
	require.NoError(t, rig.reg.Add([]byte("k"), []byte("v")))
	require.ErrorIs(t, rig.reg.Add([]byte("k"), []byte("v2")), types.ErrDuplicate)

	v, err := rig.reg.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	st, err := rig.reg.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)
}

func TestRegistry_TombstoneInvisible(t *testing.T) {
	rig := newTestRegistry(t)
	require.NoError(t, rig.reg.Add([]byte("k"), []byte("v")))
	require.NoError(t, rig.reg.Delete([]byte("k")))

	_, err := rig.reg.Get([]byte("k"))
	require.ErrorIs(t, err, types.ErrNotFound)
	require.ErrorIs(t, rig.reg.Delete([]byte("k")), types.ErrNotFound)

	require.NoError(t, rig.reg.Add([]byte("k"), []byte("v3")))
	v, err := rig.reg.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), v)

	old, err := rig.reg.readNode(0)
	require.NoError(t, err)
	fresh, err := rig.reg.readNode(1)
	require.NoError(t, err)
	assert.True(t, old.deleted)
	assert.True(t, fresh.ready)
	assert.False(t, fresh.deleted)
	assert.Greater(t, fresh.valAddr, old.valAddr, "old bytes are not reused")

	oldVal, err := rig.a.Read(old.valAddr, int(old.valLen))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), oldVal, "tombstoned bytes remain on flash")

	st, err := rig.reg.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Capacity: 8, Used: 2, Live: 1, Tombstoned: 1, BufferUsed: 32, BufferTotal: bufferSize}, st)
}

func TestRegistry_CrashBeforeReadyFlag(t *testing.T) {
	rig := newTestRegistry(t)

	// Descriptor (2 double-words), key (1) and value (1) land; ready does not.
	rig.dev.FailAfter(4)
	err := rig.reg.Add([]byte("key"), []byte("value"))
	require.ErrorIs(t, err, types.ErrSystem)
	rig.dev.FailAfter(-1)

	n, err := rig.reg.readNode(0)
	require.NoError(t, err)
	assert.False(t, n.ready)
	assert.Equal(t, uint32(5), n.valLen, "payload and descriptor were written")

	for _, reg := range []*Registry{rig.reg, rig.reopen(t)} {
		_, err = reg.Get([]byte("key"))
		require.ErrorIs(t, err, types.ErrNotFound)
		keys, err := reg.Keys()
		require.NoError(t, err)
		assert.Empty(t, keys)
	}

	// The next add seals the interrupted node and writes past its bytes.
	require.NoError(t, rig.reg.Add([]byte("key"), []byte("fresh")))
	v, err := rig.reg.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), v)

	sealed, err := rig.reg.readNode(0)
	require.NoError(t, err)
	assert.True(t, sealed.ready)
	assert.True(t, sealed.deleted)

	fresh, err := rig.reg.readNode(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(bufferBase+16), fresh.keyAddr)
}

func TestRegistry_CrashMidDescriptor(t *testing.T) {
	rig := newTestRegistry(t)

	rig.dev.FailAfter(1)
	require.Error(t, rig.reg.Add([]byte("key"), []byte("value")))
	rig.dev.FailAfter(-1)

	require.NoError(t, rig.reg.Add([]byte("other"), []byte("x")))
	keys, err := rig.reg.Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("other")}, keys)

	st, err := rig.reg.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Used)
	assert.Equal(t, 1, st.Tombstoned)
}

func TestRegistry_OutOfSpace(t *testing.T) {
	t.Run("node table", func(t *testing.T) {
		rig := newTestRegistry(t)
		for i := range 8 {
			require.NoError(t, rig.reg.Add([]byte{byte('a' + i)}, []byte{1}))
		}
		require.ErrorIs(t, rig.reg.Add([]byte("z"), []byte{1}), types.ErrOutOfSpace)
	})

	t.Run("buffer", func(t *testing.T) {
		rig := newTestRegistry(t)
		require.NoError(t, rig.reg.Add([]byte("big"), make([]byte, bufferSize-24)))
		require.ErrorIs(t, rig.reg.Add([]byte("more"), make([]byte, 9)), types.ErrOutOfSpace)
		require.NoError(t, rig.reg.Add([]byte("fits"), make([]byte, 8)), "exactly fills the buffer")
		require.ErrorIs(t, rig.reg.Add([]byte("x"), []byte{1}), types.ErrOutOfSpace)
	})
}

func TestRegistry_DestinationNotErased(t *testing.T) {
	rig := newTestRegistry(t)
	require.NoError(t, rig.dev.ProgramDoubleWord(bufferBase+8, 0))

	err := rig.reg.Add([]byte("k"), []byte("value"))
	require.ErrorIs(t, err, types.ErrCorrupt)

	n, err := rig.reg.readNode(0)
	require.NoError(t, err)
	assert.True(t, n.erased, "nothing written on a corrupt destination")
}

func TestRegistry_Arguments(t *testing.T) {
	rig := newTestRegistry(t)
	require.ErrorIs(t, rig.reg.Add(nil, []byte("v")), types.ErrArgument)
	require.ErrorIs(t, rig.reg.Add([]byte("k"), nil), types.ErrArgument)
	_, err := rig.reg.Get(nil)
	require.ErrorIs(t, err, types.ErrArgument)
	require.ErrorIs(t, rig.reg.Delete(nil), types.ErrArgument)
}

func TestRegistry_Lifecycle(t *testing.T) {
	rig := newTestRegistry(t)
	require.ErrorIs(t, rig.reg.Init(), types.ErrBusy)
	require.NoError(t, rig.reg.Deinit())
	require.ErrorIs(t, rig.reg.Deinit(), types.ErrArgument)

	_, err := rig.reg.Get([]byte("k"))
	require.ErrorIs(t, err, types.ErrArgument)
	require.ErrorIs(t, rig.reg.Add([]byte("k"), []byte("v")), types.ErrArgument)
}

func TestNew_RegionValidation(t *testing.T) {
	dev, err := flash.NewMemDevice(flash.Geometry{
		Base: testBase, BankSize: 0x4000, Banks: 2, PageSize: 0x800, WordSize: 8,
	})
	require.NoError(t, err)
	a := flash.NewAdapter(dev)

	tests := []struct {
		name         string
		info, buffer flash.Region
	}{
		{"overlap", flash.Region{Base: testBase, Size: 0x100}, flash.Region{Base: testBase + 0xF8, Size: 0x100}},
		{"outside", flash.Region{Base: testBase, Size: 0x100}, flash.Region{Base: testBase + 0x7F00, Size: 0x200}},
		{"unaligned", flash.Region{Base: testBase + 4, Size: 0x100}, flash.Region{Base: testBase + 0x800, Size: 0x100}},
		{"too small", flash.Region{Base: testBase, Size: 0x10}, flash.Region{Base: testBase + 0x800, Size: 0x100}},
		{"empty", flash.Region{Base: testBase}, flash.Region{Base: testBase + 0x800, Size: 0x100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(a, tt.info, tt.buffer)
			require.ErrorIs(t, err, types.ErrArgument)
		})
	}
}

func TestRegistry_Observer(t *testing.T) {
	obs := &recordingObserver{}
	rig := newTestRegistry(t, WithObserver(obs))
	require.NoError(t, rig.reg.Add([]byte("k"), []byte("v")))
	require.Error(t, rig.reg.Add([]byte("k"), []byte("v")))
	require.NoError(t, rig.reg.Delete([]byte("k")))
	assert.Equal(t, []string{"add:true", "add:false", "delete:true"}, obs.ops)
}

func TestRegistry_Interface(t *testing.T) {
	rig := newTestRegistry(t)
	tbl := ipc.NewTable()
	require.NoError(t, tbl.Publish(rig.reg.Interface()))
	ctx := context.Background()

	call := func(cmd string, in any) ([]byte, error) {
		payload, err := ipc.Marshal(in)
		require.NoError(t, err)
		return tbl.Call(ctx, InterfaceName, cmd, payload)
	}

	_, err := call("add", AddArgs{Key: "mode", Value: "auto"})
	require.NoError(t, err)

	out, err := call("get", GetArgs{Key: "mode"})
	require.NoError(t, err)
	var res GetResult
	require.NoError(t, ipc.Unmarshal(out, &res))
	assert.Equal(t, "auto", res.Value)

	_, err = call("add", AddArgs{Key: "mode", Value: "manual"})
	require.ErrorIs(t, err, types.ErrDuplicate)

	_, err = call("delete", DeleteArgs{Key: "mode"})
	require.NoError(t, err)
	_, err = call("get", GetArgs{Key: "mode"})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestBump(t *testing.T) {
	region := flash.Region{Base: 0x100, Size: 0x40}
	b := newBump(region)
	assert.Equal(t, uint32(0x100), b.end)

	b.observe(0x100, 3)
	assert.Equal(t, uint32(0x108), b.end)
	b.observe(0xFFFFFFFF, 0xFFFFFFFF)
	b.observe(0x120, 0x100)
	assert.Equal(t, uint32(0x108), b.end, "descriptors outside the region are ignored")

	k, v, end, err := b.place(1, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x108), k)
	assert.Equal(t, uint32(0x110), v)
	assert.Equal(t, uint32(0x120), end)

	_, _, _, err = b.place(8, 0x31)
	require.ErrorIs(t, err, types.ErrOutOfSpace)
	assert.Equal(t, uint32(8), b.used())
}
