package registry

import (
	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
)

// bump is an append-only allocator over the buffer region. The bump pointer
// is rebuilt from the node table on every Add: it sits one past the highest
// byte any written node claims, rounded to a double-word.
//
// Blocks are never freed; a deleted entry's bytes become dead space.
type bump struct {
	region flash.Region
	end    uint32 // next free address, absolute
}

func newBump(region flash.Region) *bump {
	return &bump{region: region, end: region.Base}
}

// observe raises the bump pointer past [addr, addr+n). Extents outside the
// region, such as a descriptor that was never fully programmed, are ignored.
func (b *bump) observe(addr, n uint32) {
	if n == 0 || !b.region.Contains(addr) {
		return
	}
	end, ok := buf.AddU32(addr, n)
	if !ok || end-1 > b.region.Last() {
		return
	}
	end = format.AlignDoubleWord(end)
	if end > b.end {
		b.end = end
	}
}

// place lays out a key and a value back to back, each starting on a
// double-word boundary, and returns their addresses and the end of the
// padded block.
func (b *bump) place(keyLen, valLen uint32) (keyAddr, valAddr, end uint32, err error) {
	keyAddr = b.end
	keyEnd, ok := buf.AddU32(keyAddr, keyLen)
	if !ok {
		return 0, 0, 0, types.ErrOutOfSpace
	}
	valAddr = format.AlignDoubleWord(keyEnd)
	if valAddr < keyEnd {
		return 0, 0, 0, types.ErrOutOfSpace
	}
	valEnd, ok := buf.AddU32(valAddr, valLen)
	if !ok {
		return 0, 0, 0, types.ErrOutOfSpace
	}
	end = format.AlignDoubleWord(valEnd)
	if end < valEnd || valEnd-1 > b.region.Last() {
		return 0, 0, 0, types.Errorf(types.ErrKindCapacity,
			"registry buffer full: need [0x%08X, 0x%08X), region %s", keyAddr, valEnd, b.region)
	}
	return keyAddr, valAddr, end, nil
}

// used returns the number of buffer bytes below the bump pointer.
func (b *bump) used() uint32 { return b.end - b.region.Base }
