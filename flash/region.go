package flash

import (
	"fmt"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/pkg/types"
)

// Region is an extent of flash addresses [Base, Base+Size).
//
// All comparisons go through Last, the inclusive last byte, so that a region
// ending at the top of the 32-bit space never wraps.
type Region struct {
	Base uint32
	Size uint32
}

// NewRegion builds a region, rejecting empty extents and extents that wrap
// past the end of the address space.
func NewRegion(base, size uint32) (Region, error) {
	if size == 0 {
		return Region{}, types.Errorf(types.ErrKindArgument, "region at 0x%08X is empty", base)
	}
	if _, ok := buf.AddU32(base, size-1); !ok {
		return Region{}, types.Errorf(types.ErrKindArgument, "region 0x%08X+0x%X overflows", base, size)
	}
	return Region{Base: base, Size: size}, nil
}

// End returns the exclusive end address. ok is false when the region ends
// exactly at 2^32.
func (r Region) End() (uint32, bool) {
	return buf.AddU32(r.Base, r.Size)
}

// Last returns the inclusive last address. An empty region reports Base.
func (r Region) Last() uint32 {
	if r.Size == 0 {
		return r.Base
	}
	return r.Base + r.Size - 1
}

// Empty reports whether the region has no bytes.
func (r Region) Empty() bool { return r.Size == 0 }

// Contains reports whether addr lies in the region.
func (r Region) Contains(addr uint32) bool {
	return r.Size != 0 && addr >= r.Base && addr <= r.Last()
}

// ContainsRegion reports whether o lies entirely inside r.
func (r Region) ContainsRegion(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return o.Base >= r.Base && o.Last() <= r.Last()
}

// Overlaps reports whether r and o share at least one byte. Both ends are
// compared inclusively on last-byte addresses, so extents that merely touch
// ([a, b) and [b, c)) do not overlap.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Base <= o.Last() && r.Last() >= o.Base
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%08X, 0x%08X]", r.Base, r.Last())
}
