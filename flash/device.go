package flash

import (
	"fmt"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
)

// Device is the HAL boundary: the primitives the flash controller offers.
//
// Implementations serialize their own operations; callers may share one
// Device between several adapters.
type Device interface {
	Geometry() Geometry

	// ProgramDoubleWord programs the 8 bytes at addr with v (little-endian).
	// addr must be double-word aligned and the target erased, except that a
	// value of zero may always be written.
	ProgramDoubleWord(addr uint32, v uint64) error

	// ErasePages erases count pages of bank starting at firstPage.
	ErasePages(bank, firstPage, count int) error

	// Read returns n bytes at addr. The slice is a view of flash and must not
	// be modified.
	Read(addr uint32, n int) ([]byte, error)
}

// nor implements the NOR semantics shared by the RAM and file backed devices
// over a byte image. Callers hold the device lock.
type nor struct {
	geo Geometry
	mem []byte
}

func (n *nor) offset(addr uint32, size int) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrOutOfRange, size)
	}
	if addr < n.geo.Base {
		return 0, fmt.Errorf("%w: 0x%08X below base", ErrOutOfRange, addr)
	}
	off := int(addr - n.geo.Base)
	if _, ok := buf.Slice(n.mem, off, size); !ok {
		return 0, fmt.Errorf("%w: 0x%08X+%d", ErrOutOfRange, addr, size)
	}
	return off, nil
}

func (n *nor) program(addr uint32, v uint64) (int, error) {
	if !format.IsDoubleWordAligned(addr) {
		return 0, fmt.Errorf("%w: 0x%08X", ErrUnaligned, addr)
	}
	off, err := n.offset(addr, format.DoubleWordSize)
	if err != nil {
		return 0, err
	}
	cur := buf.U64LE(n.mem[off:])
	if cur != format.ErasedDoubleWord && v != format.FlagProgrammed {
		return 0, fmt.Errorf("%w: 0x%08X holds 0x%016X", ErrNotErased, addr, cur)
	}
	buf.PutU64(n.mem, off, cur&v)
	return off, nil
}

func (n *nor) erase(bank, firstPage, count int) (int, int, error) {
	if bank < 0 || bank >= n.geo.Banks {
		return 0, 0, fmt.Errorf("%w: bank %d", ErrOutOfRange, bank)
	}
	if firstPage < 0 || count <= 0 || firstPage+count > n.geo.PagesPerBank() {
		return 0, 0, fmt.Errorf("%w: pages %d+%d in bank %d", ErrOutOfRange, firstPage, count, bank)
	}
	off := int(n.geo.PageAddr(bank, firstPage) - n.geo.Base)
	size := count * int(n.geo.PageSize)
	fill(n.mem[off:off+size], format.ErasedByte)
	return off, size, nil
}

func (n *nor) read(addr uint32, size int) ([]byte, error) {
	off, err := n.offset(addr, size)
	if err != nil {
		return nil, err
	}
	return n.mem[off : off+size : off+size], nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
