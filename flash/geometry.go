package flash

import (
	"fmt"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
)

// Geometry describes the physical layout of the flash.
type Geometry struct {
	Base     uint32 // address of the first byte of bank 0
	BankSize uint32
	Banks    int
	PageSize uint32
	WordSize uint32 // program unit, always a double-word on this part
}

// DefaultGeometry returns the STM32L475VG layout: 1 MiB in two banks of 2 KiB
// pages at 0x08000000.
func DefaultGeometry() Geometry {
	return Geometry{
		Base:     format.DefaultFlashBase,
		BankSize: format.DefaultBankSize,
		Banks:    format.DefaultBanks,
		PageSize: format.DefaultPageSize,
		WordSize: format.DoubleWordSize,
	}
}

// Validate checks that the geometry is self-consistent.
func (g Geometry) Validate() error {
	if g.Banks <= 0 || g.BankSize == 0 || g.PageSize == 0 {
		return fmt.Errorf("flash: empty geometry %+v", g)
	}
	if g.PageSize&(g.PageSize-1) != 0 {
		return fmt.Errorf("flash: page size 0x%X not a power of two", g.PageSize)
	}
	if g.WordSize != format.DoubleWordSize {
		return fmt.Errorf("flash: program unit %d unsupported", g.WordSize)
	}
	if g.BankSize%g.PageSize != 0 {
		return fmt.Errorf("flash: bank size 0x%X not a multiple of page size 0x%X", g.BankSize, g.PageSize)
	}
	if !format.IsPageAligned(g.Base, g.PageSize) {
		return fmt.Errorf("flash: base 0x%08X not page aligned", g.Base)
	}
	total, ok := buf.MulU32(uint32(g.Banks), g.BankSize)
	if !ok {
		return fmt.Errorf("flash: size overflows")
	}
	if _, ok := buf.AddU32(g.Base, total-1); !ok {
		return fmt.Errorf("flash: 0x%08X + 0x%X overflows the address space", g.Base, total)
	}
	return nil
}

// Size returns the total flash size in bytes.
func (g Geometry) Size() uint32 {
	return uint32(g.Banks) * g.BankSize
}

// PagesPerBank returns the number of erase pages in one bank.
func (g Geometry) PagesPerBank() int {
	return int(g.BankSize / g.PageSize)
}

// Region returns the whole flash as a region.
func (g Geometry) Region() Region {
	return Region{Base: g.Base, Size: g.Size()}
}

// Contains reports whether r lies entirely inside the flash.
func (g Geometry) Contains(r Region) bool {
	return g.Region().ContainsRegion(r)
}

// Locate resolves the bank and page-within-bank holding addr.
func (g Geometry) Locate(addr uint32) (bank, page int, err error) {
	if !g.Region().Contains(addr) {
		return 0, 0, fmt.Errorf("%w: 0x%08X", ErrOutOfRange, addr)
	}
	off := addr - g.Base
	bank = int(off / g.BankSize)
	page = int((off % g.BankSize) / g.PageSize)
	return bank, page, nil
}

// PageAddr returns the address of the first byte of page in bank.
func (g Geometry) PageAddr(bank, page int) uint32 {
	return g.Base + uint32(bank)*g.BankSize + uint32(page)*g.PageSize
}

func (g Geometry) String() string {
	return fmt.Sprintf("base=0x%08X banks=%d bank=0x%X page=0x%X", g.Base, g.Banks, g.BankSize, g.PageSize)
}
