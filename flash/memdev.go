package flash

import (
	"fmt"
	"sync"

	"github.com/joshuapare/flashdm/internal/format"
)

// MemDevice is a RAM-backed Device. It starts fully erased.
//
// Fault injection lets tests cut power in the middle of a write sequence:
// after FailAfter(n), the next n programs succeed and every later program
// fails with ErrInjected until FailAfter(-1).
type MemDevice struct {
	mu sync.Mutex
	nor

	programsLeft int // -1 when program faults are disabled
	eraseFaults  int
	busy         bool

	programs int
	erases   int
}

// NewMemDevice allocates an erased flash image for g.
func NewMemDevice(g Geometry) (*MemDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	mem := make([]byte, g.Size())
	fill(mem, format.ErasedByte)
	return &MemDevice{nor: nor{geo: g, mem: mem}, programsLeft: -1}, nil
}

// Geometry implements Device.
func (d *MemDevice) Geometry() Geometry { return d.geo }

// ProgramDoubleWord implements Device.
func (d *MemDevice) ProgramDoubleWord(addr uint32, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	if d.programsLeft == 0 {
		return fmt.Errorf("%w: program at 0x%08X", ErrInjected, addr)
	}
	if _, err := d.program(addr, v); err != nil {
		return err
	}
	if d.programsLeft > 0 {
		d.programsLeft--
	}
	d.programs++
	return nil
}

// ErasePages implements Device.
func (d *MemDevice) ErasePages(bank, firstPage, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	if d.eraseFaults > 0 {
		d.eraseFaults--
		return fmt.Errorf("%w: erase bank %d page %d", ErrInjected, bank, firstPage)
	}
	if _, _, err := d.erase(bank, firstPage, count); err != nil {
		return err
	}
	d.erases++
	return nil
}

// Read implements Device.
func (d *MemDevice) Read(addr uint32, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(addr, n)
}

// FailAfter lets n more programs succeed, then fails every program. A
// negative n disables the fault.
func (d *MemDevice) FailAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 {
		n = -1
	}
	d.programsLeft = n
}

// FailErase makes the next n erase calls fail.
func (d *MemDevice) FailErase(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eraseFaults = n
}

// SetBusy makes every primitive report ErrBusy until cleared.
func (d *MemDevice) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

// Counts reports how many programs and erases have succeeded.
func (d *MemDevice) Counts() (programs, erases int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.programs, d.erases
}

// Snapshot returns a copy of the whole flash image.
func (d *MemDevice) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.mem...)
}

// Load overwrites the image with img, which must match the flash size.
func (d *MemDevice) Load(img []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(img) != len(d.mem) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrImageSize, len(img), len(d.mem))
	}
	copy(d.mem, img)
	return nil
}
