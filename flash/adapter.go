package flash

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
)

// Option configures an Adapter.
type Option func(*options)

type options struct {
	observer Observer
	logger   *slog.Logger
}

// WithObserver reports program/erase activity to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithLogger sets the adapter logger. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) {
		if l != nil {
			opts.logger = l
		}
	}
}

// Adapter turns byte-granular writes into double-word programs and
// address-range erases into bank/page erases.
//
// An Adapter carries the partial double-word of the write sequence in
// progress, so each subsystem owns its own Adapter. It is not safe for
// concurrent use; the Device underneath is.
type Adapter struct {
	dev Device
	geo Geometry
	obs Observer
	log *slog.Logger

	pending    [format.DoubleWordSize]byte
	pendingLen int
	next       uint32 // address the next continuation write must start at

	expected uint32 // size armed by Erase, 0 when disarmed
	written  uint32
}

// NewAdapter wraps dev.
func NewAdapter(dev Device, opts ...Option) *Adapter {
	o := options{
		observer: nopObserver{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Adapter{dev: dev, geo: dev.Geometry(), obs: o.observer, log: o.logger}
}

// Geometry returns the underlying device geometry.
func (a *Adapter) Geometry() Geometry { return a.geo }

// Device returns the underlying device.
func (a *Adapter) Device() Device { return a.dev }

// Pending returns the number of bytes buffered but not yet programmed.
func (a *Adapter) Pending() int { return a.pendingLen }

// Write programs src at dest.
//
// A write that starts a new sequence must be double-word aligned. While a
// partial double-word is buffered, the next write must continue exactly where
// the previous one stopped. The buffered tail is padded with 0xFF and
// programmed once the size armed by Erase has been written, or right away
// when nothing is armed.
func (a *Adapter) Write(dest uint32, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if a.pendingLen > 0 {
		if dest != a.next {
			return types.Errorf(types.ErrKindArgument,
				"flash write at 0x%08X does not continue buffered write at 0x%08X", dest, a.next)
		}
	} else if !format.IsDoubleWordAligned(dest) {
		return types.Wrap(types.ErrKindArgument, "flash write", fmt.Errorf("%w: 0x%08X", ErrUnaligned, dest))
	}
	if uint64(len(src)) > math.MaxUint32 {
		return types.Errorf(types.ErrKindArgument, "flash write of %d bytes is too large", len(src))
	}
	r, err := NewRegion(dest, uint32(len(src)))
	if err != nil {
		return types.Errorf(types.ErrKindArgument, "flash write of %d bytes at 0x%08X overflows", len(src), dest)
	}
	if !a.geo.Contains(r) {
		return types.Wrap(types.ErrKindArgument, "flash write", fmt.Errorf("%w: %s", ErrOutOfRange, r))
	}

	unit := dest - uint32(a.pendingLen)
	for len(src) > 0 {
		if a.pendingLen == 0 && len(src) >= format.DoubleWordSize {
			if err := a.program(unit, buf.U64LE(src)); err != nil {
				return err
			}
			unit += format.DoubleWordSize
			src = src[format.DoubleWordSize:]
			continue
		}
		n := copy(a.pending[a.pendingLen:], src)
		a.pendingLen += n
		src = src[n:]
		if a.pendingLen == format.DoubleWordSize {
			if err := a.programPending(unit); err != nil {
				return err
			}
			unit += format.DoubleWordSize
		}
	}
	a.next = unit + uint32(a.pendingLen)
	a.written += r.Size

	if a.expected == 0 || a.written >= a.expected {
		return a.Flush()
	}
	return nil
}

// Flush programs any buffered partial double-word, padded with the erased
// pattern, and disarms the expected size.
func (a *Adapter) Flush() error {
	a.expected, a.written = 0, 0
	if a.pendingLen == 0 {
		return nil
	}
	unit := a.next - uint32(a.pendingLen)
	for i := a.pendingLen; i < format.DoubleWordSize; i++ {
		a.pending[i] = format.ErasedByte
	}
	return a.programPending(unit)
}

// Discard drops any buffered bytes without programming them.
func (a *Adapter) Discard() {
	a.pendingLen = 0
	a.expected, a.written = 0, 0
}

func (a *Adapter) programPending(unit uint32) error {
	v := buf.U64LE(a.pending[:])
	a.pendingLen = 0
	return a.program(unit, v)
}

func (a *Adapter) program(addr uint32, v uint64) error {
	if err := a.dev.ProgramDoubleWord(addr, v); err != nil {
		a.Discard()
		a.obs.OnError("program")
		return mapError("program", err)
	}
	a.obs.OnProgram(format.DoubleWordSize)
	return nil
}

// Erase erases every page touched by [dest, dest+size), splitting the range
// at bank boundaries. Each bank erase is retried once before failing. On
// success size becomes the expected length of the next write sequence.
func (a *Adapter) Erase(dest, size uint32) error {
	r, err := NewRegion(dest, size)
	if err != nil {
		return err
	}
	if !a.geo.Contains(r) {
		return types.Wrap(types.ErrKindArgument, "flash erase", fmt.Errorf("%w: %s", ErrOutOfRange, r))
	}
	firstBank, firstPage, err := a.geo.Locate(r.Base)
	if err != nil {
		return mapError("erase", err)
	}
	lastBank, lastPage, err := a.geo.Locate(r.Last())
	if err != nil {
		return mapError("erase", err)
	}

	a.Discard()
	perBank := a.geo.PagesPerBank()
	for bank := firstBank; bank <= lastBank; bank++ {
		start, end := 0, perBank-1
		if bank == firstBank {
			start = firstPage
		}
		if bank == lastBank {
			end = lastPage
		}
		if err := a.erasePages(bank, start, end-start+1); err != nil {
			return err
		}
	}
	a.expected = size
	a.log.Debug("flash erase",
		"addr", fmt.Sprintf("0x%08X", dest),
		"size", size,
		"banks", lastBank-firstBank+1)
	return nil
}

func (a *Adapter) erasePages(bank, first, count int) error {
	err := a.dev.ErasePages(bank, first, count)
	if err != nil {
		a.log.Debug("flash erase retry", "bank", bank, "page", first, "count", count, "error", err)
		err = a.dev.ErasePages(bank, first, count)
	}
	if err != nil {
		a.obs.OnError("erase")
		return mapError("erase", err)
	}
	a.obs.OnErase(count)
	return nil
}

// Read returns n bytes at addr as a read-only view.
func (a *Adapter) Read(addr uint32, n int) ([]byte, error) {
	b, err := a.dev.Read(addr, n)
	if err != nil {
		return nil, mapError("read", err)
	}
	return b, nil
}
