//go:build unix

package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/flashdm/flash/dirty"
	"github.com/joshuapare/flashdm/internal/format"
)

// FileDevice is a Device backed by a memory-mapped image file. Programs and
// erases mutate the mapping directly; Sync pushes the touched pages to disk.
type FileDevice struct {
	mu sync.Mutex
	nor

	f      *os.File
	dirty  *dirty.Tracker
	closed bool
}

type fileMapping struct {
	f    *os.File
	data []byte
}

func (m fileMapping) Bytes() []byte { return m.data }
func (m fileMapping) FD() int       { return int(m.f.Fd()) }

// OpenFileDevice maps the image at path, creating an erased image when the
// file is missing or empty. An existing image must be exactly g.Size() bytes.
func OpenFileDevice(path string, g Geometry) (*FileDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := prepareImage(f, int64(g.Size())); err != nil {
		_ = f.Close()
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(g.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return &FileDevice{
		nor:   nor{geo: g, mem: data},
		f:     f,
		dirty: dirty.NewTracker(fileMapping{f: f, data: data}),
	}, nil
}

// prepareImage fills a fresh file with the erased pattern.
func prepareImage(f *os.File, size int64) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	switch st.Size() {
	case size:
		return nil
	case 0:
		page := make([]byte, 64*1024)
		fill(page, format.ErasedByte)
		for written := int64(0); written < size; {
			n := min(int64(len(page)), size-written)
			if _, err := f.WriteAt(page[:n], written); err != nil {
				return fmt.Errorf("initialize image: %w", err)
			}
			written += n
		}
		return f.Sync()
	default:
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrImageSize, f.Name(), st.Size(), size)
	}
}

// Geometry implements Device.
func (d *FileDevice) Geometry() Geometry { return d.geo }

// ProgramDoubleWord implements Device.
func (d *FileDevice) ProgramDoubleWord(addr uint32, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	off, err := d.program(addr, v)
	if err != nil {
		return err
	}
	d.dirty.Add(off, 8)
	return nil
}

// ErasePages implements Device.
func (d *FileDevice) ErasePages(bank, firstPage, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	off, size, err := d.erase(bank, firstPage, count)
	if err != nil {
		return err
	}
	d.dirty.Add(off, size)
	return nil
}

// Read implements Device.
func (d *FileDevice) Read(addr uint32, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return d.read(addr, n)
}

// Sync flushes every page touched since the last Sync and fdatasyncs the file.
func (d *FileDevice) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.dirty.Flush(ctx, dirty.FlushAuto)
}

// Close syncs, unmaps and closes the image. Close is idempotent.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if err := d.dirty.Flush(context.Background(), dirty.FlushAuto); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Munmap(d.mem); err != nil && !errors.Is(err, unix.EINVAL) {
		errs = append(errs, err)
	}
	d.mem = nil
	if err := d.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
