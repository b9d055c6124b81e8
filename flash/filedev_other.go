//go:build !unix

package flash

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/internal/writer"
)

// FileDevice is a Device backed by an image file. Without mmap the image is
// held in memory and written back atomically on Sync.
type FileDevice struct {
	mu sync.Mutex
	nor

	sink    writer.Sink
	pending bool
	closed  bool
}

// OpenFileDevice loads the image at path, creating an erased image when the
// file is missing or empty. An existing image must be exactly g.Size() bytes.
func OpenFileDevice(path string, g Geometry) (*FileDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	fresh := len(data) == 0
	switch {
	case fresh:
		data = make([]byte, g.Size())
		fill(data, format.ErasedByte)
	case len(data) != int(g.Size()):
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrImageSize, path, len(data), g.Size())
	}
	d := &FileDevice{nor: nor{geo: g, mem: data}, sink: &writer.FileWriter{Path: path}, pending: fresh}
	return d, nil
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
	if _, err := d.program(addr, v); err != nil {
		return err
	}
	d.pending = true
	return nil
}

// ErasePages implements Device.
func (d *FileDevice) ErasePages(bank, firstPage, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, _, err := d.erase(bank, firstPage, count); err != nil {
		return err
	}
	d.pending = true
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

// Sync writes the image back when anything changed.
func (d *FileDevice) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.syncLocked(ctx)
}

func (d *FileDevice) syncLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.pending {
		return nil
	}
	if err := d.sink.WriteImage(d.mem); err != nil {
		return err
	}
	d.pending = false
	return nil
}

// Close syncs and releases the image. Close is idempotent.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.syncLocked(context.Background())
	d.mem = nil
	return err
}
