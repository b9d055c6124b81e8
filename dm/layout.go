package dm

import (
	"context"
	"fmt"
	"slices"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
	"github.com/joshuapare/flashdm/ustream"
)

// fit checks that ext lies in the package region and shares no byte with an
// installed package. Extents that only touch do not overlap.
func (m *Manager) fit(ext flash.Region) error {
	if !m.region.ContainsRegion(ext) {
		return types.Wrap(types.ErrKindCapacity,
			fmt.Sprintf("dm: %s outside package region %s", ext, m.region), types.ErrOutOfSpace)
	}
	for _, r := range m.records {
		if r == nil {
			continue
		}
		if other := r.extent(); other.Overlaps(ext) {
			return types.Wrap(types.ErrKindCapacity,
				fmt.Sprintf("dm: %s overlaps package %q at %s", ext, r.name, other), types.ErrOutOfSpace)
		}
	}
	return nil
}

// findGap returns the first base where size bytes fit. Candidates are the
// region base followed by the page-rounded end of each installed package in
// ascending flash order.
func (m *Manager) findGap(size uint32) (uint32, error) {
	page := m.a.Geometry().PageSize
	candidates := []uint32{m.region.Base}
	var ends []uint32
	for _, r := range m.records {
		if r == nil || r.pre == nil {
			continue
		}
		end, ok := r.extent().End()
		if !ok {
			continue
		}
		if _, ok := buf.AddU32(end, page-1); !ok {
			continue
		}
		ends = append(ends, format.AlignPage(end, page))
	}
	slices.Sort(ends)
	candidates = append(candidates, ends...)

	for _, base := range candidates {
		ext, err := flash.NewRegion(base, size)
		if err != nil {
			continue
		}
		if err := m.fit(ext); err == nil {
			return base, nil
		} else if !isCapacity(err) {
			return 0, err
		}
	}
	return 0, types.Wrap(types.ErrKindCapacity,
		fmt.Sprintf("dm: no gap of 0x%X bytes in %s", size, m.region), types.ErrOutOfSpace)
}

// installBlob downloads the package at url into flash and installs it from
// there. The name comes from the last URL segment.
func (m *Manager) installBlob(ctx context.Context, addr Address, url string) error {
	if url == "" {
		return types.Errorf(types.ErrKindArgument, "dm install: empty blob url")
	}
	if m.opts.factory == nil {
		return types.Errorf(types.ErrKindNotSupported, "dm install: no blob transport configured")
	}
	ep, err := blob.ParseURL(url)
	if err != nil {
		return err
	}
	derived, err := ep.PackageName()
	if err != nil {
		return err
	}
	name, err := m.checkName(derived)
	if err != nil {
		return err
	}
	// Rejected before the download so an existing package is never erased.
	if m.find(name) != nil {
		return types.Wrap(types.ErrKindDuplicate, fmt.Sprintf("dm install %q", name), types.ErrDuplicate)
	}
	if err := m.boundName(name); err != nil {
		return err
	}
	if m.freeSlot() < 0 {
		return types.Wrap(types.ErrKindCapacity, "dm install: package table full", types.ErrOutOfSpace)
	}

	st, err := ustream.NewBlob(ctx, m.opts.factory(), ep,
		append([]ustream.Option{ustream.WithLogger(m.log)}, m.opts.streamOpts...)...)
	if err != nil {
		return err
	}
	defer st.Dispose()
	length := uint32(st.Length())

	base := uint32(addr)
	if addr == NoAddress {
		if base, err = m.findGap(max(length, m.opts.maxPackageSize)); err != nil {
			return err
		}
	}
	geo := m.a.Geometry()
	if !format.IsPageAligned(base, geo.PageSize) {
		return types.Errorf(types.ErrKindArgument, "dm install: destination 0x%08X is not page aligned", base)
	}
	ext, err := flash.NewRegion(base, length)
	if err != nil {
		return err
	}
	if err := m.fit(ext); err != nil {
		return err
	}

	log := m.log.With("package", name, "session", st.SessionID())
	log.Info("package download",
		"url", ep.String(),
		"addr", fmt.Sprintf("0x%08X", base),
		"size", st.ContentLength(),
		"length", length)

	if err := m.a.Erase(base, length); err != nil {
		return err
	}
	var off uint32
	received, err := st.Drain(ctx, m.opts.writeBuffer, func(p []byte) error {
		if uint64(off)+uint64(len(p)) > uint64(length) {
			return types.Errorf(types.ErrKindCorrupt, "dm install %q: blob larger than the %d bytes announced", name, st.ContentLength())
		}
		if err := m.a.Write(base+off, p); err != nil {
			return err
		}
		off += uint32(len(p))
		return nil
	})
	if err != nil {
		m.a.Discard()
		log.Info("package download failed", "received", received, "error", err)
		return err
	}
	if err := m.a.Flush(); err != nil {
		return err
	}

	raw, err := m.a.Read(base, format.PreambleSize)
	if err != nil {
		return err
	}
	pre, err := DecodePreamble(base, raw)
	if err != nil {
		return err
	}
	if int64(pre.CodeSize) > received {
		return types.Errorf(types.ErrKindCorrupt, "dm install %q: code size 0x%X but only 0x%X bytes received",
			name, pre.CodeSize, received)
	}
	log.Debug("package downloaded", "received", received)
	return m.installInMemory(base, name, SourceBlob)
}
