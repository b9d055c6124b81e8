package dm

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
)

// Preamble is a decoded package header. Entry point fields hold absolute
// addresses, zero when absent.
type Preamble struct {
	Base              uint32
	VersionMajor      uint32
	VersionMinor      uint32
	ApplicationModule uint32
	PropertyFlags     uint32
	CodeSize          uint32
	DataSize          uint32

	ShellEntry uint32
	Publish    uint32
	Unpublish  uint32
	Checksum   uint32
}

// Extent is the flash the package occupies.
func (p *Preamble) Extent() flash.Region {
	return flash.Region{Base: p.Base, Size: p.CodeSize}
}

// Version renders the version as major.minor.
func (p *Preamble) Version() string {
	return fmt.Sprintf("%d.%d", p.VersionMajor, p.VersionMinor)
}

// DecodePreamble validates and decodes the preamble in b, which holds the
// bytes at base. The magic is checked before any other field is trusted.
func DecodePreamble(base uint32, b []byte) (*Preamble, error) {
	if len(b) < format.PreambleSize {
		return nil, types.Wrap(types.ErrKindIncompatible, "package preamble", format.ErrTruncated)
	}
	if id := buf.WordAt(b, format.PreambleSlotID); id != format.PackageID {
		return nil, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: id 0x%08X", base, id), format.ErrSignatureMismatch)
	}

	p := &Preamble{
		Base:              base,
		VersionMajor:      buf.WordAt(b, format.PreambleSlotVersionMajor),
		VersionMinor:      buf.WordAt(b, format.PreambleSlotVersionMinor),
		ApplicationModule: buf.WordAt(b, format.PreambleSlotApplicationModule),
		PropertyFlags:     buf.WordAt(b, format.PreambleSlotPropertyFlags),
		CodeSize:          buf.WordAt(b, format.PreambleSlotCodeSize),
		DataSize:          buf.WordAt(b, format.PreambleSlotDataSize),
	}
	if p.VersionMajor != format.PreambleVersionMajor {
		return nil, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: version %s", base, p.Version()), format.ErrVersion)
	}
	if size := buf.WordAt(b, format.PreambleSlotPreambleSize); size != format.PreambleSize {
		return nil, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: preamble size %d", base, size), format.ErrBadSize)
	}
	if p.CodeSize < format.PreambleSize {
		return nil, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: code size %d", base, p.CodeSize), format.ErrBadSize)
	}
	if _, err := flash.NewRegion(base, p.CodeSize); err != nil {
		return nil, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: code size %d", base, p.CodeSize), format.ErrBadSize)
	}

	var err error
	if p.ShellEntry, err = p.resolve(b, format.PreambleSlotShellEntryPoint, 1, true); err != nil {
		return nil, err
	}
	if p.Publish, err = p.resolve(b, format.PreambleSlotPublish, 1, false); err != nil {
		return nil, err
	}
	if p.Unpublish, err = p.resolve(b, format.PreambleSlotUnpublish, 1, false); err != nil {
		return nil, err
	}
	if p.Checksum, err = p.resolve(b, format.PreambleSlotChecksum, format.ChecksumSize, true); err != nil {
		return nil, err
	}
	return p, nil
}

// resolve turns the offset in slot into an absolute address:
// base + value + slot*WordSize. The n bytes at the address must lie inside
// [base+PreambleSize, base+CodeSize).
func (p *Preamble) resolve(b []byte, slot int, n uint32, optional bool) (uint32, error) {
	v := buf.WordAt(b, slot)
	if v == 0 && optional {
		return 0, nil
	}
	fail := func() (uint32, error) {
		return 0, types.Wrap(types.ErrKindIncompatible,
			fmt.Sprintf("package at 0x%08X: slot %d offset 0x%X", p.Base, slot, v), format.ErrOffsetRange)
	}

	rel, ok := buf.AddU32(v, uint32(slot)*format.WordSize)
	if !ok {
		return fail()
	}
	addr, ok := buf.AddU32(p.Base, rel)
	if !ok {
		return fail()
	}
	body := flash.Region{Base: p.Base + format.PreambleSize, Size: p.CodeSize - format.PreambleSize}
	target := flash.Region{Base: addr, Size: n}
	if _, err := flash.NewRegion(addr, n); err != nil || !body.ContainsRegion(target) {
		return fail()
	}
	return addr, nil
}

// VerifyChecksum compares the BLAKE3 digest stored at the checksum address
// with the digest of the code between the preamble and it. Packages without
// a checksum pass.
func (p *Preamble) VerifyChecksum(a *flash.Adapter) error {
	if p.Checksum == 0 {
		return nil
	}
	start := p.Base + format.PreambleSize
	code, err := a.Read(start, int(p.Checksum-start))
	if err != nil {
		return err
	}
	stored, err := a.Read(p.Checksum, format.ChecksumSize)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(code)
	if !bytes.Equal(sum[:], stored) {
		return types.Errorf(types.ErrKindCorrupt, "package at 0x%08X: checksum mismatch", p.Base)
	}
	return nil
}
