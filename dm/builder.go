package dm

import (
	"math"

	"github.com/zeebo/blake3"

	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
)

// stubSize is the space Build reserves for each entry point.
const stubSize = format.DoubleWordSize

// ImageSpec describes a package image for Build.
type ImageSpec struct {
	Module        uint32
	VersionMinor  uint32
	PropertyFlags uint32
	DataSize      uint32
	// Code is placed right after the preamble. Empty means no code body.
	Code       []byte
	ShellEntry bool
	Checksum   bool
}

// Symbols are the entry point offsets of a built image, relative to its
// base. Zero means absent.
type Symbols struct {
	ShellEntry uint32 `json:"shell_entry"`
	Publish    uint32 `json:"publish"`
	Unpublish  uint32 `json:"unpublish"`
	Checksum   uint32 `json:"checksum"`
}

// Build lays out a package image: the preamble, the code body, one stub per
// entry point and, when requested, the BLAKE3 digest of everything between
// the preamble and the digest.
func Build(spec ImageSpec) ([]byte, Symbols, error) {
	if uint64(len(spec.Code)) > math.MaxUint32-0x1000 {
		return nil, Symbols{}, types.Errorf(types.ErrKindArgument, "build: code body of %d bytes too large", len(spec.Code))
	}

	var syms Symbols
	off := uint32(format.PreambleSize)
	off += format.AlignDoubleWord(uint32(len(spec.Code)))
	if spec.ShellEntry {
		syms.ShellEntry = off
		off += stubSize
	}
	syms.Publish = off
	off += stubSize
	syms.Unpublish = off
	off += stubSize
	if spec.Checksum {
		syms.Checksum = off
		off += format.ChecksumSize
	}
	img := make([]byte, off)
	copy(img[format.PreambleSize:], spec.Code)
	for _, s := range []uint32{syms.ShellEntry, syms.Publish, syms.Unpublish} {
		if s != 0 {
			// Stub bodies are the offset itself so that images differ per layout.
			buf.PutU64(img, int(s), uint64(s))
		}
	}

	put := func(slot int, v uint32) { buf.PutU32(img, slot*format.WordSize, v) }
	rel := func(slot int, target uint32) uint32 {
		if target == 0 {
			return 0
		}
		return target - uint32(slot*format.WordSize)
	}
	put(format.PreambleSlotID, format.PackageID)
	put(format.PreambleSlotVersionMajor, format.PreambleVersionMajor)
	put(format.PreambleSlotVersionMinor, spec.VersionMinor)
	put(format.PreambleSlotPreambleSize, format.PreambleSize)
	put(format.PreambleSlotApplicationModule, spec.Module)
	put(format.PreambleSlotPropertyFlags, spec.PropertyFlags)
	put(format.PreambleSlotShellEntryPoint, rel(format.PreambleSlotShellEntryPoint, syms.ShellEntry))
	put(format.PreambleSlotCodeSize, off)
	put(format.PreambleSlotDataSize, spec.DataSize)
	put(format.PreambleSlotPublish, rel(format.PreambleSlotPublish, syms.Publish))
	put(format.PreambleSlotUnpublish, rel(format.PreambleSlotUnpublish, syms.Unpublish))
	put(format.PreambleSlotChecksum, rel(format.PreambleSlotChecksum, syms.Checksum))

	if spec.Checksum {
		sum := blake3.Sum256(img[format.PreambleSize:syms.Checksum])
		copy(img[syms.Checksum:], sum[:])
	}
	return img, syms, nil
}
