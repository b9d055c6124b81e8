// Package buf contains bounds-checked address arithmetic and little-endian
// codec helpers for flash-resident structures.
package buf

import "encoding/binary"

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64LE reads a little-endian uint64 from b. Returns 0 when b is too short.
func U64LE(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// WordAt reads the little-endian uint32 stored in slot idx of b.
// Returns 0 when the slot is out of range.
func WordAt(b []byte, idx int) uint32 {
	s, ok := Slice(b, idx*4, 4)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(s)
}

// PutU32 writes v little-endian at b[off:]. It is a no-op when b is too short.
func PutU32(b []byte, off int, v uint32) {
	if s, ok := Slice(b, off, 4); ok {
		binary.LittleEndian.PutUint32(s, v)
	}
}

// PutU64 writes v little-endian at b[off:]. It is a no-op when b is too short.
func PutU64(b []byte, off int, v uint64) {
	if s, ok := Slice(b, off, 8); ok {
		binary.LittleEndian.PutUint64(s, v)
	}
}
