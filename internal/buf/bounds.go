package buf

import (
	"fmt"
	"math"
)

// AddU32 adds a and b, returning ok = false when the result would overflow a
// 32-bit flash address.
func AddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}

// SubU32 subtracts b from a, returning ok = false on underflow.
func SubU32(a, b uint32) (uint32, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// MulU32 multiplies a and b, returning ok = false when the result would overflow.
// Used for slot index * word size and node index * node size calculations.
func MulU32(a, b uint32) (uint32, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint32/b {
		return 0, false
	}
	return a * b, true
}

// CheckSpan validates that count elements of elementSize bytes starting at
// base stay inside [limitBase, limitBase+limitSize). Returns the exclusive
// end address if valid, or an error describing the failure.
//
//	end, err := buf.CheckSpan(info.Base, info.Base, info.Size, nodes, format.NodeSize)
//	if err != nil {
//	    return fmt.Errorf("node table: %w", err)
//	}
func CheckSpan(base, limitBase, limitSize, count, elementSize uint32) (uint32, error) {
	total, ok := MulU32(count, elementSize)
	if !ok {
		return 0, fmt.Errorf("overflow: count=%d * elemSize=%d", count, elementSize)
	}
	end, ok := AddU32(base, total)
	if !ok {
		return 0, fmt.Errorf("overflow: base=0x%08X + size=%d", base, total)
	}
	limitEnd, ok := AddU32(limitBase, limitSize)
	if !ok {
		return 0, fmt.Errorf("overflow: limit=0x%08X + size=%d", limitBase, limitSize)
	}
	if base < limitBase || end > limitEnd {
		return 0, fmt.Errorf("bounds: [0x%08X, 0x%08X) outside [0x%08X, 0x%08X)",
			base, end, limitBase, limitEnd)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	if n > math.MaxInt-off {
		return nil, false
	}
	end := off + n
	if end > len(b) {
		return nil, false
	}
	return b[off:end], true
}

// IsErased reports whether every byte of b holds the erased pattern.
func IsErased(b []byte, erased byte) bool {
	for _, c := range b {
		if c != erased {
			return false
		}
	}
	return true
}
