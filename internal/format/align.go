package format

// Alignment utilities for on-chip flash. The program primitive writes whole
// double-words and the erase primitive clears whole pages, so every on-flash
// structure is laid out on one of those boundaries.

// AlignDoubleWord returns n aligned up to the next 8-byte boundary.
//
// Example:
//
//	AlignDoubleWord(1)  = 8
//	AlignDoubleWord(8)  = 8
//	AlignDoubleWord(9)  = 16
func AlignDoubleWord(n uint32) uint32 {
	return (n + DoubleWordMask) & ^uint32(DoubleWordMask)
}

// AlignPage returns n aligned up to the next multiple of pageSize, which must
// be a power of two. Values within one page of MaxUint32 wrap to 0; callers
// check the result with buf.AddU32 beforehand.
//
// Example:
//
//	AlignPage(1, 0x800)     = 0x800
//	AlignPage(0x800, 0x800) = 0x800
//	AlignPage(0x801, 0x800) = 0x1000
func AlignPage(n, pageSize uint32) uint32 {
	mask := pageSize - 1
	return (n + mask) & ^mask
}

// IsDoubleWordAligned reports whether addr sits on a programmable unit boundary.
func IsDoubleWordAligned(addr uint32) bool {
	return addr&DoubleWordMask == 0
}

// IsPageAligned reports whether addr sits on an erase page boundary.
func IsPageAligned(addr, pageSize uint32) bool {
	return addr&(pageSize-1) == 0
}
