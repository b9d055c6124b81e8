// Package format houses the on-flash layout of the device manager: flash
// geometry defaults, the erased bit pattern, the package preamble slot map and
// the registry node layout. Higher-level packages decode through these
// constants so a layout change is made in one place.
package format

const (
	// ErasedByte is the value every flash byte holds after a page erase.
	// Programming can only clear bits, so a byte never returns to this value
	// without another erase.
	ErasedByte = 0xFF

	// ErasedWord and ErasedDoubleWord are ErasedByte widened to the word sizes
	// the decoders read.
	ErasedWord       = 0xFFFFFFFF
	ErasedDoubleWord = 0xFFFFFFFFFFFFFFFF

	// WordSize is the size of a preamble slot.
	WordSize = 4

	// DoubleWordSize is the atomic program unit of the STM32L4 flash controller.
	DoubleWordSize = 8

	// DoubleWordMask is the bitmask used for aligning to double-words (DoubleWordSize - 1).
	DoubleWordMask = DoubleWordSize - 1
)

// ============================================================================
// Flash geometry defaults (STM32L475VG: 1 MiB, dual bank, 2 KiB pages)
// ============================================================================
const (
	DefaultFlashBase = 0x08000000
	DefaultBankSize  = 0x80000
	DefaultBanks     = 2
	DefaultPageSize  = 0x800
)

// ============================================================================
// Package preamble
// ============================================================================
// The preamble is a table of little-endian uint32 slots at the package base
// address. Offsets stored in a slot are relative to the slot itself, so the
// absolute address of an entry point is base + value + slot*WordSize.
const (
	// PackageID is the magic in slot 0 ("UDOM" little-endian).
	PackageID = 0x4D4F4455

	// PreambleVersionMajor is the only major version this build interprets.
	PreambleVersionMajor = 1

	PreambleSlotID                 = 0
	PreambleSlotVersionMajor       = 1
	PreambleSlotVersionMinor       = 2
	PreambleSlotPreambleSize       = 3
	PreambleSlotApplicationModule  = 4
	PreambleSlotPropertyFlags      = 5
	PreambleSlotShellEntryPoint    = 6
	PreambleSlotStartFunction      = 7
	PreambleSlotStopFunction       = 8
	PreambleSlotStartStopPriority  = 9
	PreambleSlotStartStopStackSize = 10
	PreambleSlotCallbackFunction   = 11
	PreambleSlotCallbackPriority   = 12
	PreambleSlotCallbackStackSize  = 13
	PreambleSlotCodeSize           = 14
	PreambleSlotDataSize           = 15
	PreambleSlotPublish            = 16
	PreambleSlotUnpublish          = 17
	PreambleSlotChecksum           = 31

	// PreambleSlots is the number of slots in the preamble table.
	PreambleSlots = 32

	// PreambleSize is the byte size of the preamble table.
	PreambleSize = PreambleSlots * WordSize

	// ChecksumSize is the size of the BLAKE3 digest the checksum slot points at.
	ChecksumSize = 32
)

// ============================================================================
// Registry node
// ============================================================================
// Each node is four double-words so that every flag can be programmed on its
// own without touching an already programmed unit:
//
//	0x00  ready flag   (erased = free, 0 = ready)
//	0x08  delete flag  (erased = live, 0 = deleted)
//	0x10  key address (u32) | key length (u32)
//	0x18  value address (u32) | value length (u32)
const (
	NodeReadyOffset   = 0x00
	NodeDeletedOffset = 0x08
	NodeKeyOffset     = 0x10
	NodeValueOffset   = 0x18

	// NodeDescriptorOffset is where the key/value views start; both views are
	// programmed as one 16-byte write.
	NodeDescriptorOffset = NodeKeyOffset
	NodeDescriptorSize   = 0x10

	// NodeSize is the size of one node slot in the node table.
	NodeSize = 0x20

	// FlagProgrammed is the double-word value that marks a flag as set.
	FlagProgrammed = 0
)
