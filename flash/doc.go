// Package flash models the on-chip NOR flash of the device and the adapter
// every flash-resident subsystem writes through.
//
// The hardware programs in double-words (8 bytes) and erases in pages. A
// double-word can be programmed once after an erase; programming can only
// clear bits. Device captures those primitives; MemDevice simulates them in
// RAM and FileDevice backs them with a memory-mapped image file so state
// survives process restarts.
//
// Adapter sits on top of a Device and accepts byte-granular writes:
//
//	dev, _ := flash.NewMemDevice(flash.DefaultGeometry())
//	a := flash.NewAdapter(dev)
//	if err := a.Erase(dst, uint32(len(payload))); err != nil { ... }
//	if err := a.Write(dst, payload[:100]); err != nil { ... }
//	if err := a.Write(dst+100, payload[100:]); err != nil { ... }
//
// Once the size armed by Erase has been written the final partial
// double-word is padded with 0xFF and programmed. Callers that write
// without a preceding Erase call Flush.
package flash
