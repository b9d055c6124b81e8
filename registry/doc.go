// Package registry is an append-only key/value store kept directly on
// flash.
//
// The store spans two regions. The node table holds fixed 32-byte nodes:
//
//	+0x00  ready flag   erased while the node is free, 0 once written
//	+0x08  delete flag  erased while the node is live, 0 once deleted
//	+0x10  key address, key length     (u32 each)
//	+0x18  value address, value length (u32 each)
//
// and the buffer region holds the key and value bytes, allocated by bumping
// past the highest value ever written. Nothing is reclaimed: a deleted node
// stays as a tombstone and its bytes stay in the buffer until the regions are
// erased out of band.
//
// An Add programs the descriptor, the key, the value and, last, the ready
// flag. A crash at any earlier point leaves the node looking free, so
// lookups never see half-written data. The next Add seals such a node as a
// tombstone before moving on.
//
// All state is read from flash on every call; nothing is cached.
package registry
