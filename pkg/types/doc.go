// Package types defines the stable error taxonomy shared by the flash
// registry, the stream engine and the package layout manager.
//
// Design goals:
//   - Typed errors with stable categories so callers branch on intent
//     (not found, duplicate, capacity, ...) rather than on message text.
//   - Never panic on malformed flash contents; report ErrKindCorrupt.
//
// This package has no dependencies beyond the standard library.
package types
