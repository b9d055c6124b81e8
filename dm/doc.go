// Package dm is the package layout manager. It keeps the table of installed
// packages, places package images in a reserved flash region without
// overlap, validates their preamble, and dispatches to their entry points.
//
// A package image starts with a 128-byte preamble of 32 little-endian
// words (see internal/format). Entry points are stored as offsets relative
// to their own slot; DecodePreamble resolves and bounds-checks them against
// the declared code extent before anything is called. Calling is a lookup
// in a Resolver, never a jump to a computed address.
//
// Packages come from three sources:
//
//	SourceInMemory  an image already in flash at a given address
//	SourceBlob      downloaded through ustream into a free gap, then as above
//	SourceBuiltIn   statically linked, dispatched by name
//
// The package table lives in RAM only. After a reset installed packages
// must be installed again.
package dm
