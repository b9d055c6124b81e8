//go:build unix

// Package dirty tracks the byte ranges of a memory-mapped flash image that
// were programmed or erased since the last sync, and flushes them to the
// backing file.
//
// The tracker coalesces ranges into OS-page-aligned, non-overlapping spans and
// flushes them with msync, then optionally fdatasyncs the descriptor so a
// simulated power cut (process kill) leaves the image file in the same state
// the device would have been in.
package dirty

import (
	"context"
	"slices"
)

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	defaultRangeCapacity = 64

	// standardPageSize is the typical OS page size (4KB).
	standardPageSize = 4096
)

// FlushMode controls durability guarantees for Flush.
type FlushMode int

const (
	// FlushAuto msyncs dirty pages and fdatasyncs the descriptor.
	FlushAuto FlushMode = iota

	// FlushDataOnly only msyncs dirty pages. The caller fdatasyncs later.
	FlushDataOnly

	// FlushFull msyncs dirty pages and issues the strongest sync the
	// platform offers (F_FULLFSYNC on macOS).
	FlushFull
)

// Mapping is the memory-mapped image the tracker flushes.
type Mapping interface {
	Bytes() []byte
	FD() int
}

// Range represents a dirty byte range (offsets into the mapping).
type Range struct {
	Off int64
	Len int64
}

// Tracker accumulates dirty ranges and flushes them efficiently.
//
// NOT thread-safe. The owning device serializes access.
type Tracker struct {
	m        Mapping
	ranges   []Range
	pageSize int64
}

// NewTracker creates a dirty tracker for the given mapping.
func NewTracker(m Mapping) *Tracker {
	return &Tracker{
		m:        m,
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: standardPageSize,
	}
}

// Add records a dirty range. Alignment and merging happen at flush time.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: int64(off), Len: int64(length)})
}

// Pending reports whether any range is waiting to be flushed.
func (t *Tracker) Pending() bool {
	return len(t.ranges) > 0
}

// Flush msyncs every dirty range and then syncs the descriptor according to
// mode. Ranges are cleared only when every msync succeeded.
//
// The context is checked between steps; a cancelled flush may have written
// some ranges and not others.
func (t *Tracker) Flush(ctx context.Context, mode FlushMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(t.ranges) == 0 {
		return nil
	}

	data := t.m.Bytes()
	if len(data) == 0 {
		t.ranges = t.ranges[:0]
		return nil
	}

	if err := t.flushRanges(data); err != nil {
		return err
	}
	t.ranges = t.ranges[:0]

	if err := ctx.Err(); err != nil {
		return err
	}
	if mode == FlushDataOnly {
		return nil
	}
	return fdatasync(t.m.FD(), mode == FlushFull)
}

// Reset clears all tracked ranges without flushing them.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// coalesce page-aligns all ranges, sorts them, and merges overlapping or
// adjacent ranges.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	slices.SortFunc(aligned, func(a, b Range) int {
		switch {
		case a.Off < b.Off:
			return -1
		case a.Off > b.Off:
			return 1
		default:
			return 0
		}
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
