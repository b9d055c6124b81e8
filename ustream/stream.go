package ustream

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/joshuapare/flashdm/pkg/types"
)

// Status tells whether a source has more bytes after a Read.
type Status int

const (
	// Continue means more bytes may follow.
	Continue Status = iota
	// Done means the source is exhausted. The Read that returns Done may
	// still have copied bytes.
	Done
)

func (s Status) String() string {
	if s == Done {
		return "done"
	}
	return "continue"
}

const (
	// DefaultChunkTimeout bounds the wait for one blob chunk (600 ticks of
	// the device RTOS).
	DefaultChunkTimeout = 6 * time.Second
	// DefaultLengthGranularity rounds blob lengths up to a flash page.
	DefaultLengthGranularity = 0x800
)

// Observer receives stream activity.
type Observer interface {
	OnChunk(bytes int)
	OnTimeout()
}

type nopObserver struct{}

func (nopObserver) OnChunk(int) {}
func (nopObserver) OnTimeout()  {}

// Option configures a new control block.
type Option func(*options)

type options struct {
	dataRelease  func()
	cbRelease    func()
	chunkTimeout time.Duration
	granularity  int64
	logger       *slog.Logger
	observer     Observer
}

// WithDataRelease is called when the last stream over the data is disposed.
func WithDataRelease(fn func()) Option {
	return func(o *options) { o.dataRelease = fn }
}

// WithControlBlockRelease is called after the data release.
func WithControlBlockRelease(fn func()) Option {
	return func(o *options) { o.cbRelease = fn }
}

// WithChunkTimeout bounds each wait for a blob chunk.
func WithChunkTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.chunkTimeout = d
		}
	}
}

// WithLengthGranularity sets the multiple blob lengths are rounded up to.
func WithLengthGranularity(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.granularity = n
		}
	}
}

// WithLogger sets the logger used for blob sessions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver reports chunk activity to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		chunkTimeout: DefaultChunkTimeout,
		granularity:  DefaultLengthGranularity,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// source is the data behind a control block.
type source interface {
	// read copies bytes at inner position pos into p. done reports that
	// nothing follows the copied bytes.
	read(ctx context.Context, pos int64, p []byte) (n int, done bool, err error)
	seekable() bool
	close()
}

type controlBlock struct {
	src         source
	refs        atomic.Int32
	dataRelease func()
	cbRelease   func()
}

func (cb *controlBlock) acquire() { cb.refs.Add(1) }

func (cb *controlBlock) release() {
	if cb.refs.Add(-1) != 0 {
		return
	}
	if cb.dataRelease != nil {
		cb.dataRelease()
	}
	if cb.cbRelease != nil {
		cb.cbRelease()
	}
	cb.src.close()
}

// Stream is one cursor over a shared control block. A Stream is used by one
// goroutine at a time; clones of it may live on other goroutines.
type Stream struct {
	cb         *controlBlock
	current    int64
	firstValid int64
	offsetDiff int64
	length     int64
	done       bool
	disposed   bool
}

func newStream(cb *controlBlock, current, offset, length int64) *Stream {
	cb.acquire()
	return &Stream{
		cb:         cb,
		current:    current,
		firstValid: current,
		offsetDiff: offset - current,
		length:     length,
	}
}

// flatSource serves a resident buffer.
type flatSource struct {
	data []byte
}

func (f *flatSource) read(_ context.Context, pos int64, p []byte) (int, bool, error) {
	if pos >= int64(len(f.data)) {
		return 0, true, nil
	}
	n := copy(p, f.data[pos:])
	return n, pos+int64(n) == int64(len(f.data)), nil
}

func (f *flatSource) seekable() bool { return true }
func (f *flatSource) close()         {}

// New wraps a resident buffer. The returned stream holds the only reference
// to its control block.
func New(data []byte, opts ...Option) (*Stream, error) {
	if len(data) == 0 {
		return nil, types.Errorf(types.ErrKindArgument, "ustream: empty buffer")
	}
	if int64(len(data)) > math.MaxUint32 {
		return nil, types.Errorf(types.ErrKindArgument, "ustream: buffer of %d bytes too large", len(data))
	}
	o := buildOptions(opts)
	cb := &controlBlock{src: &flatSource{data: data}, dataRelease: o.dataRelease, cbRelease: o.cbRelease}
	return newStream(cb, 0, 0, int64(len(data))), nil
}

// Read copies up to len(p) bytes from the current position.
func (s *Stream) Read(p []byte) (int, Status, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is Read with a context bounding blob chunk waits.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, Status, error) {
	if s.disposed {
		return 0, Done, errDisposed("read")
	}
	if len(p) == 0 {
		return 0, Continue, types.Errorf(types.ErrKindArgument, "ustream read: empty destination")
	}
	if s.done {
		return 0, Done, nil
	}
	n, done, err := s.cb.src.read(ctx, s.current, p)
	s.current += int64(n)
	if err != nil {
		return n, Continue, err
	}
	if done {
		s.done = true
		return n, Done, nil
	}
	return n, Continue, nil
}

// Length is the total size of the stream. Blob lengths are rounded up to the
// length granularity.
func (s *Stream) Length() int64 { return s.length }

// Remaining returns length minus the bytes consumed.
func (s *Stream) Remaining() (int64, error) {
	if s.disposed {
		return 0, errDisposed("remaining")
	}
	return s.length - s.current, nil
}

// Position returns the externally visible position.
func (s *Stream) Position() (int64, error) {
	if s.disposed {
		return 0, errDisposed("position")
	}
	return s.current + s.offsetDiff, nil
}

// SetPosition moves the cursor to an externally visible position. Targets
// before the first valid position or past the end are rejected.
func (s *Stream) SetPosition(pos int64) error {
	if s.disposed {
		return errDisposed("set position")
	}
	inner := pos - s.offsetDiff
	if inner < s.firstValid || inner > s.length {
		return errPosition("set position", pos, s.firstValid+s.offsetDiff, s.length+s.offsetDiff)
	}
	if inner == s.current {
		return nil
	}
	if !s.cb.src.seekable() {
		return types.Errorf(types.ErrKindNotSupported, "ustream set position: source is forward only")
	}
	s.current = inner
	s.done = false
	return nil
}

// Reset moves the cursor back to the first valid position.
func (s *Stream) Reset() error {
	if s.disposed {
		return errDisposed("reset")
	}
	return s.SetPosition(s.firstValid + s.offsetDiff)
}

// Release promises the stream no longer needs bytes up to and including
// pos. pos must lie in [first valid, current).
func (s *Stream) Release(pos int64) error {
	if s.disposed {
		return errDisposed("release")
	}
	inner := pos - s.offsetDiff
	if inner < s.firstValid || inner >= s.current {
		return errPosition("release", pos, s.firstValid+s.offsetDiff, s.current+s.offsetDiff-1)
	}
	s.firstValid = inner + 1
	return nil
}

// Clone returns a new stream over the same control block whose current
// position reads as offset. The clone cannot go back before the current
// position.
func (s *Stream) Clone(offset int64) (*Stream, error) {
	if s.disposed {
		return nil, errDisposed("clone")
	}
	if offset < 0 || offset > math.MaxUint32-s.length {
		return nil, types.Errorf(types.ErrKindArgument, "ustream clone: offset %d overflows a %d byte stream", offset, s.length)
	}
	c := newStream(s.cb, s.current, offset, s.length)
	c.done = s.done
	return c, nil
}

// Dispose drops this stream's reference. The last Dispose of a control
// block releases it. Dispose is idempotent.
func (s *Stream) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.cb.release()
}

// Reader adapts the stream to io.Reader. Done maps to io.EOF once no bytes
// are returned.
func (s *Stream) Reader(ctx context.Context) io.Reader {
	return &reader{ctx: ctx, s: s}
}

type reader struct {
	ctx context.Context
	s   *Stream
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, st, err := r.s.ReadContext(r.ctx, p)
	if err != nil {
		return n, err
	}
	if st == Done && n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Drain reads the stream to its end through a buffer of bufSize bytes and
// hands every filled slice to sink. It returns the number of bytes read.
func (s *Stream) Drain(ctx context.Context, bufSize int, sink func(p []byte) error) (int64, error) {
	if bufSize <= 0 {
		return 0, types.Errorf(types.ErrKindArgument, "ustream drain: buffer size %d", bufSize)
	}
	buf := make([]byte, bufSize)
	var total int64
	for {
		n, st, err := s.ReadContext(ctx, buf)
		if n > 0 {
			if serr := sink(buf[:n]); serr != nil {
				return total, serr
			}
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
		if st == Done {
			return total, nil
		}
	}
}
