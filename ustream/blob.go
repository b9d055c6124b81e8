package ustream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/pkg/types"
)

// blobSource pulls chunks from a blob.Client. The current chunk is owned by
// the source; bytes are handed out in order only.
type blobSource struct {
	client   blob.Client
	session  string
	timeout  time.Duration
	log      *slog.Logger
	observer Observer

	chunk    []byte
	off      int
	consumed int64
	eof      bool
	closed   bool
}

func (b *blobSource) read(ctx context.Context, pos int64, p []byte) (int, bool, error) {
	if pos != b.consumed {
		return 0, false, types.Errorf(types.ErrKindNotSupported,
			"ustream blob read at %d: source is at %d", pos, b.consumed)
	}
	total := 0
	for total < len(p) {
		if b.off < len(b.chunk) {
			n := copy(p[total:], b.chunk[b.off:])
			b.off += n
			total += n
			continue
		}
		if b.eof {
			break
		}
		if err := b.next(ctx); err != nil {
			b.consumed += int64(total)
			return total, false, err
		}
	}
	b.consumed += int64(total)
	return total, b.eof && b.off >= len(b.chunk), nil
}

// next replaces the drained chunk with the following one.
func (b *blobSource) next(ctx context.Context) error {
	chunk, err := b.client.NextChunk(ctx, b.timeout)
	switch {
	case errors.Is(err, io.EOF):
		b.eof = true
	case err != nil:
		if errors.Is(err, types.ErrTimeout) {
			b.observer.OnTimeout()
		}
		b.log.Debug("blob chunk failed", "session", b.session, "offset", b.consumed, "error", err)
		var te *types.Error
		if errors.As(err, &te) {
			return err
		}
		return types.Wrap(types.ErrKindSystem, "ustream blob chunk", err)
	}
	b.chunk, b.off = chunk, 0
	if len(chunk) > 0 {
		b.observer.OnChunk(len(chunk))
		b.log.Debug("blob chunk", "session", b.session, "offset", b.consumed, "size", len(chunk), "eof", b.eof)
	}
	return nil
}

func (b *blobSource) seekable() bool { return false }

func (b *blobSource) close() {
	if b.closed {
		return
	}
	b.closed = true
	b.chunk = nil
	if err := b.client.Close(); err != nil {
		b.log.Debug("blob close failed", "session", b.session, "error", err)
	}
	b.log.Debug("blob session closed", "session", b.session, "bytes", b.consumed)
}

// BlobStream is a Stream over a blob download.
type BlobStream struct {
	*Stream
	src           *blobSource
	contentLength int64
}

// NewBlob connects client to ep, sends the request and waits for the first
// chunk. The stream length is the size announced by the transport rounded
// up to the length granularity. On failure the client is closed.
func NewBlob(ctx context.Context, client blob.Client, ep blob.Endpoint, opts ...Option) (*BlobStream, error) {
	o := buildOptions(opts)
	src := &blobSource{
		client:   client,
		session:  uuid.NewString(),
		timeout:  o.chunkTimeout,
		log:      o.logger,
		observer: o.observer,
	}

	fail := func(err error) (*BlobStream, error) {
		_ = client.Close()
		var te *types.Error
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, types.Wrap(types.ErrKindSystem, "ustream blob "+ep.String(), err)
	}

	if err := client.Connect(ctx, ep); err != nil {
		return fail(err)
	}
	if err := client.SendRequest(ctx); err != nil {
		return fail(err)
	}
	if err := src.next(ctx); err != nil {
		return fail(err)
	}

	size := client.TotalSize()
	if size <= 0 {
		return fail(types.Errorf(types.ErrKindNotSupported, "blob %s did not announce its size", ep.String()))
	}
	length, err := roundUp(size, o.granularity)
	if err != nil {
		return fail(err)
	}

	src.log.Debug("blob session opened",
		"session", src.session,
		"url", ep.String(),
		"size", size,
		"length", length)

	cb := &controlBlock{src: src, dataRelease: o.dataRelease, cbRelease: o.cbRelease}
	return &BlobStream{Stream: newStream(cb, 0, 0, length), src: src, contentLength: size}, nil
}

// ContentLength is the unrounded size announced by the transport.
func (b *BlobStream) ContentLength() int64 { return b.contentLength }

// SessionID identifies the download in logs.
func (b *BlobStream) SessionID() string { return b.src.session }

func roundUp(n, granularity int64) (int64, error) {
	if n > math.MaxUint32 {
		return 0, types.Errorf(types.ErrKindArgument, "blob size %d exceeds the address space", n)
	}
	if r := n % granularity; r != 0 {
		n += granularity - r
	}
	if n > math.MaxUint32 {
		return 0, types.Errorf(types.ErrKindArgument, "blob size rounds past the address space")
	}
	return n, nil
}

func (b *BlobStream) String() string {
	return fmt.Sprintf("blob stream %s (%d/%d bytes)", b.src.session, b.src.consumed, b.contentLength)
}
