package blob

import (
	"context"
	"time"
)

// Client fetches one blob as a sequence of chunks.
//
// NextChunk blocks for at most timeout. It returns io.EOF once the blob is
// exhausted; the final bytes may be returned together with io.EOF. Chunks
// stay valid until the next call to NextChunk or Close.
type Client interface {
	Connect(ctx context.Context, ep Endpoint) error
	SendRequest(ctx context.Context) error
	NextChunk(ctx context.Context, timeout time.Duration) ([]byte, error)
	// TotalSize is the size the transport announced for the blob, or -1
	// when unknown. Valid after SendRequest.
	TotalSize() int64
	Close() error
}

// Factory creates a fresh client for one download.
type Factory func() Client
