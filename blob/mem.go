package blob

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/joshuapare/flashdm/pkg/types"
)

// MemStore serves blobs from memory. Configure the exported fields before
// handing out clients.
type MemStore struct {
	// ChunkSize is the size of each chunk; DefaultChunkSize when zero.
	ChunkSize int
	// FailAtChunk makes NextChunk fail with a system error at this chunk
	// index. Negative disables.
	FailAtChunk int
	// TimeoutAtChunk makes NextChunk report a timeout at this chunk index.
	// Negative disables.
	TimeoutAtChunk int
	// EOFWithData delivers the final chunk together with io.EOF.
	EOFWithData bool
	// SizeOverride, when positive, replaces the announced total size.
	SizeOverride int64

	mu     sync.Mutex
	blobs  map[string][]byte
	opened int
	closed int
}

// NewMemStore returns an empty store with faults disabled.
func NewMemStore() *MemStore {
	return &MemStore{FailAtChunk: -1, TimeoutAtChunk: -1, blobs: make(map[string][]byte)}
}

// Put stores data under path ("container/file.ext").
func (s *MemStore) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
}

// Factory returns a Factory whose clients read from s.
func (s *MemStore) Factory() Factory {
	return func() Client { return &MemClient{store: s} }
}

// Stats reports how many clients connected and how many were closed.
func (s *MemStore) Stats() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

// MemClient is the Client handed out by a MemStore.
type MemClient struct {
	store *MemStore

	data      []byte
	connected bool
	sent      bool
	closed    bool
	pos       int
	chunk     int
	eof       bool
}

// Connect implements Client.
func (c *MemClient) Connect(_ context.Context, ep Endpoint) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	data, ok := c.store.blobs[ep.Path]
	if !ok {
		return types.Errorf(types.ErrKindNotFound, "blob %s", ep.String())
	}
	c.data = data
	c.connected = true
	c.store.opened++
	return nil
}

// SendRequest implements Client.
func (c *MemClient) SendRequest(context.Context) error {
	if !c.connected {
		return types.Errorf(types.ErrKindArgument, "blob request before connect")
	}
	c.sent = true
	return nil
}

// TotalSize implements Client.
func (c *MemClient) TotalSize() int64 {
	if !c.sent {
		return -1
	}
	if c.store.SizeOverride > 0 {
		return c.store.SizeOverride
	}
	return int64(len(c.data))
}

// NextChunk implements Client. Faults fire without waiting.
func (c *MemClient) NextChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.sent || c.closed {
		return nil, types.Errorf(types.ErrKindArgument, "blob chunk on idle client")
	}
	if c.eof {
		return nil, io.EOF
	}
	idx := c.chunk
	c.chunk++
	if idx == c.store.FailAtChunk {
		return nil, types.Errorf(types.ErrKindSystem, "blob chunk %d: connection reset", idx)
	}
	if idx == c.store.TimeoutAtChunk {
		return nil, types.Wrap(types.ErrKindTimeout, "blob chunk after "+timeout.String(), types.ErrTimeout)
	}

	size := c.store.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	end := min(c.pos+size, len(c.data))
	out := c.data[c.pos:end:end]
	c.pos = end
	if c.pos == len(c.data) && (c.store.EOFWithData || len(out) == 0) {
		c.eof = true
		return out, io.EOF
	}
	return out, nil
}

// Close implements Client.
func (c *MemClient) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.connected {
		c.store.mu.Lock()
		c.store.closed++
		c.store.mu.Unlock()
	}
	return nil
}
