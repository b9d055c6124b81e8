package registry

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/pkg/types"
)

// Observer receives the outcome of every mutating operation.
type Observer interface {
	OnRegistry(op string, err error)
}

type nopObserver struct{}

func (nopObserver) OnRegistry(string, error) {}

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver reports operation outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// Registry is the flash key/value store. One coarse lock serializes every
// operation.
type Registry struct {
	mu          sync.Mutex
	a           *flash.Adapter
	info        flash.Region
	buffer      flash.Region
	capacity    int
	log         *slog.Logger
	obs         Observer
	initialized bool
}

// Stats summarizes the node table and buffer usage.
type Stats struct {
	Capacity    int    `json:"capacity"`
	Used        int    `json:"used"`
	Live        int    `json:"live"`
	Tombstoned  int    `json:"tombstoned"`
	BufferUsed  uint32 `json:"buffer_used"`
	BufferTotal uint32 `json:"buffer_total"`
}

// New builds a registry over the node table info and the key/value buffer.
// Both regions must lie in flash, be double-word aligned and not overlap.
// The regions are expected to have been erased out of band.
func New(a *flash.Adapter, info, buffer flash.Region, opts ...Option) (*Registry, error) {
	o := options{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	geo := a.Geometry()
	for name, r := range map[string]flash.Region{"node table": info, "buffer": buffer} {
		if r.Empty() || !geo.Contains(r) {
			return nil, types.Errorf(types.ErrKindArgument, "registry %s %s outside flash", name, r)
		}
		if !format.IsDoubleWordAligned(r.Base) || !format.IsDoubleWordAligned(r.Size) {
			return nil, types.Errorf(types.ErrKindArgument, "registry %s %s not double-word aligned", name, r)
		}
	}
	if info.Overlaps(buffer) {
		return nil, types.Errorf(types.ErrKindArgument, "registry node table %s overlaps buffer %s", info, buffer)
	}
	capacity := int(info.Size / format.NodeSize)
	if capacity == 0 {
		return nil, types.Errorf(types.ErrKindArgument, "registry node table %s holds no node", info)
	}

	return &Registry{
		a:        a,
		info:     info,
		buffer:   buffer,
		capacity: capacity,
		log:      o.logger,
		obs:      o.observer,
	}, nil
}

// Init arms the registry. There is nothing to replay: every call reads the
// node table afresh.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return types.Errorf(types.ErrKindBusy, "registry already initialized")
	}
	r.initialized = true
	return nil
}

// Deinit disarms the registry.
func (r *Registry) Deinit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return types.Errorf(types.ErrKindArgument, "registry not initialized")
	}
	r.initialized = false
	return nil
}

func (r *Registry) ready() error {
	if !r.initialized {
		return types.Errorf(types.ErrKindArgument, "registry not initialized")
	}
	return nil
}

// Get returns a copy of the value stored under key.
func (r *Registry) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, types.Errorf(types.ErrKindArgument, "registry get: empty key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return nil, err
	}
	n, err := r.find(key)
	if err != nil {
		return nil, err
	}
	v, err := r.a.Read(n.valAddr, int(n.valLen))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// Add stores value under key. Keys must be unique among live entries.
func (r *Registry) Add(key, value []byte) (err error) {
	defer func() { r.obs.OnRegistry("add", err) }()

	if len(key) == 0 || len(value) == 0 {
		return types.Errorf(types.ErrKindArgument, "registry add: empty key or value")
	}
	if uint64(len(key)) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return types.Errorf(types.ErrKindArgument, "registry add: entry too large")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}

	switch _, err := r.find(key); {
	case err == nil:
		return types.Wrap(types.ErrKindDuplicate, fmt.Sprintf("registry add %q", key), types.ErrDuplicate)
	case !isNotFound(err):
		return err
	}

	alloc := newBump(r.buffer)
	free, err := r.scan(func(n node) bool {
		alloc.observe(n.keyAddr, n.keyLen)
		alloc.observe(n.valAddr, n.valLen)
		return true
	})
	if err != nil {
		return err
	}

	// A free slot holding bytes is a write cut short before its ready flag.
	for ; free < r.capacity; free++ {
		n, err := r.readNode(free)
		if err != nil {
			return err
		}
		if n.erased {
			break
		}
		alloc.observe(n.keyAddr, n.keyLen)
		alloc.observe(n.valAddr, n.valLen)
		if err := r.seal(n); err != nil {
			return err
		}
	}
	if free >= r.capacity {
		return types.Wrap(types.ErrKindCapacity, "registry add: node table full", types.ErrOutOfSpace)
	}

	keyAddr, valAddr, end, err := alloc.place(uint32(len(key)), uint32(len(value)))
	if err != nil {
		return err
	}
	dest, err := r.a.Read(keyAddr, int(end-keyAddr))
	if err != nil {
		return err
	}
	if !buf.IsErased(dest, format.ErasedByte) {
		return types.Errorf(types.ErrKindCorrupt,
			"registry add: buffer [0x%08X, 0x%08X) not erased", keyAddr, end)
	}

	nodeAddr := r.nodeAddr(free)
	desc := make([]byte, format.NodeDescriptorSize)
	buf.PutU32(desc, 0, keyAddr)
	buf.PutU32(desc, 4, uint32(len(key)))
	buf.PutU32(desc, 8, valAddr)
	buf.PutU32(desc, 12, uint32(len(value)))

	steps := []struct {
		addr uint32
		data []byte
	}{
		{nodeAddr + format.NodeDescriptorOffset, desc},
		{keyAddr, key},
		{valAddr, value},
		{nodeAddr + format.NodeReadyOffset, flag()},
	}
	for _, s := range steps {
		if err := r.a.Write(s.addr, s.data); err != nil {
			return err
		}
		if err := r.a.Flush(); err != nil {
			return err
		}
	}

	r.log.Info("registry add",
		"key", string(key),
		"node", free,
		"value_addr", fmt.Sprintf("0x%08X", valAddr),
		"size", len(value))
	return nil
}

// Delete tombstones the live entry stored under key.
func (r *Registry) Delete(key []byte) (err error) {
	defer func() { r.obs.OnRegistry("delete", err) }()

	if len(key) == 0 {
		return types.Errorf(types.ErrKindArgument, "registry delete: empty key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}
	n, err := r.find(key)
	if err != nil {
		return err
	}
	if err := r.a.Write(n.addr+format.NodeDeletedOffset, flag()); err != nil {
		return err
	}
	r.log.Info("registry delete", "key", string(key), "node", n.index)
	return nil
}

// Keys lists the live keys in physical order.
func (r *Registry) Keys() ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return nil, err
	}
	var keys [][]byte
	var readErr error
	_, err := r.scan(func(n node) bool {
		if n.deleted {
			return true
		}
		k, err := r.a.Read(n.keyAddr, int(n.keyLen))
		if err != nil {
			readErr = err
			return false
		}
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, readErr
}

// Stats reports node table and buffer usage.
func (r *Registry) Stats() (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return Stats{}, err
	}
	st := Stats{Capacity: r.capacity, BufferTotal: r.buffer.Size}
	alloc := newBump(r.buffer)
	used, err := r.scan(func(n node) bool {
		if n.deleted {
			st.Tombstoned++
		} else {
			st.Live++
		}
		alloc.observe(n.keyAddr, n.keyLen)
		alloc.observe(n.valAddr, n.valLen)
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	st.Used = used
	st.BufferUsed = alloc.used()
	return st, nil
}

// find returns the live node holding key.
func (r *Registry) find(key []byte) (node, error) {
	var found node
	var ok bool
	var readErr error
	_, err := r.scan(func(n node) bool {
		if n.deleted || n.keyLen != uint32(len(key)) {
			return true
		}
		k, err := r.a.Read(n.keyAddr, int(n.keyLen))
		if err != nil {
			readErr = err
			return false
		}
		if string(k) == string(key) {
			found, ok = n, true
			return false
		}
		return true
	})
	if err != nil {
		return node{}, err
	}
	if readErr != nil {
		return node{}, readErr
	}
	if !ok {
		return node{}, types.Wrap(types.ErrKindNotFound, fmt.Sprintf("registry key %q", key), types.ErrNotFound)
	}
	return found, nil
}

// seal turns a half-written node into a tombstone: delete flag first, then
// ready, so it never reads as live.
func (r *Registry) seal(n node) error {
	r.log.Warn("registry sealing interrupted node", "node", n.index)
	if !n.deleted {
		if err := r.a.Write(n.addr+format.NodeDeletedOffset, flag()); err != nil {
			return err
		}
	}
	return r.a.Write(n.addr+format.NodeReadyOffset, flag())
}

func isNotFound(err error) bool {
	k, ok := types.KindOf(err)
	return ok && k == types.ErrKindNotFound
}

func flag() []byte {
	return make([]byte, format.DoubleWordSize)
}
