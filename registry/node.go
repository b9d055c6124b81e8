package registry

import (
	"github.com/joshuapare/flashdm/internal/buf"
	"github.com/joshuapare/flashdm/internal/format"
)

// node is a decoded node table entry.
type node struct {
	index   int
	addr    uint32
	ready   bool
	deleted bool
	erased  bool // all 32 bytes still erased

	keyAddr, keyLen uint32
	valAddr, valLen uint32
}

func (r *Registry) nodeAddr(i int) uint32 {
	return r.info.Base + uint32(i)*format.NodeSize
}

func (r *Registry) readNode(i int) (node, error) {
	addr := r.nodeAddr(i)
	b, err := r.a.Read(addr, format.NodeSize)
	if err != nil {
		return node{}, err
	}
	return node{
		index:   i,
		addr:    addr,
		ready:   buf.U64LE(b[format.NodeReadyOffset:]) != format.ErasedDoubleWord,
		deleted: buf.U64LE(b[format.NodeDeletedOffset:]) != format.ErasedDoubleWord,
		erased:  buf.IsErased(b, format.ErasedByte),
		keyAddr: buf.U32LE(b[format.NodeKeyOffset:]),
		keyLen:  buf.U32LE(b[format.NodeKeyOffset+4:]),
		valAddr: buf.U32LE(b[format.NodeValueOffset:]),
		valLen:  buf.U32LE(b[format.NodeValueOffset+4:]),
	}, nil
}

// scan visits ready nodes in physical order until fn returns false or a
// node that was never made ready ends the log. It returns the index of that
// node, or the capacity when the table is full.
func (r *Registry) scan(fn func(n node) bool) (int, error) {
	for i := 0; i < r.capacity; i++ {
		n, err := r.readNode(i)
		if err != nil {
			return 0, err
		}
		if !n.ready {
			return i, nil
		}
		if !fn(n) {
			return i, nil
		}
	}
	return r.capacity, nil
}
