package ipc

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/joshuapare/flashdm/pkg/types"
)

// Command executes one named operation on a CBOR payload.
type Command func(ctx context.Context, in []byte) ([]byte, error)

// Interface is a named, versioned set of commands.
type Interface struct {
	Name     string
	Version  int
	Commands map[string]Command
}

// Info summarizes a published interface.
type Info struct {
	Name     string   `json:"name"`
	Version  int      `json:"version"`
	Commands []string `json:"commands"`
}

// Empty is the payload of commands without arguments or results.
type Empty struct{}

// Table holds the published interfaces. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	ifaces map[string]*Interface
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{ifaces: make(map[string]*Interface)}
}

// Publish makes iface callable. A second interface with the same name is
// rejected.
func (t *Table) Publish(iface *Interface) error {
	if iface == nil || iface.Name == "" {
		return types.Errorf(types.ErrKindArgument, "publish: interface has no name")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ifaces[iface.Name]; ok {
		return types.Wrap(types.ErrKindDuplicate, "publish "+iface.Name, types.ErrDuplicate)
	}
	t.ifaces[iface.Name] = iface
	return nil
}

// Unpublish removes the interface called name.
func (t *Table) Unpublish(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ifaces[name]; !ok {
		return types.Wrap(types.ErrKindNotFound, "unpublish "+name, types.ErrNotFound)
	}
	delete(t.ifaces, name)
	return nil
}

// Published reports whether an interface called name is published.
func (t *Table) Published(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ifaces[name]
	return ok
}

// Interfaces lists the published interfaces sorted by name.
func (t *Table) Interfaces() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Info, 0, len(t.ifaces))
	for _, iface := range t.ifaces {
		cmds := make([]string, 0, len(iface.Commands))
		for name := range iface.Commands {
			cmds = append(cmds, name)
		}
		slices.Sort(cmds)
		out = append(out, Info{Name: iface.Name, Version: iface.Version, Commands: cmds})
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Call runs command cmd of interface name with payload in.
//
// The table lock is released before the command runs, so commands may
// publish or unpublish interfaces themselves.
func (t *Table) Call(ctx context.Context, name, cmd string, in []byte) ([]byte, error) {
	t.mu.RLock()
	iface, ok := t.ifaces[name]
	var fn Command
	if ok {
		fn = iface.Commands[cmd]
	}
	t.mu.RUnlock()

	if !ok {
		return nil, types.Wrap(types.ErrKindNotFound, fmt.Sprintf("interface %q", name), types.ErrNotFound)
	}
	if fn == nil {
		return nil, types.Wrap(types.ErrKindNotFound, fmt.Sprintf("command %s.%s", name, cmd), types.ErrNotFound)
	}
	return fn(ctx, in)
}

// Handler adapts a typed function into a Command. An empty payload decodes
// as the zero In.
func Handler[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Command {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var in In
		if len(payload) > 0 {
			if err := Unmarshal(payload, &in); err != nil {
				return nil, types.Wrap(types.ErrKindArgument, "decode arguments", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return Marshal(out)
	}
}
