package dm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

// ShellEntry initializes a package's data context before it is published.
type ShellEntry func(data []byte)

// PublishFunc publishes or unpublishes a package's interfaces. data is the
// context the shell entry initialized.
type PublishFunc func(t *ipc.Table, data []byte) error

// Kind names the preamble entry point being resolved.
type Kind int

const (
	KindShellEntry Kind = iota
	KindPublish
	KindUnpublish
)

func (k Kind) String() string {
	switch k {
	case KindShellEntry:
		return "shell_entry"
	case KindPublish:
		return "publish"
	case KindUnpublish:
		return "unpublish"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SymbolRef identifies one entry point of an installed package.
type SymbolRef struct {
	Package  string
	Preamble *Preamble
	Kind     Kind
	Addr     uint32
}

// Offset returns the entry point relative to the package base.
func (r SymbolRef) Offset() uint32 { return r.Addr - r.Preamble.Base }

// Resolver maps entry point addresses to callables. A ShellEntry is
// expected for KindShellEntry and a PublishFunc otherwise.
type Resolver interface {
	Resolve(ref SymbolRef) (any, error)
}

type symbolKey struct {
	module uint32
	offset uint32
}

// SymbolTable resolves entry points by application module id and offset
// from the package base, so an image resolves the same wherever it is
// placed.
type SymbolTable struct {
	mu      sync.RWMutex
	symbols map[symbolKey]any
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[symbolKey]any)}
}

// Set binds fn at offset in module. fn must be a ShellEntry or a PublishFunc.
func (s *SymbolTable) Set(module, offset uint32, fn any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[symbolKey{module, offset}] = fn
}

// Register binds every entry point that syms records for a package built
// with Build.
func (s *SymbolTable) Register(module uint32, syms Symbols, pkg Entries) {
	if syms.ShellEntry != 0 && pkg.ShellEntry != nil {
		s.Set(module, syms.ShellEntry, pkg.ShellEntry)
	}
	if pkg.Publish != nil {
		s.Set(module, syms.Publish, pkg.Publish)
	}
	if pkg.Unpublish != nil {
		s.Set(module, syms.Unpublish, pkg.Unpublish)
	}
}

// Resolve implements Resolver.
func (s *SymbolTable) Resolve(ref SymbolRef) (any, error) {
	s.mu.RLock()
	fn, ok := s.symbols[symbolKey{ref.Preamble.ApplicationModule, ref.Offset()}]
	s.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrKindNotFound,
			"package %q: no %s at +0x%X in module 0x%X", ref.Package, ref.Kind, ref.Offset(), ref.Preamble.ApplicationModule)
	}
	return fn, nil
}

// Entries are the Go callables behind a package's entry points.
type Entries struct {
	ShellEntry ShellEntry
	Publish    PublishFunc
	Unpublish  PublishFunc
}

// Chain tries each resolver in order and returns the first answer that is
// not a NotFound.
func Chain(rs ...Resolver) Resolver {
	return chain(rs)
}

type chain []Resolver

func (c chain) Resolve(ref SymbolRef) (any, error) {
	err := types.Errorf(types.ErrKindNotFound, "package %q: no resolver for %s", ref.Package, ref.Kind)
	for _, r := range c {
		fn, rerr := r.Resolve(ref)
		if rerr == nil {
			return fn, nil
		}
		if !errors.Is(rerr, types.ErrNotFound) {
			return nil, rerr
		}
		err = rerr
	}
	return nil, err
}

// LoggingSymbols resolves every entry point to a stub. The publish stub
// exposes one interface named after the package with an "info" command
// describing its preamble; the unpublish stub removes it. It lets images
// without Go bindings be installed and inspected.
type LoggingSymbols struct {
	Logger *slog.Logger
}

// PackageInfoResult is the payload of the stub "info" command.
type PackageInfoResult struct {
	Name     string `cbor:"name" json:"name"`
	Module   uint32 `cbor:"module" json:"module"`
	Version  string `cbor:"version" json:"version"`
	Base     uint32 `cbor:"base" json:"base"`
	CodeSize uint32 `cbor:"code_size" json:"code_size"`
}

// Resolve implements Resolver.
func (l LoggingSymbols) Resolve(ref SymbolRef) (any, error) {
	log := l.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("package", ref.Package, "addr", fmt.Sprintf("0x%08X", ref.Addr))
	p := ref.Preamble

	switch ref.Kind {
	case KindShellEntry:
		return ShellEntry(func([]byte) { log.Info("shell entry") }), nil
	case KindPublish:
		return PublishFunc(func(t *ipc.Table, _ []byte) error {
			log.Info("publish")
			info := PackageInfoResult{
				Name:     ref.Package,
				Module:   p.ApplicationModule,
				Version:  p.Version(),
				Base:     p.Base,
				CodeSize: p.CodeSize,
			}
			return t.Publish(&ipc.Interface{
				Name:    ref.Package,
				Version: int(p.VersionMinor),
				Commands: map[string]ipc.Command{
					"info": ipc.Handler(func(context.Context, ipc.Empty) (PackageInfoResult, error) {
						return info, nil
					}),
				},
			})
		}), nil
	case KindUnpublish:
		return PublishFunc(func(t *ipc.Table, _ []byte) error {
			log.Info("unpublish")
			return t.Unpublish(ref.Package)
		}), nil
	}
	return nil, types.Errorf(types.ErrKindArgument, "unknown entry point kind %d", int(ref.Kind))
}
