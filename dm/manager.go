package dm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/format"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

// BuiltIn is a statically linked package.
type BuiltIn struct {
	Name      string
	Version   string
	Publish   func(t *ipc.Table) error
	Unpublish func(t *ipc.Table) error
}

// PackageInfo describes one installed package.
type PackageInfo struct {
	Name     string `cbor:"name" json:"name"`
	Source   string `cbor:"source" json:"source"`
	Version  string `cbor:"version" json:"version"`
	Module   uint32 `cbor:"module" json:"module"`
	Base     uint32 `cbor:"base" json:"base"`
	CodeSize uint32 `cbor:"code_size" json:"code_size"`
	DataSize uint32 `cbor:"data_size" json:"data_size"`
}

type record struct {
	name    string
	source  SourceType
	pre     *Preamble
	data    []byte
	builtin *BuiltIn
}

func (r *record) extent() flash.Region {
	if r.pre == nil {
		return flash.Region{}
	}
	return r.pre.Extent()
}

func (r *record) info() PackageInfo {
	pi := PackageInfo{Name: r.name, Source: r.source.String()}
	switch {
	case r.pre != nil:
		pi.Version = r.pre.Version()
		pi.Module = r.pre.ApplicationModule
		pi.Base = r.pre.Base
		pi.CodeSize = r.pre.CodeSize
		pi.DataSize = r.pre.DataSize
	case r.builtin != nil:
		pi.Version = r.builtin.Version
	}
	return pi
}

// Manager is the package layout manager. One lock serializes every
// operation, including the whole of a blob download. The lock is not
// re-entrant: entry points must not call back into the manager.
type Manager struct {
	mu          sync.Mutex
	a           *flash.Adapter
	region      flash.Region
	opts        options
	table       *ipc.Table
	log         *slog.Logger
	records     []*record
	initialized bool
}

// New builds a manager over region, which must lie in flash and start on a
// page boundary.
func New(a *flash.Adapter, region flash.Region, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if a == nil {
		return nil, types.Errorf(types.ErrKindArgument, "dm: nil flash adapter")
	}
	geo := a.Geometry()
	if region.Empty() || !geo.Contains(region) {
		return nil, types.Errorf(types.ErrKindArgument, "dm: package region %s outside flash %s", region, geo)
	}
	if !format.IsPageAligned(region.Base, geo.PageSize) {
		return nil, types.Errorf(types.ErrKindArgument, "dm: package region %s is not page aligned", region)
	}
	for i, b := range o.builtins {
		if b.Name == "" || b.Publish == nil || b.Unpublish == nil {
			return nil, types.Errorf(types.ErrKindArgument, "dm: built-in %d is incomplete", i)
		}
	}
	t := o.table
	if t == nil {
		t = ipc.NewTable()
	}
	return &Manager{
		a:       a,
		region:  region,
		opts:    o,
		table:   t,
		log:     o.logger,
		records: make([]*record, o.maxPackages),
	}, nil
}

// Table is the IPC table packages publish into.
func (m *Manager) Table() *ipc.Table { return m.table }

// Region is the flash reserved for packages.
func (m *Manager) Region() flash.Region { return m.region }

// Init publishes the packages interface.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return types.Wrap(types.ErrKindBusy, "dm init: already initialized", types.ErrBusy)
	}
	if err := m.table.Publish(m.Interface()); err != nil {
		return err
	}
	m.initialized = true
	m.log.Debug("dm initialized", "region", m.region.String(), "slots", len(m.records))
	return nil
}

// Deinit unpublishes the packages interface. Installed packages stay
// installed.
func (m *Manager) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return types.Errorf(types.ErrKindArgument, "dm deinit: not initialized")
	}
	if err := m.table.Unpublish(InterfaceName); err != nil {
		return err
	}
	m.initialized = false
	return nil
}

func (m *Manager) ready() error {
	if !m.initialized {
		return types.Errorf(types.ErrKindArgument, "dm: not initialized")
	}
	return nil
}

// Install installs a package. addr is the image base for SourceInMemory and
// the optional destination for SourceBlob. name is the package name for
// SourceInMemory and SourceBuiltIn and the blob URL for SourceBlob.
func (m *Manager) Install(ctx context.Context, source SourceType, addr Address, name string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.opts.observer.OnInstall(source.String(), err)
		if err == nil {
			m.opts.observer.OnPackages(m.count())
		}
	}()
	if err := m.ready(); err != nil {
		return err
	}

	switch source {
	case SourceInMemory:
		if addr == NoAddress {
			return types.Errorf(types.ErrKindArgument, "dm install: in-memory package needs an address")
		}
		pkgName, err := m.checkName(name)
		if err != nil {
			return err
		}
		return m.installInMemory(uint32(addr), pkgName, SourceInMemory)
	case SourceBlob:
		return m.installBlob(ctx, addr, name)
	case SourceBuiltIn:
		return m.installBuiltIn(name)
	case SourceCLI:
		return types.Wrap(types.ErrKindNotImplemented, "dm install from cli", types.ErrNotImplemented)
	default:
		return types.Errorf(types.ErrKindArgument, "dm install: unknown source %d", int(source))
	}
}

// installInMemory installs the image already in flash at base.
func (m *Manager) installInMemory(base uint32, name string, source SourceType) error {
	raw, err := m.a.Read(base, format.PreambleSize)
	if err != nil {
		return err
	}
	pre, err := DecodePreamble(base, raw)
	if err != nil {
		return err
	}
	if m.find(name) != nil {
		return types.Wrap(types.ErrKindDuplicate, fmt.Sprintf("dm install %q", name), types.ErrDuplicate)
	}
	if err := m.fit(pre.Extent()); err != nil {
		return err
	}
	slot := m.freeSlot()
	if slot < 0 {
		return types.Wrap(types.ErrKindCapacity, "dm install: package table full", types.ErrOutOfSpace)
	}
	if pre.DataSize >= m.opts.maxDataSize {
		return types.Errorf(types.ErrKindCapacity, "dm install %q: data size 0x%X exceeds 0x%X",
			name, pre.DataSize, m.opts.maxDataSize)
	}
	if err := m.boundName(name); err != nil {
		return err
	}
	if m.opts.verifyChecksum {
		if err := pre.VerifyChecksum(m.a); err != nil {
			return err
		}
	}

	var shell ShellEntry
	if pre.ShellEntry != 0 {
		if shell, err = m.shellEntry(name, pre); err != nil {
			return err
		}
	}
	publish, err := m.publishFunc(name, pre, KindPublish, pre.Publish)
	if err != nil {
		return err
	}

	data := make([]byte, m.opts.maxDataSize)
	if shell != nil {
		shell(data)
	}
	if err := publish(m.table, data); err != nil {
		return err
	}

	m.records[slot] = &record{name: name, source: source, pre: pre, data: data}
	m.log.Info("package installed",
		"package", name,
		"source", source.String(),
		"addr", fmt.Sprintf("0x%08X", base),
		"code_size", pre.CodeSize)
	return nil
}

func (m *Manager) installBuiltIn(name string) error {
	var b *BuiltIn
	for i := range m.opts.builtins {
		if m.opts.builtins[i].Name == name {
			b = &m.opts.builtins[i]
			break
		}
	}
	if b == nil {
		return types.Wrap(types.ErrKindNotFound, fmt.Sprintf("dm install: no built-in %q", name), types.ErrNotFound)
	}
	if m.find(name) != nil {
		return types.Wrap(types.ErrKindDuplicate, fmt.Sprintf("dm install %q", name), types.ErrDuplicate)
	}
	slot := m.freeSlot()
	if slot < 0 {
		return types.Wrap(types.ErrKindCapacity, "dm install: package table full", types.ErrOutOfSpace)
	}
	if err := b.Publish(m.table); err != nil {
		return err
	}
	m.records[slot] = &record{name: name, source: SourceBuiltIn, builtin: b}
	m.log.Info("package installed", "package", name, "source", SourceBuiltIn.String())
	return nil
}

// Uninstall unpublishes a package and frees its slot. When unpublish fails
// the package stays installed.
func (m *Manager) Uninstall(name string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.opts.observer.OnUninstall(err)
		if err == nil {
			m.opts.observer.OnPackages(m.count())
		}
	}()
	if err := m.ready(); err != nil {
		return err
	}
	if name == "" {
		return types.Errorf(types.ErrKindArgument, "dm uninstall: empty name")
	}
	name = norm.NFC.String(name)
	slot := slices.IndexFunc(m.records, func(r *record) bool { return r != nil && r.name == name })
	if slot < 0 {
		return types.Wrap(types.ErrKindNotFound, fmt.Sprintf("dm uninstall %q", name), types.ErrNotFound)
	}
	r := m.records[slot]

	if r.builtin != nil {
		err = r.builtin.Unpublish(m.table)
	} else {
		var unpublish PublishFunc
		if unpublish, err = m.publishFunc(name, r.pre, KindUnpublish, r.pre.Unpublish); err == nil {
			err = unpublish(m.table, r.data)
		}
	}
	if err != nil {
		m.log.Info("package uninstall failed", "package", name, "error", err)
		return err
	}

	m.records[slot] = nil
	m.log.Info("package uninstalled", "package", name)
	return nil
}

// Packages lists installed packages in flash order, built-ins last.
func (m *Manager) Packages() []PackageInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packages()
}

func (m *Manager) packages() []PackageInfo {
	live := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		if r != nil {
			live = append(live, r)
		}
	}
	slices.SortStableFunc(live, func(a, b *record) int {
		switch {
		case a.pre == nil && b.pre == nil:
			return 0
		case a.pre == nil:
			return 1
		case b.pre == nil:
			return -1
		}
		return cmp.Compare(a.pre.Base, b.pre.Base)
	})
	out := make([]PackageInfo, len(live))
	for i, r := range live {
		out[i] = r.info()
	}
	return out
}

// Lookup returns the installed package called name.
func (m *Manager) Lookup(name string) (PackageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(norm.NFC.String(name))
	if r == nil {
		return PackageInfo{}, types.Wrap(types.ErrKindNotFound, fmt.Sprintf("dm lookup %q", name), types.ErrNotFound)
	}
	return r.info(), nil
}

// checkName normalizes name to NFC.
func (m *Manager) checkName(name string) (string, error) {
	if name == "" {
		return "", types.Errorf(types.ErrKindArgument, "dm: empty package name")
	}
	return norm.NFC.String(name), nil
}

func (m *Manager) boundName(name string) error {
	if len(name) > m.opts.maxNameLength {
		return types.Errorf(types.ErrKindCapacity, "dm: package name %q longer than %d bytes", name, m.opts.maxNameLength)
	}
	return nil
}

func (m *Manager) find(name string) *record {
	for _, r := range m.records {
		if r != nil && r.name == name {
			return r
		}
	}
	return nil
}

func (m *Manager) freeSlot() int {
	return slices.Index(m.records, nil)
}

func (m *Manager) count() int {
	n := 0
	for _, r := range m.records {
		if r != nil {
			n++
		}
	}
	return n
}

func (m *Manager) shellEntry(name string, pre *Preamble) (ShellEntry, error) {
	fn, err := m.opts.resolver.Resolve(SymbolRef{Package: name, Preamble: pre, Kind: KindShellEntry, Addr: pre.ShellEntry})
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case ShellEntry:
		return f, nil
	case func([]byte):
		return f, nil
	}
	return nil, types.Errorf(types.ErrKindIncompatible, "package %q: shell entry resolves to %T", name, fn)
}

func (m *Manager) publishFunc(name string, pre *Preamble, kind Kind, addr uint32) (PublishFunc, error) {
	fn, err := m.opts.resolver.Resolve(SymbolRef{Package: name, Preamble: pre, Kind: kind, Addr: addr})
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case PublishFunc:
		return f, nil
	case func(*ipc.Table, []byte) error:
		return f, nil
	}
	return nil, types.Errorf(types.ErrKindIncompatible, "package %q: %s resolves to %T", name, kind, fn)
}

// isCapacity reports whether err is a fit failure the gap search may skip.
func isCapacity(err error) bool {
	return errors.Is(err, types.ErrOutOfSpace)
}
