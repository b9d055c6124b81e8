package dm

import (
	"io"
	"log/slog"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/ustream"
)

const (
	DefaultMaxPackages    = 10
	DefaultMaxDataSize    = 0x100
	DefaultMaxNameLength  = 32
	DefaultMaxPackageSize = 0xFFFF
	defaultWriteBuffer    = 0x400
)

// Observer receives install and uninstall outcomes.
type Observer interface {
	OnInstall(source string, err error)
	OnUninstall(err error)
	OnPackages(n int)
}

type nopObserver struct{}

func (nopObserver) OnInstall(string, error) {}
func (nopObserver) OnUninstall(error)       {}
func (nopObserver) OnPackages(int)          {}

// Option configures a Manager.
type Option func(*options)

type options struct {
	maxPackages    int
	maxDataSize    uint32
	maxNameLength  int
	maxPackageSize uint32
	writeBuffer    int
	verifyChecksum bool
	factory        blob.Factory
	resolver       Resolver
	table          *ipc.Table
	builtins       []BuiltIn
	streamOpts     []ustream.Option
	logger         *slog.Logger
	observer       Observer
}

func defaultOptions() options {
	return options{
		maxPackages:    DefaultMaxPackages,
		maxDataSize:    DefaultMaxDataSize,
		maxNameLength:  DefaultMaxNameLength,
		maxPackageSize: DefaultMaxPackageSize,
		writeBuffer:    defaultWriteBuffer,
		verifyChecksum: true,
		resolver:       NewSymbolTable(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:       nopObserver{},
	}
}

// WithMaxPackages sets the size of the package table.
func WithMaxPackages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPackages = n
		}
	}
}

// WithMaxDataSize sets the size of each package's RAM data context. A
// package must declare strictly less.
func WithMaxDataSize(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDataSize = n
		}
	}
}

// WithMaxNameLength bounds package names, in bytes after NFC normalization.
func WithMaxNameLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxNameLength = n
		}
	}
}

// WithMaxPackageSize sets the extent the gap search reserves for a blob
// whose transport reports less.
func WithMaxPackageSize(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPackageSize = n
		}
	}
}

// WithWriteBuffer sets the read buffer used while streaming a blob to flash.
func WithWriteBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.writeBuffer = n
		}
	}
}

// WithVerifyChecksum enables or disables checksum verification on install.
func WithVerifyChecksum(v bool) Option {
	return func(o *options) { o.verifyChecksum = v }
}

// WithBlobFactory sets where blob installs get their transport.
func WithBlobFactory(f blob.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithResolver sets how entry points are resolved to callables.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithTable sets the IPC table packages publish into. By default the
// manager owns a fresh table.
func WithTable(t *ipc.Table) Option {
	return func(o *options) { o.table = t }
}

// WithBuiltIns registers the packages SourceBuiltIn can install.
func WithBuiltIns(b ...BuiltIn) Option {
	return func(o *options) { o.builtins = append(o.builtins, b...) }
}

// WithStreamOptions passes options to the blob stream of every download.
func WithStreamOptions(opts ...ustream.Option) Option {
	return func(o *options) { o.streamOpts = append(o.streamOpts, opts...) }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver reports install and uninstall outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
