// Package config loads the dcfctl configuration: defaults, then an optional
// YAML file, then DCF_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/format"
)

// EnvPrefix prefixes every environment override, e.g. DCF_FLASH_IMAGE.
const EnvPrefix = "DCF"

// Config holds all dcfctl configuration.
type Config struct {
	Flash    FlashConfig    `yaml:"flash" envconfig:"FLASH"`
	Registry RegistryConfig `yaml:"registry" envconfig:"REGISTRY"`
	Packages PackagesConfig `yaml:"packages" envconfig:"PACKAGES"`
	Blob     BlobConfig     `yaml:"blob" envconfig:"BLOB"`
	Logging  LogConfig      `yaml:"logging" envconfig:"LOG"`
}

// FlashConfig describes the simulated part and its backing image.
type FlashConfig struct {
	Image    string `yaml:"image" envconfig:"IMAGE"`
	Base     uint32 `yaml:"base" envconfig:"BASE"`
	BankSize uint32 `yaml:"bank_size" envconfig:"BANK_SIZE"`
	Banks    int    `yaml:"banks" envconfig:"BANKS"`
	PageSize uint32 `yaml:"page_size" envconfig:"PAGE_SIZE"`
}

// RegistryConfig places the node table and the key/value buffer.
type RegistryConfig struct {
	InfoBase   uint32 `yaml:"info_base" envconfig:"INFO_BASE"`
	InfoSize   uint32 `yaml:"info_size" envconfig:"INFO_SIZE"`
	BufferBase uint32 `yaml:"buffer_base" envconfig:"BUFFER_BASE"`
	BufferSize uint32 `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
}

// PackagesConfig places the package region and bounds the package table.
type PackagesConfig struct {
	Base           uint32 `yaml:"base" envconfig:"BASE"`
	Size           uint32 `yaml:"size" envconfig:"SIZE"`
	MaxPackages    int    `yaml:"max_packages" envconfig:"MAX_PACKAGES"`
	MaxPackageSize uint32 `yaml:"max_package_size" envconfig:"MAX_PACKAGE_SIZE"`
	MaxDataSize    uint32 `yaml:"max_data_size" envconfig:"MAX_DATA_SIZE"`
	MaxNameLength  int    `yaml:"max_name_length" envconfig:"MAX_NAME_LENGTH"`
	VerifyChecksum bool   `yaml:"verify_checksum" envconfig:"VERIFY_CHECKSUM"`
}

// BlobConfig tunes the HTTP blob transport.
type BlobConfig struct {
	ChunkSize    int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE"`
	ChunkTimeout time.Duration `yaml:"chunk_timeout" envconfig:"CHUNK_TIMEOUT"`
	RetryMax     int           `yaml:"retry_max" envconfig:"RETRY_MAX"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" envconfig:"RETRY_WAIT_MAX"`
	UserAgent    string        `yaml:"user_agent" envconfig:"USER_AGENT"`
}

// LogConfig holds logging configuration. An empty Dir disables the log file.
type LogConfig struct {
	Level         string `yaml:"level" envconfig:"LEVEL"`
	Dir           string `yaml:"dir" envconfig:"DIR"`
	RetentionDays int    `yaml:"retention_days" envconfig:"RETENTION_DAYS"`
}

// Default returns the STM32L475 layout: packages in the first half of bank
// 2, the registry in its last 64 KiB.
func Default() *Config {
	return &Config{
		Flash: FlashConfig{
			Image:    "flash.img",
			Base:     format.DefaultFlashBase,
			BankSize: format.DefaultBankSize,
			Banks:    format.DefaultBanks,
			PageSize: format.DefaultPageSize,
		},
		Registry: RegistryConfig{
			InfoBase:   0x080F0000,
			InfoSize:   0x800,
			BufferBase: 0x080F0800,
			BufferSize: 0xF800,
		},
		Packages: PackagesConfig{
			Base:           0x08080000,
			Size:           0x40000,
			MaxPackages:    10,
			MaxPackageSize: 0xFFFF,
			MaxDataSize:    0x100,
			MaxNameLength:  32,
			VerifyChecksum: true,
		},
		Blob: BlobConfig{
			ChunkSize:    1536,
			ChunkTimeout: 6 * time.Second,
			RetryMax:     3,
			RetryWaitMin: 500 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
			UserAgent:    "flashdm/1.0",
		},
		Logging: LogConfig{
			Level:         "info",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration from path (skipped when empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// Geometry is the flash geometry.
func (c *Config) Geometry() flash.Geometry {
	return flash.Geometry{
		Base:     c.Flash.Base,
		BankSize: c.Flash.BankSize,
		Banks:    c.Flash.Banks,
		PageSize: c.Flash.PageSize,
		WordSize: format.DoubleWordSize,
	}
}

// PackageRegion is the flash reserved for packages.
func (c *Config) PackageRegion() flash.Region {
	return flash.Region{Base: c.Packages.Base, Size: c.Packages.Size}
}

// RegistryRegions are the node table and the key/value buffer.
func (c *Config) RegistryRegions() (info, buffer flash.Region) {
	return flash.Region{Base: c.Registry.InfoBase, Size: c.Registry.InfoSize},
		flash.Region{Base: c.Registry.BufferBase, Size: c.Registry.BufferSize}
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.Logging.Level, err)
	}
	return l, nil
}

// Validate checks that the geometry is consistent and that every region is
// page aligned, inside flash and disjoint from the others.
func (c *Config) Validate() error {
	g := c.Geometry()
	if err := g.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	info, buffer := c.RegistryRegions()
	regions := []struct {
		name string
		r    flash.Region
	}{
		{"packages", c.PackageRegion()},
		{"registry info", info},
		{"registry buffer", buffer},
	}
	for i, a := range regions {
		if _, err := flash.NewRegion(a.r.Base, a.r.Size); err != nil {
			return fmt.Errorf("config: %s region: %w", a.name, err)
		}
		if !g.Contains(a.r) {
			return fmt.Errorf("config: %s region %s outside flash %s", a.name, a.r, g)
		}
		if !format.IsPageAligned(a.r.Base, g.PageSize) || !format.IsPageAligned(a.r.Size, g.PageSize) {
			return fmt.Errorf("config: %s region %s is not page aligned", a.name, a.r)
		}
		for _, b := range regions[i+1:] {
			if a.r.Overlaps(b.r) {
				return fmt.Errorf("config: %s region %s overlaps %s region %s", a.name, a.r, b.name, b.r)
			}
		}
	}
	if c.Packages.MaxPackages <= 0 || c.Packages.MaxNameLength <= 0 || c.Packages.MaxDataSize == 0 {
		return fmt.Errorf("config: package limits must be positive")
	}
	if c.Blob.ChunkSize <= 0 || c.Blob.ChunkTimeout <= 0 {
		return fmt.Errorf("config: blob chunk size and timeout must be positive")
	}
	if c.Blob.RetryMax < 0 {
		return fmt.Errorf("config: blob retry_max %d", c.Blob.RetryMax)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}
