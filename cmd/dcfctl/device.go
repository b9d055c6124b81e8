package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/flashdm/blob"
	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/config"
	"github.com/joshuapare/flashdm/internal/metrics"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/packages"
	"github.com/joshuapare/flashdm/registry"
	"github.com/joshuapare/flashdm/ustream"
)

// device is one boot of the simulated part.
type device struct {
	cfg     *config.Config
	dev     *flash.FileDevice
	a       *flash.Adapter
	reg     *registry.Registry
	dm      *dm.Manager
	table   *ipc.Table
	promReg *prometheus.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
	shell   bool
}

func openDevice(cfg *config.Config, log *slog.Logger) (*device, error) {
	dev, err := flash.OpenFileDevice(cfg.Flash.Image, cfg.Geometry())
	if err != nil {
		return nil, err
	}
	d := &device{cfg: cfg, dev: dev, table: ipc.NewTable(), promReg: prometheus.NewRegistry(), log: log}
	d.metrics = metrics.New(d.promReg)
	d.a = flash.NewAdapter(dev, flash.WithLogger(log), flash.WithObserver(d.metrics))

	info, buffer := cfg.RegistryRegions()
	d.reg, err = registry.New(d.a, info, buffer, registry.WithLogger(log), registry.WithObserver(d.metrics))
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	p := cfg.Packages
	factory := blob.HTTPFactory(
		blob.WithChunkSize(cfg.Blob.ChunkSize),
		blob.WithRetry(cfg.Blob.RetryMax, cfg.Blob.RetryWaitMin, cfg.Blob.RetryWaitMax),
		blob.WithUserAgent(cfg.Blob.UserAgent),
		blob.WithHTTPLogger(log),
	)
	d.dm, err = dm.New(d.a, cfg.PackageRegion(),
		dm.WithMaxPackages(p.MaxPackages),
		dm.WithMaxPackageSize(p.MaxPackageSize),
		dm.WithMaxDataSize(p.MaxDataSize),
		dm.WithMaxNameLength(p.MaxNameLength),
		dm.WithVerifyChecksum(p.VerifyChecksum),
		dm.WithBlobFactory(factory),
		dm.WithStreamOptions(
			ustream.WithChunkTimeout(cfg.Blob.ChunkTimeout),
			ustream.WithObserver(d.metrics),
		),
		dm.WithResolver(dm.LoggingSymbols{Logger: log}),
		dm.WithTable(d.table),
		dm.WithBuiltIns(packages.BuiltIns(d.reg, log)...),
		dm.WithLogger(log),
		dm.WithObserver(d.metrics),
	)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	if err := d.reg.Init(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := d.table.Publish(d.reg.Interface()); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := d.dm.Init(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	log.Debug("device booted", "flash", cfg.Flash.Image, "geometry", cfg.Geometry().String())
	return d, nil
}

// Close shuts the managers down and syncs the image.
func (d *device) Close() error {
	var errs []error
	if err := d.dm.Deinit(); err != nil {
		errs = append(errs, err)
	}
	if err := d.reg.Deinit(); err != nil {
		errs = append(errs, err)
	}
	if err := d.dev.Sync(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := d.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
