package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashdm/internal/config"
	"github.com/joshuapare/flashdm/internal/logger"
)

// app carries the global flags and, inside a shell, the booted device.
type app struct {
	cfgPath   string
	flashPath string
	verbose   bool
	quiet     bool
	jsonOut   bool

	cfg     *config.Config
	session *device
	out     io.Writer
}

func execute(args []string) int {
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if cerr := a.finish(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dcfctl",
		Short: "Operate a simulated flash device: registry, packages and raw flash",
		Long: `dcfctl boots a simulated STM32L4 flash device backed by an image file and
exposes its key/value registry, its package layout manager and the raw flash.

The package table lives in RAM, as on the device, so installs only last for
one invocation. Use "dcfctl shell" to run several commands in one boot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&a.flashPath, "flash", "", "Flash image file (overrides the configuration)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newRegistryCmd(a),
		newPkgCmd(a),
		newFlashCmd(a),
		newCallCmd(a),
		newShellCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// setup loads the configuration and the logger once per process.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.flashPath != "" {
		cfg.Flash.Image = a.flashPath
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	if err := logger.Init(logger.Options{
		Level:         level,
		Quiet:         a.quiet,
		Stderr:        cmd.ErrOrStderr(),
		Dir:           cfg.Logging.Dir,
		RetentionDays: cfg.Logging.RetentionDays,
	}); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// boot returns the running device, booting it on first use.
func (a *app) boot() (*device, error) {
	if a.session != nil {
		return a.session, nil
	}
	d, err := openDevice(a.cfg, logger.L)
	if err != nil {
		return nil, err
	}
	a.session = d
	return d, nil
}

// finish shuts the device down unless a shell still owns it. It runs after
// every command, failed ones included, and is safe to call twice.
func (a *app) finish() error {
	if a.session != nil && a.session.shell {
		return nil
	}
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
		a.session = nil
	}
	errs = append(errs, logger.Close())
	return errors.Join(errs...)
}

// printInfo prints a message unless in quiet mode.
func (a *app) printInfo(format string, args ...any) {
	if !a.quiet {
		fmt.Fprintf(a.out, format, args...)
	}
}

// printVerbose prints a message when verbose mode is enabled.
func (a *app) printVerbose(format string, args ...any) {
	if a.verbose && !a.quiet {
		fmt.Fprintf(a.out, format, args...)
	}
}

// printJSON outputs v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAddr parses decimal or 0x-prefixed addresses.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
