package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/internal/writer"
)

func newPkgCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pkg",
		Short: "Build, stage and install packages",
	}
	cmd.AddCommand(newPkgBuildCmd(a), newPkgWriteCmd(a), newPkgInstallCmd(a), newPkgUninstallCmd(a), newPkgListCmd(a))
	return cmd
}

func newPkgBuildCmd(a *app) *cobra.Command {
	var (
		spec     dm.ImageSpec
		codeFile string
		codeSize int
	)
	cmd := &cobra.Command{
		Use:   "build <out>",
		Short: "Build a package image",
		Example: `  dcfctl pkg build sensor.bin --module 0x10 --code-size 512
  dcfctl pkg build app.bin --code-file app.text --shell`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case codeFile != "":
				code, err := os.ReadFile(codeFile)
				if err != nil {
					return err
				}
				spec.Code = code
			case codeSize > 0:
				spec.Code = make([]byte, codeSize)
				for i := range spec.Code {
					spec.Code[i] = byte(i)
				}
			}
			img, syms, err := dm.Build(spec)
			if err != nil {
				return err
			}
			if err := (&writer.FileWriter{Path: args[0]}).WriteImage(img); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(struct {
					Path    string     `json:"path"`
					Size    int        `json:"size"`
					Symbols dm.Symbols `json:"symbols"`
				}{args[0], len(img), syms})
			}
			a.printInfo("wrote %s (%d bytes)\n", args[0], len(img))
			a.printVerbose("  publish   +0x%X\n  unpublish +0x%X\n", syms.Publish, syms.Unpublish)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&spec.Module, "module", 0, "Application module id")
	cmd.Flags().Uint32Var(&spec.VersionMinor, "minor", 0, "Minor version")
	cmd.Flags().Uint32Var(&spec.DataSize, "data-size", 0, "RAM data context size")
	cmd.Flags().Uint32Var(&spec.PropertyFlags, "flags", 0, "Property flags")
	cmd.Flags().IntVar(&codeSize, "code-size", 0, "Size of a generated code body")
	cmd.Flags().StringVar(&codeFile, "code-file", "", "File holding the code body")
	cmd.Flags().BoolVar(&spec.ShellEntry, "shell", false, "Add a shell entry point")
	cmd.Flags().BoolVar(&spec.Checksum, "checksum", true, "Append a BLAKE3 checksum")
	return cmd
}

func newPkgWriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write <image> <addr>",
		Short: "Erase flash at an address and program an image there",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			addr, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			d, err := a.boot()
			if err != nil {
				return err
			}
			if len(img) == 0 || uint64(len(img)) > uint64(d.cfg.Geometry().Size()) {
				return fmt.Errorf("image %s is %d bytes", args[0], len(img))
			}
			if err := d.a.Erase(addr, uint32(len(img))); err != nil {
				return err
			}
			if err := d.a.Write(addr, img); err != nil {
				return err
			}
			if err := d.a.Flush(); err != nil {
				return err
			}
			a.printInfo("programmed %d bytes at 0x%08X\n", len(img), addr)
			return nil
		},
	}
}

func newPkgInstallCmd(a *app) *cobra.Command {
	var addrFlag string
	cmd := &cobra.Command{
		Use:   "install <source> <target> [name]",
		Short: "Install a package",
		Long: `Install a package from one of the sources:

  in_memory <addr> <name>   an image already in flash
  blob <url>                download into a free gap (or --addr)
  builtin <name>            cipher, key_vault or sprinkler

The package table is not persisted; run inside "dcfctl shell" to use the
package afterwards.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := dm.ParseSource(args[0])
			if err != nil {
				return err
			}
			addr := dm.NoAddress
			name := args[1]
			switch src {
			case dm.SourceInMemory:
				if len(args) != 3 {
					return fmt.Errorf("in_memory needs an address and a name")
				}
				v, err := parseAddr(args[1])
				if err != nil {
					return err
				}
				addr, name = dm.Address(v), args[2]
			case dm.SourceBlob:
				if addrFlag != "" {
					v, err := parseAddr(addrFlag)
					if err != nil {
						return err
					}
					addr = dm.Address(v)
				}
			}
			d, err := a.boot()
			if err != nil {
				return err
			}
			if err := d.dm.Install(context.Background(), src, addr, name); err != nil {
				return err
			}
			return printPackages(a, d.dm.Packages())
		},
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "Destination of a blob install")
	return cmd
}

func newPkgUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Unpublish and remove a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.boot()
			if err != nil {
				return err
			}
			if err := d.dm.Uninstall(args[0]); err != nil {
				return err
			}
			a.printInfo("uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newPkgListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.boot()
			if err != nil {
				return err
			}
			return printPackages(a, d.dm.Packages())
		},
	}
}

func printPackages(a *app, pkgs []dm.PackageInfo) error {
	if a.jsonOut {
		return a.printJSON(pkgs)
	}
	if a.quiet {
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tVERSION\tBASE\tSIZE")
	for _, p := range pkgs {
		base := "-"
		if p.CodeSize > 0 {
			base = fmt.Sprintf("0x%08X", p.Base)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.Name, p.Source, p.Version, base, p.CodeSize)
	}
	return tw.Flush()
}
