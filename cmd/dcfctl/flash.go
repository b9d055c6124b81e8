package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashdm/flash"
	"github.com/joshuapare/flashdm/internal/writer"
)

func newFlashCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Inspect and manipulate the raw flash",
	}
	cmd.AddCommand(newFlashInfoCmd(a), newFlashEraseCmd(a), newFlashDumpCmd(a))
	return cmd
}

type flashInfo struct {
	Geometry string `json:"geometry"`
	Image    string `json:"image"`
	Packages string `json:"packages"`
	Info     string `json:"registry_info"`
	Buffer   string `json:"registry_buffer"`
}

func newFlashInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the flash geometry and the configured regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, buffer := a.cfg.RegistryRegions()
			fi := flashInfo{
				Geometry: a.cfg.Geometry().String(),
				Image:    a.cfg.Flash.Image,
				Packages: a.cfg.PackageRegion().String(),
				Info:     info.String(),
				Buffer:   buffer.String(),
			}
			if a.jsonOut {
				return a.printJSON(fi)
			}
			a.printInfo("Image:      %s\n", fi.Image)
			a.printInfo("Geometry:   %s\n", fi.Geometry)
			a.printInfo("Packages:   %s\n", fi.Packages)
			a.printInfo("Registry:   %s\n", fi.Info)
			a.printInfo("Buffer:     %s\n", fi.Buffer)
			return nil
		},
	}
}

func newFlashEraseCmd(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "erase [addr size]",
		Short: "Erase every page touched by a range or a configured region",
		Example: `  dcfctl flash erase 0x08080000 0x1000
  dcfctl flash erase --region packages`,
		Args: func(cmd *cobra.Command, args []string) error {
			if region != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []flash.Region
			switch region {
			case "":
				addr, err := parseAddr(args[0])
				if err != nil {
					return err
				}
				size, err := parseAddr(args[1])
				if err != nil {
					return err
				}
				targets = append(targets, flash.Region{Base: addr, Size: size})
			case "packages":
				targets = append(targets, a.cfg.PackageRegion())
			case "registry":
				info, buffer := a.cfg.RegistryRegions()
				targets = append(targets, info, buffer)
			default:
				return fmt.Errorf("unknown region %q (want packages or registry)", region)
			}
			d, err := a.boot()
			if err != nil {
				return err
			}
			for _, r := range targets {
				if err := d.a.Erase(r.Base, r.Size); err != nil {
					return err
				}
				a.printInfo("erased %s\n", r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Erase a configured region: packages or registry")
	return cmd
}

func newFlashDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <out> [addr size]",
		Short: "Copy flash contents to a file",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return fmt.Errorf("dump needs both an address and a size")
			}
			d, err := a.boot()
			if err != nil {
				return err
			}
			g := d.a.Geometry()
			addr, size := g.Base, g.Size()
			if len(args) == 3 {
				if addr, err = parseAddr(args[1]); err != nil {
					return err
				}
				if size, err = parseAddr(args[2]); err != nil {
					return err
				}
			}
			img, err := d.a.Read(addr, int(size))
			if err != nil {
				return err
			}
			if err := (&writer.FileWriter{Path: args[0]}).WriteImage(img); err != nil {
				return err
			}
			a.printInfo("dumped %d bytes from 0x%08X to %s\n", len(img), addr, args[0])
			return nil
		},
	}
}
