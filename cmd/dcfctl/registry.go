package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegistryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registry",
		Aliases: []string{"reg"},
		Short:   "Read and write the flash key/value registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the value stored under a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.boot()
				if err != nil {
					return err
				}
				v, err := d.reg.Get([]byte(args[0]))
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(map[string]string{"key": args[0], "value": string(v)})
				}
				fmt.Fprintln(a.out, string(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <key> <value>",
			Short: "Store a new key; existing keys are never overwritten",
			Example: `  dcfctl registry add wifi/ssid home
  dcfctl registry delete wifi/ssid && dcfctl registry add wifi/ssid office`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.boot()
				if err != nil {
					return err
				}
				if err := d.reg.Add([]byte(args[0]), []byte(args[1])); err != nil {
					return err
				}
				a.printInfo("added %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Tombstone a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.boot()
				if err != nil {
					return err
				}
				if err := d.reg.Delete([]byte(args[0])); err != nil {
					return err
				}
				a.printInfo("deleted %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List live keys in flash order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.boot()
				if err != nil {
					return err
				}
				keys, err := d.reg.Keys()
				if err != nil {
					return err
				}
				names := make([]string, len(keys))
				for i, k := range keys {
					names[i] = string(k)
				}
				if a.jsonOut {
					return a.printJSON(names)
				}
				for _, n := range names {
					fmt.Fprintln(a.out, n)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show node table and buffer usage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.boot()
				if err != nil {
					return err
				}
				st, err := d.reg.Stats()
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(st)
				}
				fmt.Fprintf(a.out, "Nodes:  %d/%d used (%d live, %d deleted)\n", st.Used, st.Capacity, st.Live, st.Tombstoned)
				fmt.Fprintf(a.out, "Buffer: %d/%d bytes\n", st.BufferUsed, st.BufferTotal)
				return nil
			},
		},
	)
	return cmd
}
