package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashdm/ipc"
)

func newCallCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "call <interface> <command> [json]",
		Short: "Invoke a command on a published interface",
		Long: `Invoke a command on a published interface. Arguments are given as JSON
and converted to CBOR; byte strings are written as "hex:<digits>".

With --list, print the published interfaces instead.`,
		Example: `  dcfctl call registry get '{"registry_key": "greeting"}'
  dcfctl call --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(2, 3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.boot()
			if err != nil {
				return err
			}
			if list {
				infos := d.table.Interfaces()
				if a.jsonOut {
					return a.printJSON(infos)
				}
				for _, in := range infos {
					a.printInfo("%s v%d %v\n", in.Name, in.Version, in.Commands)
				}
				return nil
			}
			in := []byte("{}")
			if len(args) == 3 {
				in = []byte(args[2])
			}
			payload, err := ipc.FromJSON(in)
			if err != nil {
				return err
			}
			out, err := d.table.Call(context.Background(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			js, err := ipc.ToJSON(out)
			if err != nil {
				return err
			}
			a.printInfo("%s\n", js)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List the published interfaces")
	return cmd
}
