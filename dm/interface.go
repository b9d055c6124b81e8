package dm

import (
	"context"

	"github.com/joshuapare/flashdm/ipc"
)

// InterfaceName is the IPC interface the manager publishes.
const InterfaceName = "packages"

type InstallArgs struct {
	Source  int    `cbor:"source_type"`
	Address uint32 `cbor:"address"`
	Name    string `cbor:"package_name"`
}

type UninstallArgs struct {
	Name string `cbor:"package_name"`
}

type ListResult struct {
	Packages []PackageInfo `cbor:"packages"`
}

// Interface returns the packages v1 interface. Its commands take the
// manager lock, so they must not be called from a package entry point.
func (m *Manager) Interface() *ipc.Interface {
	return &ipc.Interface{
		Name:    InterfaceName,
		Version: 1,
		Commands: map[string]ipc.Command{
			"install": ipc.Handler(func(ctx context.Context, in InstallArgs) (ipc.Empty, error) {
				return ipc.Empty{}, m.Install(ctx, SourceType(in.Source), Address(in.Address), in.Name)
			}),
			"uninstall": ipc.Handler(func(_ context.Context, in UninstallArgs) (ipc.Empty, error) {
				return ipc.Empty{}, m.Uninstall(in.Name)
			}),
			"list": ipc.Handler(func(context.Context, ipc.Empty) (ListResult, error) {
				return ListResult{Packages: m.Packages()}, nil
			}),
		},
	}
}
