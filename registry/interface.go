package registry

import (
	"context"

	"github.com/joshuapare/flashdm/ipc"
)

// InterfaceName is the name the registry publishes under.
const InterfaceName = "registry"

// GetArgs is the payload of registry.get.
type GetArgs struct {
	Key string `cbor:"registry_key"`
}

// GetResult is the result of registry.get.
type GetResult struct {
	Value string `cbor:"registry_value"`
}

// AddArgs is the payload of registry.add.
type AddArgs struct {
	Key   string `cbor:"new_key"`
	Value string `cbor:"new_value"`
}

// DeleteArgs is the payload of registry.delete.
type DeleteArgs struct {
	Key string `cbor:"registry_key"`
}

// Interface returns the registry v1 command set.
func (r *Registry) Interface() *ipc.Interface {
	return &ipc.Interface{
		Name:    InterfaceName,
		Version: 1,
		Commands: map[string]ipc.Command{
			"get": ipc.Handler(func(_ context.Context, in GetArgs) (GetResult, error) {
				v, err := r.Get([]byte(in.Key))
				if err != nil {
					return GetResult{}, err
				}
				return GetResult{Value: string(v)}, nil
			}),
			"add": ipc.Handler(func(_ context.Context, in AddArgs) (ipc.Empty, error) {
				return ipc.Empty{}, r.Add([]byte(in.Key), []byte(in.Value))
			}),
			"delete": ipc.Handler(func(_ context.Context, in DeleteArgs) (ipc.Empty, error) {
				return ipc.Empty{}, r.Delete([]byte(in.Key))
			}),
		},
	}
}
