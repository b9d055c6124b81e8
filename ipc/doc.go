// Package ipc is the capability dispatch table through which the registry,
// the package manager and installed packages expose their commands.
//
// An Interface is a named, versioned set of commands. Packages publish their
// interfaces when installed and unpublish them when removed. Command payloads
// are CBOR maps encoded with core deterministic encoding, so equal arguments
// always produce identical bytes:
//
//	t := ipc.NewTable()
//	_ = t.Publish(&ipc.Interface{
//		Name:    "registry",
//		Version: 1,
//		Commands: map[string]ipc.Command{
//			"get": ipc.Handler(func(ctx context.Context, in GetArgs) (GetResult, error) { ... }),
//		},
//	})
//	out, err := t.Call(ctx, "registry", "get", payload)
package ipc
