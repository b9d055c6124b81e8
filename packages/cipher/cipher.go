// Package cipher is the built-in cipher package. Algorithm 0 is a XOR
// obfuscation with a fixed key; ciphertexts carry their algorithm in the
// first byte so decrypt needs no arguments besides the data.
package cipher

import (
	"context"

	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

const (
	Name    = "cipher"
	Version = "1.1"

	AlgorithmXOR = 0
)

var xorKey = []byte{0x9A, 0x3B, 0x72, 0xE4, 0x0D, 0xC6, 0x58, 0x21}

type EncryptArgs struct {
	Algorithm uint32 `cbor:"algorithm"`
	Src       []byte `cbor:"src"`
}

type DecryptArgs struct {
	Src []byte `cbor:"src"`
}

type Result struct {
	Dest []byte `cbor:"dest"`
}

// Encrypt encodes src with algorithm.
func Encrypt(algorithm uint32, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, types.Errorf(types.ErrKindArgument, "cipher encrypt: empty source")
	}
	if algorithm != AlgorithmXOR {
		return nil, types.Errorf(types.ErrKindNotSupported, "cipher encrypt: algorithm %d", algorithm)
	}
	out := make([]byte, 1+len(src))
	out[0] = byte(algorithm)
	xor(out[1:], src)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(src []byte) ([]byte, error) {
	if len(src) < 2 {
		return nil, types.Errorf(types.ErrKindArgument, "cipher decrypt: %d bytes is too short", len(src))
	}
	if src[0] != AlgorithmXOR {
		return nil, types.Errorf(types.ErrKindNotSupported, "cipher decrypt: algorithm %d", src[0])
	}
	out := make([]byte, len(src)-1)
	xor(out, src[1:])
	return out, nil
}

func xor(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ xorKey[i%len(xorKey)]
	}
}

// Interface returns the cipher v1 interface.
func Interface() *ipc.Interface {
	return &ipc.Interface{
		Name:    Name,
		Version: 1,
		Commands: map[string]ipc.Command{
			"encrypt": ipc.Handler(func(_ context.Context, in EncryptArgs) (Result, error) {
				dest, err := Encrypt(in.Algorithm, in.Src)
				return Result{Dest: dest}, err
			}),
			"decrypt": ipc.Handler(func(_ context.Context, in DecryptArgs) (Result, error) {
				dest, err := Decrypt(in.Src)
				return Result{Dest: dest}, err
			}),
		},
	}
}

// BuiltIn returns the package for dm.WithBuiltIns.
func BuiltIn() dm.BuiltIn {
	return dm.BuiltIn{
		Name:      Name,
		Version:   Version,
		Publish:   func(t *ipc.Table) error { return t.Publish(Interface()) },
		Unpublish: func(t *ipc.Table) error { return t.Unpublish(Name) },
	}
}
