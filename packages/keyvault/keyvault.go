// Package keyvault is the built-in key_vault package. Algorithm 0 seals
// data with ChaCha20-Poly1305 under a device key kept in the registry.
// The key is generated on first use.
package keyvault

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

const (
	Name    = "key_vault"
	Version = "1.1"

	// KeyName is the registry key holding the device key.
	KeyName = "key_vault/key"

	AlgorithmChaCha20Poly1305 = 0
)

// Store is the part of the registry the vault needs.
type Store interface {
	Get(key []byte) ([]byte, error)
	Add(key, value []byte) error
}

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

// Vault seals and opens data with the device key.
type Vault struct {
	mu    sync.Mutex
	store Store
	rand  io.Reader
	log   *slog.Logger
}

// New returns a vault keyed from store. A nil logger discards.
func New(store Store, log *slog.Logger) *Vault {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Vault{store: store, rand: rand.Reader, log: log}
}

func (v *Vault) key() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.store == nil {
		return nil, types.Errorf(types.ErrKindArgument, "key_vault: no registry")
	}
	k, err := v.store.Get([]byte(KeyName))
	switch {
	case err == nil:
		if len(k) != chacha20poly1305.KeySize {
			return nil, types.Errorf(types.ErrKindCorrupt, "key_vault: stored key is %d bytes", len(k))
		}
		return k, nil
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}

	k = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(v.rand, k); err != nil {
		return nil, types.Wrap(types.ErrKindSystem, "key_vault: generate key", err)
	}
	if err := v.store.Add([]byte(KeyName), k); err != nil {
		return nil, err
	}
	v.log.Info("key_vault key generated", "key", KeyName)
	return k, nil
}

// Encrypt seals src. The output is the algorithm byte, the nonce and the
// sealed data.
func (v *Vault) Encrypt(algorithm uint32, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, types.Errorf(types.ErrKindArgument, "key_vault encrypt: empty source")
	}
	if algorithm != AlgorithmChaCha20Poly1305 {
		return nil, types.Errorf(types.ErrKindNotSupported, "key_vault encrypt: algorithm %d", algorithm)
	}
	k, err := v.key()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(k)
	if err != nil {
		return nil, types.Wrap(types.ErrKindSystem, "key_vault encrypt", err)
	}
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(src)+aead.Overhead())
	out[0] = byte(algorithm)
	if _, err := io.ReadFull(v.rand, out[1:]); err != nil {
		return nil, types.Wrap(types.ErrKindSystem, "key_vault encrypt: nonce", err)
	}
	return aead.Seal(out, out[1:], src, out[:1]), nil
}

// Decrypt opens data produced by Encrypt.
func (v *Vault) Decrypt(src []byte) ([]byte, error) {
	if len(src) < 1+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, types.Errorf(types.ErrKindArgument, "key_vault decrypt: %d bytes is too short", len(src))
	}
	if src[0] != AlgorithmChaCha20Poly1305 {
		return nil, types.Errorf(types.ErrKindNotSupported, "key_vault decrypt: algorithm %d", src[0])
	}
	k, err := v.key()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(k)
	if err != nil {
		return nil, types.Wrap(types.ErrKindSystem, "key_vault decrypt", err)
	}
	nonce := src[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, src[1+aead.NonceSize():], src[:1])
	if err != nil {
		return nil, types.Wrap(types.ErrKindCorrupt, "key_vault decrypt", err)
	}
	return plain, nil
}

// Interface returns the key_vault v1 interface.
func (v *Vault) Interface() *ipc.Interface {
	return &ipc.Interface{
		Name:    Name,
		Version: 1,
		Commands: map[string]ipc.Command{
			"encrypt": ipc.Handler(func(_ context.Context, in EncryptArgs) (Result, error) {
				dest, err := v.Encrypt(in.Algorithm, in.Src)
				return Result{Dest: dest}, err
			}),
			"decrypt": ipc.Handler(func(_ context.Context, in DecryptArgs) (Result, error) {
				dest, err := v.Decrypt(in.Src)
				return Result{Dest: dest}, err
			}),
		},
	}
}

// BuiltIn returns the package for dm.WithBuiltIns.
func (v *Vault) BuiltIn() dm.BuiltIn {
	return dm.BuiltIn{
		Name:      Name,
		Version:   Version,
		Publish:   func(t *ipc.Table) error { return t.Publish(v.Interface()) },
		Unpublish: func(t *ipc.Table) error { return t.Unpublish(Name) },
	}
}
