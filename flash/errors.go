package flash

import (
	"errors"

	"github.com/joshuapare/flashdm/pkg/types"
)

var (
	// ErrNotErased indicates a program targeted a double-word that was not in
	// the erased state (PROGERR on the STM32L4).
	ErrNotErased = errors.New("flash: target double-word not erased")
	// ErrUnaligned indicates an address that is not double-word aligned.
	ErrUnaligned = errors.New("flash: address not double-word aligned")
	// ErrOutOfRange indicates an address or page outside the device.
	ErrOutOfRange = errors.New("flash: address out of range")
	// ErrBusy indicates the controller could not accept the operation.
	ErrBusy = errors.New("flash: controller busy")
	// ErrInjected is returned by MemDevice fault injection.
	ErrInjected = errors.New("flash: injected fault")
	// ErrClosed indicates the device was closed.
	ErrClosed = errors.New("flash: device closed")
	// ErrImageSize indicates a backing file whose size does not match the geometry.
	ErrImageSize = errors.New("flash: image size does not match geometry")
)

// mapError folds a device failure into the error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	switch {
	case errors.Is(err, ErrBusy):
		return types.Wrap(types.ErrKindBusy, "flash "+op, err)
	case errors.Is(err, ErrUnaligned), errors.Is(err, ErrOutOfRange):
		return types.Wrap(types.ErrKindArgument, "flash "+op, err)
	default:
		return types.Wrap(types.ErrKindSystem, "flash "+op, err)
	}
}
