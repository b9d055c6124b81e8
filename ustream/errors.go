package ustream

import (
	"github.com/joshuapare/flashdm/pkg/types"
)

func errDisposed(op string) error {
	return types.Errorf(types.ErrKindArgument, "ustream %s: stream disposed", op)
}

func errPosition(op string, pos, lo, hi int64) error {
	return types.Errorf(types.ErrKindArgument, "ustream %s: position %d outside [%d, %d]", op, pos, lo, hi)
}
