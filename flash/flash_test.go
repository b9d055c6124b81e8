package flash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testGeometry is a small two-bank part so bank splits are easy to reach.
func testGeometry() Geometry {
	return Geometry{
		Base:     0x08000000,
		BankSize: 0x4000,
		Banks:    2,
		PageSize: 0x800,
		WordSize: 8,
	}
}

func newTestDevice(t testing.TB) *MemDevice {
	t.Helper()
	dev, err := NewMemDevice(testGeometry())
	require.NoError(t, err)
	return dev
}

type countingObserver struct {
	programs, erases int
	errs             []string
}

func (o *countingObserver) OnProgram(n int)   { o.programs += n }
func (o *countingObserver) OnErase(n int)     { o.erases += n }
func (o *countingObserver) OnError(op string) { o.errs = append(o.errs, op) }
