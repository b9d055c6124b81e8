// Package sprinkler is the built-in sprinkler package. The simulated
// device has one area and waters until stopped.
package sprinkler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/ipc"
	"github.com/joshuapare/flashdm/pkg/types"
)

const (
	Name    = "sprinkler"
	Version = "1.1"
)

type WaterNowArgs struct {
	Area  int32 `cbor:"area"`
	Timer int32 `cbor:"timer"`
}

type StopArgs struct {
	Area int32 `cbor:"area"`
}

type StatusResult struct {
	Watering bool `cbor:"watering"`
}

// Sprinkler drives the valve of area 0.
type Sprinkler struct {
	mu       sync.Mutex
	watering bool
	log      *slog.Logger
}

// New returns a stopped sprinkler. A nil logger discards.
func New(log *slog.Logger) *Sprinkler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sprinkler{log: log}
}

// WaterNow opens the valve. Only area 0 without a timer is supported.
func (s *Sprinkler) WaterNow(area, timer int32) error {
	if area != 0 || timer != 0 {
		return types.Errorf(types.ErrKindNotSupported, "sprinkler water_now: area %d timer %d", area, timer)
	}
	s.mu.Lock()
	s.watering = true
	s.mu.Unlock()
	s.log.Info("sprinkler on", "area", area)
	return nil
}

// Stop closes the valve.
func (s *Sprinkler) Stop(area int32) error {
	if area != 0 {
		return types.Errorf(types.ErrKindNotSupported, "sprinkler stop: area %d", area)
	}
	s.mu.Lock()
	s.watering = false
	s.mu.Unlock()
	s.log.Info("sprinkler off", "area", area)
	return nil
}

// Watering reports whether the valve is open.
func (s *Sprinkler) Watering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watering
}

// Interface returns the sprinkler v1 interface.
func (s *Sprinkler) Interface() *ipc.Interface {
	return &ipc.Interface{
		Name:    Name,
		Version: 1,
		Commands: map[string]ipc.Command{
			"water_now": ipc.Handler(func(_ context.Context, in WaterNowArgs) (ipc.Empty, error) {
				return ipc.Empty{}, s.WaterNow(in.Area, in.Timer)
			}),
			"stop": ipc.Handler(func(_ context.Context, in StopArgs) (ipc.Empty, error) {
				return ipc.Empty{}, s.Stop(in.Area)
			}),
			"status": ipc.Handler(func(context.Context, ipc.Empty) (StatusResult, error) {
				return StatusResult{Watering: s.Watering()}, nil
			}),
		},
	}
}

// BuiltIn returns the package for dm.WithBuiltIns.
func (s *Sprinkler) BuiltIn() dm.BuiltIn {
	return dm.BuiltIn{
		Name:      Name,
		Version:   Version,
		Publish:   func(t *ipc.Table) error { return t.Publish(s.Interface()) },
		Unpublish: func(t *ipc.Table) error { return t.Unpublish(Name) },
	}
}
