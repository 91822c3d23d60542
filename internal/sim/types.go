package sim

import (
	"time"

	"github.com/san-kum/snowmpm/internal/loop"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

// FrameStats is one frame as observers see it.
type FrameStats struct {
	loop.FrameStats

	// SimTime is the simulated time accounted for since the loop started.
	SimTime time.Duration
	Method  uniforms.Method
	// Grid is the most recent control block readback; it lags the frame.
	Grid sparsegrid.Stats
}

// Observer receives every frame on the loop goroutine.
type Observer interface {
	OnFrame(FrameStats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(FrameStats)

func (f ObserverFunc) OnFrame(s FrameStats) { f(s) }
