package perf

import (
	"log/slog"
	"sync"
	"time"
)

// Frame is the host-side record of one scheduler tick.
type Frame struct {
	Index         uint64
	Wall          time.Duration
	Simulated     time.Duration
	StepsExecuted int
	StepsOwed     int
	StepsDropped  int
}

// Collector keeps a rolling window of frames and GPU timings. Frames come
// from the scheduler; timings arrive later from the readback callback, so
// the collector is safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	windowSize int

	frames     []Frame
	frameIndex int
	frameCount int

	timings     []Timings
	timingIndex int
	timingCount int

	lastIndex uint64
}

// NewCollector creates a collector averaging over windowSize frames.
func NewCollector(windowSize int) *Collector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &Collector{
		windowSize: windowSize,
		frames:     make([]Frame, windowSize),
		timings:    make([]Timings, windowSize),
	}
}

func (c *Collector) AddFrame(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[c.frameIndex] = f
	c.frameIndex = (c.frameIndex + 1) % c.windowSize
	if c.frameCount < c.windowSize {
		c.frameCount++
	}
	c.lastIndex = f.Index
}

func (c *Collector) AddTimings(t Timings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timings[c.timingIndex] = t
	c.timingIndex = (c.timingIndex + 1) % c.windowSize
	if c.timingCount < c.windowSize {
		c.timingCount++
	}
}

// PhaseStats aggregates one GPU phase.
type PhaseStats struct {
	Avg, Min, Max time.Duration
	Samples       int
}

// Stats holds aggregated statistics over the window.
type Stats struct {
	LastFrame uint64
	Frames    int

	AvgFrame time.Duration
	MinFrame time.Duration
	MaxFrame time.Duration
	FPS      float64

	// StepsPerSecond counts executed steps over wall time.
	StepsPerSecond float64
	StepsDropped   int

	Phases map[string]PhaseStats
}

// Stats computes aggregated statistics over the current window.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{LastFrame: c.lastIndex, Frames: c.frameCount, Phases: make(map[string]PhaseStats)}
	var wall time.Duration
	var steps int
	for i := 0; i < c.frameCount; i++ {
		f := c.frames[i]
		wall += f.Wall
		steps += f.StepsExecuted
		s.StepsDropped += f.StepsDropped
		if i == 0 || f.Wall < s.MinFrame {
			s.MinFrame = f.Wall
		}
		if f.Wall > s.MaxFrame {
			s.MaxFrame = f.Wall
		}
	}
	if c.frameCount > 0 {
		s.AvgFrame = wall / time.Duration(c.frameCount)
	}
	if s.AvgFrame > 0 {
		s.FPS = float64(time.Second) / float64(s.AvgFrame)
	}
	if wall > 0 {
		s.StepsPerSecond = float64(steps) / wall.Seconds()
	}

	sums := make(map[string]time.Duration)
	for i := 0; i < c.timingCount; i++ {
		for phase, d := range c.timings[i] {
			ps := s.Phases[phase]
			if ps.Samples == 0 || d < ps.Min {
				ps.Min = d
			}
			if d > ps.Max {
				ps.Max = d
			}
			ps.Samples++
			sums[phase] += d
			s.Phases[phase] = ps
		}
	}
	for phase, sum := range sums {
		ps := s.Phases[phase]
		ps.Avg = sum / time.Duration(ps.Samples)
		s.Phases[phase] = ps
	}
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s Stats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("frame", s.LastFrame),
		slog.Int64("avg_frame_us", s.AvgFrame.Microseconds()),
		slog.Int64("max_frame_us", s.MaxFrame.Microseconds()),
		slog.Float64("fps", s.FPS),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	if s.StepsDropped > 0 {
		attrs = append(attrs, slog.Int("steps_dropped", s.StepsDropped))
	}
	for phase, ps := range s.Phases {
		attrs = append(attrs, slog.Int64(phase+"_us", ps.Avg.Microseconds()))
	}
	return slog.GroupValue(attrs...)
}

// StatsCSV is a flat struct for CSV export of performance stats.
type StatsCSV struct {
	Frame        uint64  `csv:"frame"`
	AvgFrameUS   int64   `csv:"avg_frame_us"`
	MinFrameUS   int64   `csv:"min_frame_us"`
	MaxFrameUS   int64   `csv:"max_frame_us"`
	FPS          float64 `csv:"fps"`
	StepsPerSec  float64 `csv:"steps_per_sec"`
	StepsDropped int     `csv:"steps_dropped"`
	SimulateUS   int64   `csv:"simulate_us"`
	PrerenderUS  int64   `csv:"prerender_us"`
	RenderUS     int64   `csv:"render_us"`
}

// ToCSV converts Stats to a flat CSV-friendly struct.
func (s Stats) ToCSV() StatsCSV {
	return StatsCSV{
		Frame:        s.LastFrame,
		AvgFrameUS:   s.AvgFrame.Microseconds(),
		MinFrameUS:   s.MinFrame.Microseconds(),
		MaxFrameUS:   s.MaxFrame.Microseconds(),
		FPS:          s.FPS,
		StepsPerSec:  s.StepsPerSecond,
		StepsDropped: s.StepsDropped,
		SimulateUS:   s.Phases[PhaseSimulate].Avg.Microseconds(),
		PrerenderUS:  s.Phases[PhasePrerender].Avg.Microseconds(),
		RenderUS:     s.Phases[PhaseRender].Avg.Microseconds(),
	}
}
