package loop

import "time"

// Policy controls how owed steps are executed.
type Policy struct {
	Timestep time.Duration

	// DriftThreshold drops the whole backlog when the simulation falls
	// further behind than this. Zero disables dropping.
	DriftThreshold time.Duration

	// OneStepPerFrame executes exactly one step per tick whenever any step
	// is owed, regardless of backlog. The drift threshold does not apply.
	OneStepPerFrame bool
}

// Plan is the scheduling decision for one tick.
type Plan struct {
	TimeToSimulate time.Duration
	Owed           int
	Execute        int
	Dropped        int
}

// Tracker reconciles wall-clock time with simulated time. The first call
// to Plan anchors the simulation start.
type Tracker struct {
	policy     Policy
	start      time.Time
	started    bool
	stepsTaken int64
}

func NewTracker(p Policy) *Tracker {
	return &Tracker{policy: p}
}

func (t *Tracker) Policy() Policy { return t.policy }

// StepsTaken counts executed and dropped steps since the anchor.
func (t *Tracker) StepsTaken() int64 { return t.stepsTaken }

// SimTime is the simulated time accounted for so far.
func (t *Tracker) SimTime() time.Duration {
	return time.Duration(t.stepsTaken) * t.policy.Timestep
}

// Reset forgets the anchor; the next Plan starts counting again. Used when
// the timestep changes.
func (t *Tracker) Reset(p Policy) {
	t.policy = p
	t.started = false
	t.stepsTaken = 0
}

// Plan computes the steps owed at now and applies the drift policy.
// Owed steps always advance the step count, executed or not, so a dropped
// backlog is never caught up later.
func (t *Tracker) Plan(now time.Time) Plan {
	if !t.started {
		t.start = now
		t.started = true
	}
	dt := t.policy.Timestep
	due := t.start.Add(time.Duration(t.stepsTaken) * dt)
	p := Plan{TimeToSimulate: now.Sub(due)}
	if p.TimeToSimulate > 0 && dt > 0 {
		p.Owed = int((p.TimeToSimulate + dt - 1) / dt)
	}
	p.Execute = p.Owed
	switch {
	case t.policy.OneStepPerFrame:
		p.Execute = min(p.Owed, 1)
	case t.policy.DriftThreshold > 0 && p.TimeToSimulate > t.policy.DriftThreshold:
		p.Execute = 0
	}
	p.Dropped = p.Owed - p.Execute
	t.stepsTaken += int64(p.Owed)
	return p
}
