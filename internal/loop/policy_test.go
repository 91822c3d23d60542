package loop

import (
	"math/rand/v2"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tracker", func() {
	const dt = 5 * time.Millisecond
	var (
		t0      time.Time
		tracker *Tracker
	)

	BeforeEach(func() {
		t0 = time.Unix(1000, 0)
		tracker = NewTracker(Policy{Timestep: dt, DriftThreshold: 250 * time.Millisecond})
	})

	It("anchors the start on the first tick", func() {
		p := tracker.Plan(t0)
		Expect(p.Owed).To(BeZero())
		Expect(p.Execute).To(BeZero())
		Expect(tracker.StepsTaken()).To(BeZero())
	})

	It("owes the ceiling of the elapsed time over the timestep", func() {
		tracker.Plan(t0)
		p := tracker.Plan(t0.Add(11 * time.Millisecond))
		Expect(p.Owed).To(Equal(3))
		Expect(p.Execute).To(Equal(3))
		Expect(p.Dropped).To(BeZero())
		Expect(tracker.SimTime()).To(Equal(15 * time.Millisecond))

		// Running ahead owes nothing until wall time catches up.
		p = tracker.Plan(t0.Add(14 * time.Millisecond))
		Expect(p.Owed).To(BeZero())
		Expect(p.TimeToSimulate).To(BeNumerically("<", 0))
	})

	Context("when the backlog exceeds the drift threshold", func() {
		It("drops the owed steps and does not catch up later", func() {
			tracker.Plan(t0)
			p := tracker.Plan(t0.Add(400 * time.Millisecond))
			Expect(p.Execute).To(BeZero())
			Expect(p.Dropped).To(Equal(80))
			Expect(tracker.StepsTaken()).To(BeEquivalentTo(80))

			p = tracker.Plan(t0.Add(405 * time.Millisecond))
			Expect(p.Owed).To(Equal(1))
			Expect(p.Execute).To(Equal(1))
		})

		It("never executes more than the threshold allows", func() {
			rng := rand.New(rand.NewPCG(7, 11))
			bound := int((250*time.Millisecond + dt - 1) / dt)
			now := t0
			tracker.Plan(now)
			for range 2000 {
				now = now.Add(time.Duration(rng.IntN(600)) * time.Millisecond)
				before := tracker.StepsTaken()
				p := tracker.Plan(now)
				Expect(p.Execute).To(BeNumerically("<=", bound))
				Expect(p.Execute + p.Dropped).To(Equal(p.Owed))
				Expect(tracker.StepsTaken() - before).To(BeEquivalentTo(p.Owed))
			}
		})
	})

	Context("with one step per frame", func() {
		BeforeEach(func() {
			tracker = NewTracker(Policy{Timestep: dt, DriftThreshold: 250 * time.Millisecond, OneStepPerFrame: true})
		})

		It("executes at most one step per tick", func() {
			now := t0
			tracker.Plan(now)
			for _, gap := range []time.Duration{1, 5, 17, 50, 120, 3} {
				now = now.Add(gap * time.Millisecond)
				p := tracker.Plan(now)
				Expect(p.Execute).To(BeNumerically("<=", 1))
				Expect(p.Execute + p.Dropped).To(Equal(p.Owed))
			}
		})

		It("still executes one step past the drift threshold", func() {
			tracker.Plan(t0)
			p := tracker.Plan(t0.Add(2 * time.Second))
			Expect(p.Owed).To(Equal(int(2 * time.Second / dt)))
			Expect(p.Execute).To(Equal(1))
			Expect(p.Dropped).To(Equal(p.Owed - 1))
			Expect(tracker.StepsTaken()).To(BeEquivalentTo(p.Owed))
		})
	})

	It("re-anchors after Reset", func() {
		tracker.Plan(t0)
		tracker.Plan(t0.Add(50 * time.Millisecond))
		tracker.Reset(Policy{Timestep: 2 * dt})
		p := tracker.Plan(t0.Add(time.Second))
		Expect(p.Owed).To(BeZero())
		Expect(tracker.Policy().Timestep).To(Equal(2 * dt))
	})
})
