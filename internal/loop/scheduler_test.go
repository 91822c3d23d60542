package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/perf"
)

type fakeDisplay struct {
	ch chan time.Time
}

func newFakeDisplay() *fakeDisplay { return &fakeDisplay{ch: make(chan time.Time, 16)} }

func (d *fakeDisplay) Ticks() <-chan time.Time { return d.ch }
func (d *fakeDisplay) Stop()                   {}

type fakeWork struct {
	harness *perf.Harness

	mu         sync.Mutex
	prepared   int
	steps      []int
	renders    int
	prepareErr error
}

func (w *fakeWork) Prepare(uint64, time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prepared++
	return w.prepareErr
}

func (w *fakeWork) EncodeSimulation(enc *compute.CommandEncoder, steps int) {
	w.mu.Lock()
	w.steps = append(w.steps, steps)
	w.mu.Unlock()
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{
		Label:           "simulate",
		TimestampWrites: w.harness.ComputePassTimestamps(perf.PhaseSimulate),
	})
	for range steps {
		pass.Dispatch("step", 64, func(uint32) {})
	}
	pass.End()
}

func (w *fakeWork) EncodeRender(*compute.CommandEncoder) {
	w.mu.Lock()
	w.renders++
	w.mu.Unlock()
}

func (w *fakeWork) Present() error { return nil }

func (w *fakeWork) executed() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.steps...)
}

var _ = Describe("Scheduler", func() {
	const dt = 5 * time.Millisecond
	var (
		dev     *compute.CPUDevice
		display *fakeDisplay
		work    *fakeWork
		frames  chan FrameStats
		t0      time.Time
	)

	BeforeEach(func() {
		dev = compute.NewCPUDevice(compute.Options{Workers: 2})
		DeferCleanup(dev.Destroy)
		display = newFakeDisplay()
		work = &fakeWork{}
		frames = make(chan FrameStats, 64)
		t0 = time.Unix(2000, 0)
	})

	start := func(s *Scheduler) <-chan error {
		errc := make(chan error, 1)
		go func() { errc <- s.Run(context.Background()) }()
		return errc
	}

	newScheduler := func(policy Policy, h *perf.Harness, onTimings func(perf.Timings)) *Scheduler {
		work.harness = h
		s, err := New(Options{
			Device:    dev,
			Work:      work,
			Policy:    policy,
			Display:   display,
			Harness:   h,
			OnFrame:   func(f FrameStats) { frames <- f },
			OnTimings: onTimings,
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("rejects missing inputs", func() {
		_, err := New(Options{Device: dev, Display: display, Policy: Policy{Timestep: dt}})
		Expect(err).To(MatchError(ErrConfig))
		_, err = New(Options{Device: dev, Work: work, Display: display})
		Expect(err).To(MatchError(ErrConfig))
	})

	It("executes the owed steps each tick and reports them", func() {
		s := newScheduler(Policy{Timestep: dt, DriftThreshold: 250 * time.Millisecond}, nil, nil)
		errc := start(s)

		display.ch <- t0
		display.ch <- t0.Add(12 * time.Millisecond)
		display.ch <- t0.Add(600 * time.Millisecond)

		for range 3 {
			Eventually(frames).Should(Receive())
		}
		Expect(work.executed()).To(Equal([]int{3}))

		s.Stop()
		Eventually(errc).Should(Receive(BeNil()))
		Expect(s.Done()).To(BeClosed())
	})

	It("carries step accounting in frame stats", func() {
		s := newScheduler(Policy{Timestep: dt, OneStepPerFrame: true}, nil, nil)
		errc := start(s)

		display.ch <- t0
		display.ch <- t0.Add(20 * time.Millisecond)

		var first, second FrameStats
		Eventually(frames).Should(Receive(&first))
		Eventually(frames).Should(Receive(&second))
		Expect(first.StepsOwed).To(BeZero())
		Expect(second.StepsOwed).To(Equal(4))
		Expect(second.StepsExecuted).To(Equal(1))
		Expect(second.StepsDropped).To(Equal(3))
		Expect(second.Simulated).To(Equal(dt))
		Expect(second.Wall).To(Equal(20 * time.Millisecond))
		Expect(second.Index).To(BeEquivalentTo(1))

		s.Stop()
		Eventually(errc).Should(Receive(BeNil()))
	})

	It("submits nothing after Stop", func() {
		s := newScheduler(Policy{Timestep: dt}, nil, nil)
		errc := start(s)
		display.ch <- t0
		Eventually(frames).Should(Receive())

		s.Stop()
		Eventually(errc).Should(Receive(BeNil()))
		display.ch <- t0.Add(time.Second)
		Consistently(frames, 50*time.Millisecond).ShouldNot(Receive())
		Expect(s.Frames()).To(BeEquivalentTo(1))

		Expect(s.Run(context.Background())).To(MatchError(ErrStopped))
	})

	It("stops when the device is lost", func() {
		s := newScheduler(Policy{Timestep: dt}, nil, nil)
		errc := start(s)
		display.ch <- t0
		Eventually(frames).Should(Receive())

		dev.Destroy()
		var err error
		Eventually(errc).Should(Receive(&err))
		Expect(errors.Is(err, compute.ErrDeviceLost)).To(BeTrue())
	})

	It("stops when preparing a frame fails", func() {
		work.prepareErr = errors.New("boom")
		s := newScheduler(Policy{Timestep: dt}, nil, nil)
		errc := start(s)
		display.ch <- t0

		var err error
		Eventually(errc).Should(Receive(&err))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	Context("with a timestamp harness", func() {
		var h *perf.Harness

		BeforeEach(func() {
			var err error
			h, err = perf.NewHarness(dev, perf.PhaseSimulate)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(h.Destroy)
		})

		It("delivers phase timings", func() {
			timings := make(chan perf.Timings, 16)
			s := newScheduler(Policy{Timestep: dt}, h, func(t perf.Timings) { timings <- t })
			errc := start(s)

			// A tick whose previous readback is still mapped skips its
			// timings, so keep ticking until one lands.
			n := 0
			Eventually(func() bool {
				n++
				display.ch <- t0.Add(time.Duration(n) * 10 * time.Millisecond)
				select {
				case t := <-timings:
					_, ok := t[perf.PhaseSimulate]
					return ok
				default:
					return false
				}
			}).Should(BeTrue())
			s.Stop()
			Eventually(errc).Should(Receive(BeNil()))
		})

		It("stops when a readback fails", func() {
			s := newScheduler(Policy{Timestep: dt}, h, nil)
			errc := start(s)
			display.ch <- t0
			Eventually(frames).Should(Receive())

			readErr := errors.New("map failed")
			s.receiveTimings(nil, readErr)

			var err error
			Eventually(errc).Should(Receive(&err))
			Expect(err).To(MatchError(readErr))
		})
	})
})
