package compute

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func newTestDevice(t *testing.T, opts Options) *CPUDevice {
	t.Helper()
	d := NewCPUDevice(opts)
	t.Cleanup(d.Destroy)
	return d
}

func mustBuffer(t *testing.T, d Device, label string, size uint64, usage BufferUsage) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("create buffer %s: %v", label, err)
	}
	return b
}

func submit(t *testing.T, d Device, enc *CommandEncoder) {
	t.Helper()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	d.Queue().Submit(cb)
}

func TestRequestDevice(t *testing.T) {
	tests := []struct {
		backend string
		wantErr error
	}{
		{"", nil},
		{"cpu", nil},
		{"vulkan", ErrNoAdapter},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			dev, err := RequestDevice(context.Background(), Options{Backend: tt.backend})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			dev.Destroy()
		})
	}
}

func TestDispatchAtomicCount(t *testing.T) {
	for _, workers := range []int{1, 4, 16} {
		d := newTestDevice(t, Options{Workers: workers})
		buf := mustBuffer(t, d, "counter", 4, BufferUsageStorage|BufferUsageCopySrc)

		enc := d.CreateCommandEncoder("count")
		pass := enc.BeginComputePass(&ComputePassDescriptor{Label: "count"})
		pass.Dispatch("count", 10_000, func(id uint32) { buf.AtomicAdd(0, 1) })
		pass.End()
		submit(t, d, enc)

		data, err := ReadBuffer(context.Background(), d, buf)
		if err != nil {
			t.Fatalf("readback: %v", err)
		}
		if got := binary.LittleEndian.Uint32(data); got != 10_000 {
			t.Errorf("workers=%d: expected 10000, got %d", workers, got)
		}
	}
}

func TestDispatchBarrier(t *testing.T) {
	d := newTestDevice(t, Options{Workers: 8})
	const n = 4096
	a := mustBuffer(t, d, "a", n*4, BufferUsageStorage)
	b := mustBuffer(t, d, "b", n*4, BufferUsageStorage|BufferUsageCopySrc)

	enc := d.CreateCommandEncoder("barrier")
	pass := enc.BeginComputePass(nil)
	pass.Dispatch("write", n, func(id uint32) { a.SetWord(id, id*2) })
	// Reads a neighbour's word: only valid if the previous dispatch finished.
	pass.Dispatch("read", n, func(id uint32) { b.SetWord(id, a.Word((id+1)%n)) })
	pass.End()
	submit(t, d, enc)

	data, err := ReadBuffer(context.Background(), d, b)
	if err != nil {
		t.Fatalf("readback: %v", err)
	}
	for i := uint32(0); i < n; i++ {
		want := ((i + 1) % n) * 2
		if got := binary.LittleEndian.Uint32(data[i*4:]); got != want {
			t.Fatalf("word %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	d := newTestDevice(t, Options{Workers: 8})
	flag := mustBuffer(t, d, "flag", 4, BufferUsageStorage)
	wins := mustBuffer(t, d, "wins", 4, BufferUsageStorage|BufferUsageCopySrc)

	enc := d.CreateCommandEncoder("cas")
	pass := enc.BeginComputePass(nil)
	pass.Dispatch("claim", 5000, func(id uint32) {
		if flag.CompareAndSwap(0, 0, id+1) {
			wins.AtomicAdd(0, 1)
		}
	})
	pass.End()
	submit(t, d, enc)

	data, err := ReadBuffer(context.Background(), d, wins)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(data); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}

func TestWriteBufferOrdering(t *testing.T) {
	d := newTestDevice(t, Options{})
	u := mustBuffer(t, d, "u", 4, BufferUsageUniform|BufferUsageCopyDst)
	out := mustBuffer(t, d, "out", 8, BufferUsageStorage|BufferUsageCopySrc)

	for i, v := range []uint32{7, 9} {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], v)
		if err := d.Queue().WriteBuffer(u, 0, word[:]); err != nil {
			t.Fatal(err)
		}
		slot := uint32(i)
		enc := d.CreateCommandEncoder("copy")
		pass := enc.BeginComputePass(nil)
		pass.Dispatch("copy", 1, func(uint32) { out.SetWord(slot, u.Word(0)) })
		pass.End()
		submit(t, d, enc)
	}

	data, err := ReadBuffer(context.Background(), d, out)
	if err != nil {
		t.Fatal(err)
	}
	if a, b := binary.LittleEndian.Uint32(data), binary.LittleEndian.Uint32(data[4:]); a != 7 || b != 9 {
		t.Errorf("expected writes ordered with submissions, got %d %d", a, b)
	}
}

func TestMapAsyncGuard(t *testing.T) {
	d := newTestDevice(t, Options{})
	buf := mustBuffer(t, d, "staging", 16, BufferUsageMapRead|BufferUsageCopyDst)

	done := make(chan error, 1)
	if err := buf.MapAsync(func(err error) { done <- err }); err != nil {
		t.Fatalf("first map: %v", err)
	}
	if err := buf.MapAsync(nil); !errors.Is(err, ErrMapPending) {
		t.Fatalf("expected ErrMapPending, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := buf.MappedRange(); err != nil {
		t.Fatalf("mapped range: %v", err)
	}
	buf.Unmap()
	if _, err := buf.MappedRange(); !errors.Is(err, ErrNotMapped) {
		t.Errorf("expected ErrNotMapped after unmap, got %v", err)
	}

	storage := mustBuffer(t, d, "storage", 16, BufferUsageStorage)
	if err := storage.MapAsync(nil); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("expected ErrInvalidUsage, got %v", err)
	}
}

func TestTimestampResolve(t *testing.T) {
	d := newTestDevice(t, Options{})
	qs, err := d.CreateQuerySet("ts", 2)
	if err != nil {
		t.Fatal(err)
	}
	resolve := mustBuffer(t, d, "resolve", 16, BufferUsageQueryResolve|BufferUsageCopySrc)

	enc := d.CreateCommandEncoder("ts")
	pass := enc.BeginComputePass(&ComputePassDescriptor{
		Label:           "sleep",
		TimestampWrites: &PassTimestampWrites{QuerySet: qs, BeginIndex: 0, EndIndex: 1},
	})
	pass.Dispatch("sleep", 1, func(uint32) { time.Sleep(2 * time.Millisecond) })
	pass.End()
	enc.ResolveQuerySet(qs, 0, 2, resolve, 0)
	submit(t, d, enc)

	data, err := ReadBuffer(context.Background(), d, resolve)
	if err != nil {
		t.Fatal(err)
	}
	begin := binary.LittleEndian.Uint64(data)
	end := binary.LittleEndian.Uint64(data[8:])
	if end <= begin || time.Duration(end-begin) < 2*time.Millisecond {
		t.Errorf("expected >=2ms between timestamps, got %v", time.Duration(end-begin))
	}
}

func TestTimestampsDisabled(t *testing.T) {
	d := newTestDevice(t, Options{DisableTimestamps: true})
	if d.Features().TimestampQuery {
		t.Fatal("expected timestamp feature to be hidden")
	}
	if _, err := d.CreateQuerySet("ts", 2); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("expected ErrInvalidUsage, got %v", err)
	}
}

func TestKernelPanicLosesDevice(t *testing.T) {
	d := newTestDevice(t, Options{Workers: 2})
	enc := d.CreateCommandEncoder("boom")
	pass := enc.BeginComputePass(nil)
	pass.Dispatch("boom", 256, func(id uint32) {
		if id == 100 {
			panic("out of bounds")
		}
	})
	pass.End()
	submit(t, d, enc)

	select {
	case info := <-d.Lost():
		if info.Reason != LostReasonFault || !errors.Is(info.Err, ErrDeviceLost) {
			t.Errorf("unexpected lost info: %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("device was not lost")
	}

	if err := d.Queue().OnSubmittedWorkDone(context.Background()); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost from fence, got %v", err)
	}
}

func TestFinishWithOpenPass(t *testing.T) {
	d := newTestDevice(t, Options{})
	enc := d.CreateCommandEncoder("open")
	enc.BeginComputePass(&ComputePassDescriptor{Label: "dangling"})
	if _, err := enc.Finish(); !errors.Is(err, ErrPassOpen) {
		t.Errorf("expected ErrPassOpen, got %v", err)
	}
}

func TestDestroyReportsLost(t *testing.T) {
	d := NewCPUDevice(Options{})
	d.Destroy()
	select {
	case info := <-d.Lost():
		if info.Reason != LostReasonDestroyed {
			t.Errorf("expected destroyed, got %v", info.Reason)
		}
	default:
		t.Fatal("expected lost info after destroy")
	}
	if _, err := d.CreateBuffer(BufferDescriptor{Label: "late", Size: 4}); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", err)
	}
}
