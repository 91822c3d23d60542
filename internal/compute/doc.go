// Package compute provides the compute device the solver runs on.
//
// The package models a GPU-style device: storage buffers, command encoders
// recording compute passes, an asynchronous queue that executes command
// buffers in submission order, asynchronous buffer mapping and timestamp
// query sets.
//
//   - CPU: kernels run as workgroup-parallel goroutines with the same
//     guarantees a GPU gives (storage-buffer atomics including
//     compare-and-swap, a barrier between consecutive dispatches, no
//     host/device synchronisation unless a map or OnSubmittedWorkDone is
//     awaited)
//
// # Usage
//
//	dev, err := compute.RequestDevice(ctx, compute.Options{})
//	buf, _ := dev.CreateBuffer(compute.BufferDescriptor{Label: "counts", Size: 4096, Usage: compute.BufferUsageStorage})
//	enc := dev.CreateCommandEncoder("frame")
//	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{Label: "count"})
//	pass.Dispatch("count", 1024, func(id uint32) { buf.AtomicAdd(id%16, 1) })
//	pass.End()
//	cb, _ := enc.Finish()
//	dev.Queue().Submit(cb)
//
// Kernels address buffers by 32-bit word index. Binary layouts are
// little-endian and declared by the packages that own each buffer.
package compute
