package compute

import (
	"context"
	"fmt"
)

// ReadBuffer copies src into a temporary staging buffer, waits for the map
// and returns the bytes. It blocks until all previously submitted work has
// executed, so it is meant for start-up, diagnostics and tests, never the
// frame loop.
func ReadBuffer(ctx context.Context, dev Device, src *Buffer) ([]byte, error) {
	staging, err := dev.CreateBuffer(BufferDescriptor{
		Label: src.Label() + " (staging)",
		Size:  src.Size(),
		Usage: BufferUsageMapRead | BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	enc := dev.CreateCommandEncoder("readback " + src.Label())
	enc.CopyBufferToBuffer(src, 0, staging, 0, src.Size())
	cb, err := enc.Finish()
	if err != nil {
		return nil, err
	}
	dev.Queue().Submit(cb)

	done := make(chan error, 1)
	if err := staging.MapAsync(func(err error) { done <- err }); err != nil {
		return nil, err
	}
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("readback %q: %w", src.Label(), err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	data, err := staging.MappedRange()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	staging.Unmap()
	return out, nil
}
