package compute

import (
	"fmt"
)

// QueryIndexNone marks an unused timestamp slot in PassTimestampWrites.
const QueryIndexNone = ^uint32(0)

// PassTimestampWrites requests timestamps at the start and end of a pass.
type PassTimestampWrites struct {
	QuerySet   *QuerySet
	BeginIndex uint32
	EndIndex   uint32
}

// ComputePassDescriptor describes a compute pass.
type ComputePassDescriptor struct {
	Label           string
	TimestampWrites *PassTimestampWrites
}

type command interface {
	execute(x executor) error
}

type executor interface {
	dispatch(label string, n uint32, k Kernel) error
	timestamp() uint64
}

// CommandEncoder records passes and copies into a CommandBuffer.
// It is not safe for concurrent use.
type CommandEncoder struct {
	label    string
	commands []command
	open     *ComputePass
	err      error
}

func newCommandEncoder(label string) *CommandEncoder {
	return &CommandEncoder{label: label}
}

// BeginComputePass starts recording a compute pass. Dispatches inside a pass
// execute in order with a full storage barrier between them.
func (e *CommandEncoder) BeginComputePass(desc *ComputePassDescriptor) *ComputePass {
	if desc == nil {
		desc = &ComputePassDescriptor{}
	}
	if e.open != nil && e.err == nil {
		e.err = fmt.Errorf("%w: %q begun while %q recording", ErrPassOpen, desc.Label, e.open.label)
	}
	p := &ComputePass{encoder: e, label: desc.Label, timestamps: desc.TimestampWrites}
	if tw := p.timestamps; tw != nil && tw.BeginIndex != QueryIndexNone {
		e.commands = append(e.commands, timestampCmd{qs: tw.QuerySet, index: tw.BeginIndex})
	}
	e.open = p
	return p
}

// CopyBufferToBuffer copies size bytes between buffers.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset uint64, size uint64) {
	e.commands = append(e.commands, copyCmd{src: src, srcOffset: srcOffset, dst: dst, dstOffset: dstOffset, size: size})
}

// ClearBuffer zeroes size bytes of buf starting at offset.
func (e *CommandEncoder) ClearBuffer(buf *Buffer, offset, size uint64) {
	e.commands = append(e.commands, clearCmd{buf: buf, offset: offset, size: size})
}

// ResolveQuerySet writes count timestamps starting at first into dst as
// little-endian uint64 values.
func (e *CommandEncoder) ResolveQuerySet(qs *QuerySet, first, count uint32, dst *Buffer, dstOffset uint64) {
	e.commands = append(e.commands, resolveCmd{qs: qs, first: first, count: count, dst: dst, dstOffset: dstOffset})
}

// Finish closes the encoder.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.open != nil {
		return nil, fmt.Errorf("%w: %q", ErrPassOpen, e.open.label)
	}
	cb := &CommandBuffer{label: e.label, commands: e.commands}
	e.commands = nil
	return cb, nil
}

// ComputePass records dispatches.
type ComputePass struct {
	encoder    *CommandEncoder
	label      string
	timestamps *PassTimestampWrites
	ended      bool
}

// Dispatch records n invocations of k.
func (p *ComputePass) Dispatch(label string, n uint32, k Kernel) {
	if p.ended {
		return
	}
	p.encoder.commands = append(p.encoder.commands, dispatchCmd{label: label, n: n, k: k})
}

// End finishes the pass.
func (p *ComputePass) End() {
	if p.ended {
		return
	}
	p.ended = true
	if tw := p.timestamps; tw != nil && tw.EndIndex != QueryIndexNone {
		p.encoder.commands = append(p.encoder.commands, timestampCmd{qs: tw.QuerySet, index: tw.EndIndex})
	}
	if p.encoder.open == p {
		p.encoder.open = nil
	}
}

// CommandBuffer is a finished, submittable recording.
type CommandBuffer struct {
	label    string
	commands []command
}

func (cb *CommandBuffer) Label() string { return cb.label }

func (cb *CommandBuffer) execute(x executor) error {
	for _, c := range cb.commands {
		if err := c.execute(x); err != nil {
			return fmt.Errorf("command buffer %q: %w", cb.label, err)
		}
	}
	return nil
}

type dispatchCmd struct {
	label string
	n     uint32
	k     Kernel
}

func (c dispatchCmd) execute(x executor) error { return x.dispatch(c.label, c.n, c.k) }

type timestampCmd struct {
	qs    *QuerySet
	index uint32
}

func (c timestampCmd) execute(x executor) error {
	return c.qs.write(c.index, x.timestamp())
}

type copyCmd struct {
	src, dst             *Buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c copyCmd) execute(executor) error {
	if err := c.src.check(c.srcOffset, c.size); err != nil {
		return err
	}
	if err := c.dst.check(c.dstOffset, c.size); err != nil {
		return err
	}
	if c.dst.MapPending() {
		return fmt.Errorf("%w: copy into mapped buffer %q", ErrInvalidUsage, c.dst.label)
	}
	copy(c.dst.words[c.dstOffset/4:(c.dstOffset+c.size)/4], c.src.words[c.srcOffset/4:(c.srcOffset+c.size)/4])
	return nil
}

type clearCmd struct {
	buf          *Buffer
	offset, size uint64
}

func (c clearCmd) execute(executor) error {
	if err := c.buf.check(c.offset, c.size); err != nil {
		return err
	}
	c.buf.Fill(uint32(c.offset/4), uint32((c.offset+c.size)/4), 0)
	return nil
}

type resolveCmd struct {
	qs        *QuerySet
	first     uint32
	count     uint32
	dst       *Buffer
	dstOffset uint64
}

func (c resolveCmd) execute(executor) error {
	if c.dst.usage&BufferUsageQueryResolve == 0 {
		return fmt.Errorf("%w: resolve into %q", ErrInvalidUsage, c.dst.label)
	}
	if err := c.dst.check(c.dstOffset, uint64(c.count)*8); err != nil {
		return err
	}
	if c.dst.MapPending() {
		return fmt.Errorf("%w: resolve into mapped buffer %q", ErrInvalidUsage, c.dst.label)
	}
	vals, err := c.qs.read(c.first, c.count)
	if err != nil {
		return err
	}
	base := uint32(c.dstOffset / 4)
	for i, v := range vals {
		c.dst.words[base+uint32(i)*2] = uint32(v)
		c.dst.words[base+uint32(i)*2+1] = uint32(v >> 32)
	}
	return nil
}
