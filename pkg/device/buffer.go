package device

import (
	"context"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
	"github.com/anthropics/purple-ethosu/pkg/platform"
)

// Buffer is a fixed-capacity DMA region with a movable (offset, size)
// window. The window marks the filled part of the buffer: for an input it is
// the model or feature-map bytes, for an output it grows as the firmware
// reports produced bytes.
//
// Buffers are reference counted. The handle returned by CreateBuffer holds
// one reference; every network or inference built on the buffer holds
// another. The region is released when the last reference drops.
type Buffer struct {
	dev      *Device
	region   *platform.Region
	capacity uint32
	offset   uint32
	size     uint32
	refs     int
}

// CreateBuffer allocates a DMA region of capacity bytes and returns a buffer
// handle with an empty window.
func (d *Device) CreateBuffer(ctx context.Context, capacity uint32) (*Buffer, error) {
	if capacity == 0 {
		return nil, core.NewError(core.StatusInvalidArgument, "buffer capacity cannot be zero")
	}

	if err := d.lockCtx(ctx); err != nil {
		return nil, err
	}
	defer d.unlock()

	region, err := d.alloc.Allocate(capacity)
	if err != nil {
		return nil, err
	}

	d.log.WithField("capacity", capacity).Debug("Buffer create")

	return &Buffer{
		dev:      d,
		region:   region,
		capacity: capacity,
		refs:     1,
	}, nil
}

// SetWindow moves the buffer window. The window must lie inside the
// capacity.
func (b *Buffer) SetWindow(ctx context.Context, offset, size uint32) error {
	if err := b.dev.lockCtx(ctx); err != nil {
		return err
	}
	defer b.dev.unlock()

	return b.setWindow(offset, size)
}

// setWindow is the locked core of SetWindow, shared with the response path
// that grows output windows.
func (b *Buffer) setWindow(offset, size uint32) error {
	if offset+size < offset || offset+size > b.capacity {
		return core.NewError(core.StatusInvalidArgument, "window exceeds buffer capacity")
	}
	b.offset = offset
	b.size = size
	return nil
}

// Window returns the current (offset, size) window.
func (b *Buffer) Window(ctx context.Context) (offset, size uint32, err error) {
	if err := b.dev.lockCtx(ctx); err != nil {
		return 0, 0, err
	}
	defer b.dev.unlock()

	return b.offset, b.size, nil
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() uint32 {
	return b.capacity
}

// Data returns the mapped bytes from the window offset to the end of the
// buffer. Access is not synchronized against the firmware; the caller owns
// input data until the inference is sent and output data after it
// completed.
func (b *Buffer) Data() []byte {
	return b.region.Mem[b.offset:]
}

// Close drops the handle's reference.
func (b *Buffer) Close() error {
	b.dev.lockWait()
	defer b.dev.unlock()

	b.put()
	return nil
}

// windowData returns the bytes inside the window. Called with the device
// mutex held.
func (b *Buffer) windowData() []byte {
	return b.region.Mem[b.offset : b.offset+b.size]
}

// grow extends the window by n produced bytes. Called with the device mutex
// held.
func (b *Buffer) grow(n uint32) error {
	return b.setWindow(b.offset, b.size+n)
}

// dma describes the buffer to the mailbox send paths. Called with the
// device mutex held.
func (b *Buffer) dma() mailbox.DMABuffer {
	return mailbox.DMABuffer{
		Addr:     b.region.DMA,
		Offset:   b.offset,
		Size:     b.size,
		Capacity: b.capacity,
	}
}

// get and put manage the reference count under the device mutex.
func (b *Buffer) get() {
	b.refs++
}

func (b *Buffer) put() {
	b.refs--
	if b.refs > 0 {
		return
	}

	b.dev.log.WithField("capacity", b.capacity).Debug("Buffer destroy")
	if err := b.region.Free(); err != nil {
		// Tear-down must not fail; the leak is logged and carried.
		b.dev.log.WithError(err).Warn("Failed to free buffer region")
	}
}
