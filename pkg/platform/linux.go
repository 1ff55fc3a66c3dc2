//go:build linux

package platform

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// pageSize is the mapping granularity for the reserved region.
const pageSize = 4096

// DevMemAllocator hands out DMA regions by bump-allocating a reserved
// physical memory carveout mapped through a memory device node. The firmware
// sees the carveout at its physical address, the host through the mapping.
type DevMemAllocator struct {
	mu   sync.Mutex
	mem  []byte
	base uint32
	next uint32
}

// OpenDevMemAllocator maps size bytes of the carveout starting at the
// physical address base.
func OpenDevMemAllocator(path string, base uint32, size uint32) (*DevMemAllocator, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errnoError(err, "opening memory device "+path)
	}
	defer unix.Close(fd)

	mapSize := (int(size) + pageSize - 1) / pageSize * pageSize
	mem, err := unix.Mmap(fd, int64(base), mapSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errnoError(err, "mapping reserved memory")
	}

	return &DevMemAllocator{
		mem:  mem[:size],
		base: base,
	}, nil
}

// Allocate carves the next size bytes out of the reserved region. Regions
// are aligned to 16 bytes the way the firmware expects its buffers.
func (a *DevMemAllocator) Allocate(size uint32) (*Region, error) {
	const align = 16

	a.mu.Lock()
	defer a.mu.Unlock()

	offset := (a.next + align - 1) &^ (align - 1)
	if size == 0 || offset+size < offset || offset+size > uint32(len(a.mem)) {
		return nil, core.NewError(core.StatusResourceExhausted, "reserved memory exhausted")
	}
	a.next = offset + size

	return &Region{
		Mem: a.mem[offset : offset+size : offset+size],
		DMA: a.base + offset,
		// The carveout is never handed back to the kernel; freeing a
		// region only makes it unreachable from the host side.
		free: func() error { return nil },
	}, nil
}

// Close unmaps the carveout.
func (a *DevMemAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return nil
	}
	mem := a.mem[:cap(a.mem)]
	a.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return errnoError(err, "unmapping reserved memory")
	}
	return nil
}

// UIODoorbell rings and listens on a userspace-IO interrupt device. Writing
// the enable word triggers the outgoing interrupt, blocking reads deliver
// incoming ones.
type UIODoorbell struct {
	f      *os.File
	mu     sync.Mutex
	cb     func()
	closed bool
}

// OpenUIODoorbell opens a UIO device node.
func OpenUIODoorbell(path string) (*UIODoorbell, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, core.NewErrorWithCause(core.StatusInternalFailure, "opening doorbell "+path, err)
	}

	d := &UIODoorbell{f: f}
	go d.listen()

	return d, nil
}

// Notify rings the firmware side of the doorbell.
func (d *UIODoorbell) Notify() error {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], 1)
	if _, err := d.f.Write(word[:]); err != nil {
		return core.NewErrorWithCause(core.StatusInternalFailure, "ringing doorbell", err)
	}
	return nil
}

// OnNotify registers the callback invoked for each incoming interrupt.
func (d *UIODoorbell) OnNotify(cb func()) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// Close stops the listener and closes the device node.
func (d *UIODoorbell) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.f.Close()
}

func (d *UIODoorbell) listen() {
	var word [4]byte
	for {
		if _, err := d.f.Read(word[:]); err != nil {
			// Closed device or broken interrupt stream; stop
			// listening either way.
			return
		}

		d.mu.Lock()
		cb := d.cb
		d.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// SysfsReset drives a firmware reset line exposed as a sysfs attribute:
// writing 1 asserts, 0 deasserts.
type SysfsReset struct {
	path string
}

// NewSysfsReset wraps the sysfs attribute at path.
func NewSysfsReset(path string) *SysfsReset {
	return &SysfsReset{path: path}
}

// Assert holds the firmware in reset.
func (r *SysfsReset) Assert() error {
	return r.write("1")
}

// Deassert releases the firmware from reset.
func (r *SysfsReset) Deassert() error {
	return r.write("0")
}

func (r *SysfsReset) write(v string) error {
	if err := os.WriteFile(r.path, []byte(v), 0); err != nil {
		return core.NewErrorWithCause(core.StatusInternalFailure,
			fmt.Sprintf("writing %s to %s", v, r.path), err)
	}
	return nil
}

// errnoError converts a unix error into the stack's taxonomy.
func errnoError(err error, context string) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return core.NewErrorWithCause(core.StatusInternalFailure, context, err)
	}

	var status core.Status
	switch errno {
	case unix.ENOMEM, unix.ENOBUFS:
		status = core.StatusResourceExhausted
	case unix.EINVAL:
		status = core.StatusInvalidArgument
	case unix.EINTR:
		status = core.StatusInterrupted
	case unix.ETIMEDOUT:
		status = core.StatusTimeout
	case unix.ENOENT:
		status = core.StatusNotFound
	default:
		status = core.StatusInternalFailure
	}

	return core.NewErrorWithCause(status, context, errno)
}
