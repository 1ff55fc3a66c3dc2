package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/device"
)

// Rig wires a device to a fake firmware over shared queue memory.
type Rig struct {
	Device   *device.Device
	Firmware *FakeFirmware
	Doorbell *FakeDoorbell
	Reset    *FakeReset
	Alloc    *FakeAllocator
}

// NewRig boots a fake firmware and opens a device against it. The reset line
// is wired to reboot the fake firmware on deassert, so watchdog recovery
// works end to end.
func NewRig(t *testing.T, opts device.Options) *Rig {
	t.Helper()

	outboundMem := make([]byte, QueueMemSize)
	inboundMem := make([]byte, QueueMemSize)

	doorbell := NewFakeDoorbell()
	reset := NewFakeReset()
	alloc := NewFakeAllocator()

	fw, err := NewFakeFirmware(outboundMem, inboundMem, doorbell)
	if err != nil {
		t.Fatalf("creating fake firmware: %v", err)
	}
	fw.Boot()
	reset.OnDeassert = fw.Boot

	log := logrus.New()
	log.SetOutput(io.Discard)

	dev, err := device.Open(device.Config{
		Log:         log,
		Options:     opts,
		InboundMem:  inboundMem,
		OutboundMem: outboundMem,
		Doorbell:    doorbell,
		Reset:       reset,
		Allocator:   alloc,
	})
	if err != nil {
		t.Fatalf("opening device: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	return &Rig{
		Device:   dev,
		Firmware: fw,
		Doorbell: doorbell,
		Reset:    reset,
		Alloc:    alloc,
	}
}
