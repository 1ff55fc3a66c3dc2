package mailbox_test

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
	"github.com/anthropics/purple-ethosu/pkg/watchdog"
	"github.com/anthropics/purple-ethosu/testutil"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type rig struct {
	mbox *mailbox.Mailbox
	wdog *watchdog.Watchdog
	fw   *testutil.FakeFirmware
	bell *testutil.FakeDoorbell
}

func newRig(t *testing.T) *rig {
	t.Helper()

	outboundMem := make([]byte, testutil.QueueMemSize)
	inboundMem := make([]byte, testutil.QueueMemSize)
	bell := testutil.NewFakeDoorbell()

	fw, err := testutil.NewFakeFirmware(outboundMem, inboundMem, bell)
	if err != nil {
		t.Fatalf("NewFakeFirmware: %v", err)
	}
	fw.Boot()

	wdog := watchdog.New(testLog(), time.Hour, func() {})
	t.Cleanup(wdog.Stop)

	mbox, err := mailbox.New(testLog(), inboundMem, outboundMem, bell, wdog)
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}

	return &rig{mbox: mbox, wdog: wdog, fw: fw, bell: bell}
}

// drain reads every pending inbound frame, as the device dispatch loop
// would.
func (r *rig) drain(t *testing.T) []core.MsgHeader {
	t.Helper()

	var headers []core.MsgHeader
	buf := make([]byte, core.MaxPayloadSize)
	for {
		header, _, err := r.mbox.ReadMessage(buf)
		if err != nil {
			return headers
		}
		headers = append(headers, header)
	}
}

func TestPingPongWatchdogNetZero(t *testing.T) {
	r := newRig(t)

	if err := r.mbox.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := r.wdog.Count(); got != 1 {
		t.Errorf("watchdog count after ping = %d, want 1", got)
	}
	if got := r.mbox.PingCount(); got != 1 {
		t.Errorf("ping count after ping = %d, want 1", got)
	}

	if err := r.fw.Process(); err != nil {
		t.Fatalf("firmware Process: %v", err)
	}

	headers := r.drain(t)
	if len(headers) != 1 || headers[0].Type != core.MsgTypePong {
		t.Fatalf("inbound frames %v, want a single pong", headers)
	}

	if got := r.wdog.Count(); got != 0 {
		t.Errorf("watchdog count after pong = %d, want 0", got)
	}
	if got := r.mbox.PingCount(); got != 0 {
		t.Errorf("ping count after pong = %d, want 0", got)
	}
}

func TestCapabilitiesRequestDoesNotArmWatchdog(t *testing.T) {
	r := newRig(t)

	if err := r.mbox.CapabilitiesRequest(5); err != nil {
		t.Fatalf("CapabilitiesRequest: %v", err)
	}
	if got := r.wdog.Count(); got != 0 {
		t.Errorf("watchdog count after capabilities request = %d, want 0", got)
	}
}

func TestInferenceRequestComposition(t *testing.T) {
	r := newRig(t)

	ifm := mailbox.DMABuffer{Addr: 0x60002000, Offset: 16, Size: 1024, Capacity: 2048}
	ofm := mailbox.DMABuffer{Addr: 0x60001000, Offset: 0, Size: 0, Capacity: 4096}
	network := mailbox.NetworkSource{Index: 2}

	err := r.mbox.InferenceRequest(9, []mailbox.DMABuffer{ifm}, []mailbox.DMABuffer{ofm},
		network, mailbox.PmuConfig{EventConfig: [4]uint8{1, 0, 0, 0}, CycleCounter: true})
	if err != nil {
		t.Fatalf("InferenceRequest: %v", err)
	}

	if got := r.wdog.Count(); got != 1 {
		t.Errorf("watchdog count after inference request = %d, want 1", got)
	}
	if got := r.bell.Notifies(); got != 1 {
		t.Errorf("doorbell rung %d times, want 1", got)
	}

	if err := r.fw.Process(); err != nil {
		t.Fatalf("firmware Process: %v", err)
	}
	reqs := r.fw.InferenceRequests()
	if len(reqs) != 1 {
		t.Fatalf("firmware saw %d inference requests, want 1", len(reqs))
	}
	req := reqs[0]

	if req.UserArg != 9 {
		t.Errorf("user_arg = %d, want 9", req.UserArg)
	}
	// The input goes on the wire as its window.
	if req.Ifm[0].Ptr != 0x60002010 || req.Ifm[0].Size != 1024 {
		t.Errorf("ifm on wire = %+v, want ptr 0x60002010 size 1024", req.Ifm[0])
	}
	// The output goes on the wire as its remaining capacity.
	if req.Ofm[0].Ptr != 0x60001000 || req.Ofm[0].Size != 4096 {
		t.Errorf("ofm on wire = %+v, want ptr 0x60001000 size 4096", req.Ofm[0])
	}
	if req.Network.Kind != core.NetworkIndex || req.Network.Index != 2 {
		t.Errorf("network on wire = %+v, want index 2", req.Network)
	}
	if req.PmuCycleCounterEnable != 1 {
		t.Errorf("cycle counter enable = %d, want 1", req.PmuCycleCounterEnable)
	}
}

func TestInferenceRequestTooManyBuffers(t *testing.T) {
	r := newRig(t)

	bufs := make([]mailbox.DMABuffer, core.MaxIfms+1)
	err := r.mbox.InferenceRequest(1, bufs, nil, mailbox.NetworkSource{Index: 0}, mailbox.PmuConfig{})
	if core.StatusOf(err) != core.StatusInvalidArgument {
		t.Errorf("oversized request = %v, want invalid argument", err)
	}
}

func TestReadMessageInvalidMagic(t *testing.T) {
	r := newRig(t)

	if err := r.fw.SendRaw(0xdeadbeef, core.MsgTypePong, nil); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}

	_, _, err := r.mbox.ReadMessage(make([]byte, core.MaxPayloadSize))
	if core.StatusOf(err) != core.StatusInvalidFrame {
		t.Errorf("bad magic read = %v, want invalid frame", err)
	}
}

func TestWaitFirmware(t *testing.T) {
	r := newRig(t)

	if err := r.mbox.WaitFirmware(50 * time.Millisecond); err != nil {
		t.Errorf("WaitFirmware on booted queue: %v", err)
	}

	r.mbox.WaitPrepare()
	err := r.mbox.WaitFirmware(50 * time.Millisecond)
	if core.StatusOf(err) != core.StatusTimeout {
		t.Errorf("WaitFirmware on sentinel header = %v, want timeout", err)
	}
}
