// Package testutil provides fakes for testing the Ethos-U host stack
// without hardware: a fake firmware servicing real shared-memory queues, and
// fake doorbell, reset and allocator collaborators.
package testutil

import (
	"sync"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
	"github.com/anthropics/purple-ethosu/pkg/platform"
)

// QueueMemSize is the default size of a fake queue region: header plus ring
// payload.
const QueueMemSize = 12 + 1024

// FakeDoorbell connects the host and the fake firmware. Notify (host to
// firmware) is recorded; the firmware side rings the host callback through
// Ring after it has written responses.
type FakeDoorbell struct {
	mu       sync.Mutex
	hostCb   func()
	notifies int
	closed   bool
}

// NewFakeDoorbell creates a fake doorbell.
func NewFakeDoorbell() *FakeDoorbell {
	return &FakeDoorbell{}
}

// Notify implements platform.Doorbell for the host side.
func (d *FakeDoorbell) Notify() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifies++
	return nil
}

// OnNotify implements platform.Doorbell.
func (d *FakeDoorbell) OnNotify(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hostCb = cb
}

// Close implements platform.Doorbell.
func (d *FakeDoorbell) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Notifies returns how many times the host rang the firmware.
func (d *FakeDoorbell) Notifies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifies
}

// Ring invokes the host's notification callback on the caller's goroutine.
// Call it without holding the device mutex.
func (d *FakeDoorbell) Ring() {
	d.mu.Lock()
	cb := d.hostCb
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FakeReset records reset line transitions and runs optional hooks, which
// tests use to reboot the fake firmware on deassert.
type FakeReset struct {
	mu         sync.Mutex
	asserts    int
	deasserts  int
	OnAssert   func()
	OnDeassert func()
	FailAssert bool
}

// NewFakeReset creates a fake reset line.
func NewFakeReset() *FakeReset {
	return &FakeReset{}
}

// Assert implements platform.Reset.
func (r *FakeReset) Assert() error {
	r.mu.Lock()
	r.asserts++
	hook := r.OnAssert
	fail := r.FailAssert
	r.mu.Unlock()

	if fail {
		return core.NewError(core.StatusInternalFailure, "fake assert error")
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Deassert implements platform.Reset.
func (r *FakeReset) Deassert() error {
	r.mu.Lock()
	r.deasserts++
	hook := r.OnDeassert
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// Asserts returns the number of assert transitions.
func (r *FakeReset) Asserts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asserts
}

// FakeAllocator backs DMA regions with plain slices and synthetic DMA
// addresses.
type FakeAllocator struct {
	mu   sync.Mutex
	next uint32
}

// FakeDmaBase is the synthetic DMA address of the first allocation.
const FakeDmaBase uint32 = 0x60000000

// NewFakeAllocator creates a fake allocator.
func NewFakeAllocator() *FakeAllocator {
	return &FakeAllocator{}
}

// Allocate implements platform.Allocator.
func (a *FakeAllocator) Allocate(size uint32) (*platform.Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	region := &platform.Region{
		Mem: make([]byte, size),
		DMA: FakeDmaBase + a.next,
	}
	a.next += (size + 15) &^ 15

	return region, nil
}

// FakeFirmware services the shared-memory queues the way the real firmware
// would: it drains the host-to-firmware queue, answers each request, and
// rings the host doorbell.
type FakeFirmware struct {
	mu sync.Mutex

	// rx is the host-to-firmware queue, tx the firmware-to-host queue.
	rxMem []byte
	txMem []byte
	rx    *mailbox.Queue
	tx    *mailbox.Queue

	doorbell *FakeDoorbell

	// Silent drops all requests without answering, simulating dead
	// firmware.
	Silent bool

	// HoldInferences parks inference requests instead of answering;
	// ReleaseInferences answers them later.
	HoldInferences bool
	held           []core.InferenceReq

	// Canned responses.
	Version         core.VersionRsp
	Capabilities    core.CapabilitiesRsp
	InferenceStatus uint32
	OfmSizes        []uint32
	PmuCounts       [core.MaxPmus]uint32
	CycleCount      uint64
	CancelStatus    uint32
	NetworkInfos    map[uint32]core.NetworkInfoRsp

	// Requests seen, by message type.
	Seen map[uint32]int

	inferSeen []core.InferenceReq
}

// NewFakeFirmware creates a fake firmware over the two queue regions. The
// regions are shared with the device under test. Boot must be called before
// the queues are usable.
func NewFakeFirmware(outboundMem, inboundMem []byte, doorbell *FakeDoorbell) (*FakeFirmware, error) {
	rx, err := mailbox.NewQueue(outboundMem)
	if err != nil {
		return nil, err
	}
	tx, err := mailbox.NewQueue(inboundMem)
	if err != nil {
		return nil, err
	}

	return &FakeFirmware{
		rxMem:           outboundMem,
		txMem:           inboundMem,
		rx:              rx,
		tx:              tx,
		doorbell:        doorbell,
		Version:         core.VersionRsp{Major: core.MsgVersionMajor, Minor: core.MsgVersionMinor},
		InferenceStatus: core.StatusOK,
		CancelStatus:    core.StatusOK,
		NetworkInfos:    make(map[uint32]core.NetworkInfoRsp),
		Seen:            make(map[uint32]int),
	}, nil
}

// Boot publishes valid queue headers, as the firmware does when it has
// initialized.
func (f *FakeFirmware) Boot() {
	f.rx.PublishHeader(uint32(len(f.rxMem) - 12))
	f.tx.PublishHeader(uint32(len(f.txMem) - 12))
}

// Process drains the host-to-firmware queue, answers every request, and
// rings the host doorbell if anything was written. Call it from a goroutine
// that does not hold the device mutex.
func (f *FakeFirmware) Process() error {
	wrote, err := f.service()
	if wrote {
		f.doorbell.Ring()
	}
	return err
}

func (f *FakeFirmware) service() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wrote := false
	var payload [core.MaxPayloadSize]byte

	for {
		var hdrBytes [core.MsgHeaderSize]byte
		if err := f.rx.Read(hdrBytes[:]); err != nil {
			if err == mailbox.ErrQueueEmpty {
				return wrote, nil
			}
			return wrote, err
		}

		header, err := core.ParseMsgHeader(hdrBytes[:])
		if err != nil {
			return wrote, err
		}
		if err := f.rx.Read(payload[:header.Length]); err != nil && header.Length > 0 {
			return wrote, err
		}

		f.Seen[header.Type]++

		if f.Silent {
			continue
		}

		replied, err := f.reply(header, payload[:header.Length])
		if err != nil {
			return wrote, err
		}
		wrote = wrote || replied
	}
}

func (f *FakeFirmware) reply(header core.MsgHeader, payload []byte) (bool, error) {
	switch header.Type {
	case core.MsgTypePing:
		return true, f.write(core.MsgTypePong, nil)

	case core.MsgTypePong:
		return false, nil

	case core.MsgTypeVersionReq:
		return true, f.write(core.MsgTypeVersionRsp, core.PackVersionRsp(f.Version))

	case core.MsgTypeCapabilitiesReq:
		req, err := core.ParseCapabilitiesReq(payload)
		if err != nil {
			return false, err
		}
		rsp := f.Capabilities
		rsp.UserArg = req.UserArg
		return true, f.write(core.MsgTypeCapabilitiesRsp, core.PackCapabilitiesRsp(rsp))

	case core.MsgTypeInferenceReq:
		req, err := core.ParseInferenceReq(payload)
		if err != nil {
			return false, err
		}
		f.inferSeen = append(f.inferSeen, req)
		if f.HoldInferences {
			f.held = append(f.held, req)
			return false, nil
		}
		return true, f.answerInference(req)

	case core.MsgTypeNetworkInfoReq:
		req, err := core.ParseNetworkInfoReq(payload)
		if err != nil {
			return false, err
		}
		rsp, ok := f.NetworkInfos[req.Network.Index]
		if !ok {
			rsp = core.NetworkInfoRsp{Status: core.StatusError}
		}
		rsp.UserArg = req.UserArg
		return true, f.write(core.MsgTypeNetworkInfoRsp, core.PackNetworkInfoRsp(rsp))

	case core.MsgTypeCancelInferenceReq:
		req, err := core.ParseCancelInferenceReq(payload)
		if err != nil {
			return false, err
		}
		rsp := core.CancelInferenceRsp{UserArg: req.UserArg, Status: f.CancelStatus}
		if err := f.write(core.MsgTypeCancelInferenceRsp, core.PackCancelInferenceRsp(rsp)); err != nil {
			return false, err
		}
		// A successful cancel also aborts the held inference.
		if f.CancelStatus == core.StatusOK {
			for i, held := range f.held {
				if held.UserArg == req.InferenceHandle {
					f.held = append(f.held[:i], f.held[i+1:]...)
					aborted := core.InferenceRsp{UserArg: held.UserArg, Status: core.StatusAborted}
					return true, f.write(core.MsgTypeInferenceRsp, core.PackInferenceRsp(aborted))
				}
			}
		}
		return true, nil

	default:
		return false, nil
	}
}

func (f *FakeFirmware) answerInference(req core.InferenceReq) error {
	rsp := core.InferenceRsp{
		UserArg:               req.UserArg,
		Status:                f.InferenceStatus,
		PmuEventConfig:        req.PmuEventConfig,
		PmuEventCount:         f.PmuCounts,
		PmuCycleCounterEnable: req.PmuCycleCounterEnable,
		PmuCycleCounterCount:  f.CycleCount,
	}
	if f.InferenceStatus == core.StatusOK {
		rsp.OfmCount = uint32(len(f.OfmSizes))
		if rsp.OfmCount == 0 {
			rsp.OfmCount = req.OfmCount
		}
		for i := uint32(0); i < rsp.OfmCount && i < core.MaxOfms; i++ {
			if int(i) < len(f.OfmSizes) {
				rsp.OfmSize[i] = f.OfmSizes[i]
			}
		}
	}
	return f.write(core.MsgTypeInferenceRsp, core.PackInferenceRsp(rsp))
}

// ReleaseInferences answers every held inference request and rings the host
// doorbell.
func (f *FakeFirmware) ReleaseInferences() error {
	f.mu.Lock()
	held := f.held
	f.held = nil
	for _, req := range held {
		if err := f.answerInference(req); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Unlock()

	if len(held) > 0 {
		f.doorbell.Ring()
	}
	return nil
}

// SetSilent toggles silent mode.
func (f *FakeFirmware) SetSilent(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Silent = silent
}

// SeenCount returns how many requests of the given type the firmware has
// seen.
func (f *FakeFirmware) SeenCount(msgType uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Seen[msgType]
}

// InferenceRequests returns every inference request the firmware has seen.
func (f *FakeFirmware) InferenceRequests() []core.InferenceReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.InferenceReq(nil), f.inferSeen...)
}

// HeldInferences returns the inference requests parked by HoldInferences.
func (f *FakeFirmware) HeldInferences() []core.InferenceReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.InferenceReq(nil), f.held...)
}

// SendErr pushes a firmware error frame to the host and rings the doorbell.
func (f *FakeFirmware) SendErr(msg string) error {
	var e core.Err
	copy(e.Msg[:], msg)

	f.mu.Lock()
	err := f.write(core.MsgTypeErr, core.PackErr(e))
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.doorbell.Ring()
	return nil
}

// SendRaw pushes an arbitrary frame to the host and rings the doorbell.
func (f *FakeFirmware) SendRaw(magic, msgType uint32, payload []byte) error {
	header := core.PackMsgHeader(core.MsgHeader{
		Magic:  magic,
		Type:   msgType,
		Length: uint32(len(payload)),
	})

	f.mu.Lock()
	err := f.tx.Write(header, payload)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.doorbell.Ring()
	return nil
}

func (f *FakeFirmware) write(msgType uint32, payload []byte) error {
	header := core.PackMsgHeader(core.MsgHeader{
		Magic:  core.MsgMagic,
		Type:   msgType,
		Length: uint32(len(payload)),
	})
	return f.tx.Write(header, payload)
}
