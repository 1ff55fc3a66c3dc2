package mailbox

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/platform"
	"github.com/anthropics/purple-ethosu/pkg/watchdog"
)

// DMABuffer describes one device buffer to the send paths: its DMA base
// address, the (offset, size) window and the total capacity.
type DMABuffer struct {
	Addr     uint32
	Offset   uint32
	Size     uint32
	Capacity uint32
}

// window reports the filled part of the buffer: the window start and size.
func (b DMABuffer) window() core.Buffer {
	return core.Buffer{Ptr: b.Addr + b.Offset, Size: b.Size}
}

// remainder reports the writable tail of the buffer: everything between the
// end of the window and the capacity. Output buffers go on the wire this way
// so the firmware knows how much room it has.
func (b DMABuffer) remainder() core.Buffer {
	return core.Buffer{
		Ptr:  b.Addr + b.Offset + b.Size,
		Size: b.Capacity - b.Offset - b.Size,
	}
}

// NetworkSource names a model for a request: a DMA buffer holding the model,
// or the index of a model baked into the firmware.
type NetworkSource struct {
	Buffer *DMABuffer
	Index  uint32
}

func (s NetworkSource) wire() core.Network {
	if s.Buffer != nil {
		return core.Network{Kind: core.NetworkBuffer, Buffer: s.Buffer.window()}
	}
	return core.Network{Kind: core.NetworkIndex, Index: s.Index}
}

// PmuConfig selects the PMU events and cycle counter for one inference.
type PmuConfig struct {
	EventConfig  [core.MaxPmus]uint8
	CycleCounter bool
}

// Mailbox owns the two queues, the message registry and the watchdog
// bookkeeping, and provides a typed send path for every request. All methods
// are called under the device mutex, WaitFirmware included: the firmware
// reset holds the mutex across the boot wait.
type Mailbox struct {
	log      *logrus.Entry
	inbound  *Queue
	outbound *Queue
	doorbell platform.Doorbell
	wdog     *watchdog.Watchdog
	registry *Registry
	metrics  *Metrics

	pingCount int
}

// New creates a mailbox over the two shared-memory queue regions. inbound is
// the firmware-to-host direction, outbound host-to-firmware.
func New(log *logrus.Entry, inboundMem, outboundMem []byte, doorbell platform.Doorbell,
	wdog *watchdog.Watchdog) (*Mailbox, error) {

	inbound, err := NewQueue(inboundMem)
	if err != nil {
		return nil, err
	}
	outbound, err := NewQueue(outboundMem)
	if err != nil {
		return nil, err
	}

	m := &Mailbox{
		log:      log,
		inbound:  inbound,
		outbound: outbound,
		doorbell: doorbell,
		wdog:     wdog,
		registry: NewRegistry(),
	}
	m.metrics = NewMetrics(func() float64 { return float64(m.registry.Len()) })

	return m, nil
}

// Registry returns the message registry.
func (m *Mailbox) Registry() *Registry {
	return m.registry
}

// Metrics returns the mailbox metrics for collector registration.
func (m *Mailbox) Metrics() *Metrics {
	return m.metrics
}

// PingCount returns the number of pings still waiting for a pong.
func (m *Mailbox) PingCount() int {
	return m.pingCount
}

// ClearPingCount forgets outstanding pings, used after a firmware reset.
func (m *Mailbox) ClearPingCount() {
	m.pingCount = 0
}

// wdInc applies the send half of the watchdog accounting: pings and
// inference requests each expect a reply and hold one reference.
func (m *Mailbox) wdInc(msgType uint32) {
	switch msgType {
	case core.MsgTypePing:
		m.pingCount++
		fallthrough
	case core.MsgTypeInferenceReq:
		m.wdog.Inc()
	}
}

// wdDec applies the receive half of the accounting.
func (m *Mailbox) wdDec(msgType uint32) {
	switch msgType {
	case core.MsgTypePong:
		m.pingCount--
		fallthrough
	case core.MsgTypeInferenceRsp:
		m.wdog.Dec()
	}
}

// writeMsg frames the payload and writes header and payload as one atomic
// queue update, then rings the doorbell.
func (m *Mailbox) writeMsg(msgType uint32, payload []byte) error {
	header := core.PackMsgHeader(core.MsgHeader{
		Magic:  core.MsgMagic,
		Type:   msgType,
		Length: uint32(len(payload)),
	})

	if err := m.outbound.Write(header, payload); err != nil {
		m.metrics.sendErrors.Add(1)
		return err
	}

	if err := m.doorbell.Notify(); err != nil {
		return err
	}

	m.wdInc(msgType)
	m.metrics.framesSent.Add(1)

	return nil
}

// ReadMessage pulls the next frame off the inbound queue. It returns
// ErrQueueEmpty when the queue is drained, and an invalid frame error for a
// bad magic or a payload larger than buf; the caller's recovery for the
// latter is ResetInbound.
func (m *Mailbox) ReadMessage(buf []byte) (core.MsgHeader, []byte, error) {
	var hdrBytes [core.MsgHeaderSize]byte

	err := m.inbound.Read(hdrBytes[:])
	if err != nil {
		if !errors.Is(err, ErrQueueEmpty) {
			m.log.Warn("Msg: Failed to read message header")
			m.metrics.invalidFrames.Add(1)
		}
		return core.MsgHeader{}, nil, err
	}

	header, err := core.ParseMsgHeader(hdrBytes[:])
	if err != nil {
		return core.MsgHeader{}, nil, err
	}

	if header.Magic != core.MsgMagic {
		m.log.WithFields(logrus.Fields{
			"got":      header.Magic,
			"expected": core.MsgMagic,
		}).Warn("Msg: Invalid magic")
		m.metrics.invalidFrames.Add(1)
		return core.MsgHeader{}, nil, core.NewError(core.StatusInvalidFrame, "invalid message magic")
	}

	m.log.WithFields(logrus.Fields{
		"type":   header.Type,
		"length": header.Length,
	}).Debug("mbox: Read msg header")

	if header.Length > uint32(len(buf)) {
		m.log.WithField("length", header.Length).Warn("Msg: Buffer too small for message")
		m.metrics.invalidFrames.Add(1)
		return core.MsgHeader{}, nil, core.NewError(core.StatusInvalidFrame, "message larger than receive buffer")
	}

	payload := buf[:header.Length]
	if err := m.inbound.Read(payload); err != nil {
		m.log.Warn("Msg: Failed to read payload data")
		m.metrics.invalidFrames.Add(1)
		return core.MsgHeader{}, nil, core.NewError(core.StatusInvalidFrame, "truncated payload")
	}

	m.wdDec(header.Type)
	m.metrics.framesReceived.Add(1)

	return header, payload, nil
}

// ResetInbound drops all unread inbound bytes. Recovery policy for a
// malformed frame.
func (m *Mailbox) ResetInbound() {
	m.inbound.Reset()
	m.metrics.queueResets.Add(1)
}

// WaitPrepare writes the sentinel header to the inbound queue so that the
// firmware's re-initialization of it can be detected after reset.
func (m *Mailbox) WaitPrepare() {
	m.inbound.InitSentinel()
}

// WaitFirmware polls the inbound queue header until the firmware has
// published valid values or the timeout elapses.
func (m *Mailbox) WaitFirmware(timeout time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		if !m.inbound.HeaderValid() {
			return errors.New("firmware has not initialized the queue")
		}
		return nil
	}, policy)

	m.log.WithFields(logrus.Fields{
		"size":  m.inbound.Size(),
		"ok":    err == nil,
	}).Info("mbox: Wait for firmware boot")

	if err != nil {
		return core.NewError(core.StatusTimeout, "waiting for firmware boot")
	}
	return nil
}

// Ping sends a ping. The firmware answers with a pong.
func (m *Mailbox) Ping() error {
	return m.writeMsg(core.MsgTypePing, nil)
}

// Pong answers a firmware ping.
func (m *Mailbox) Pong() error {
	return m.writeMsg(core.MsgTypePong, nil)
}

// VersionRequest asks the firmware for its message interface version. The
// response is logged by the dispatch loop; no registry entry is needed.
func (m *Mailbox) VersionRequest() error {
	return m.writeMsg(core.MsgTypeVersionReq, nil)
}

// CapabilitiesRequest sends a capabilities request correlated by id.
func (m *Mailbox) CapabilitiesRequest(id uint32) error {
	req := core.CapabilitiesReq{UserArg: uint64(id)}
	return m.writeMsg(core.MsgTypeCapabilitiesReq, core.PackCapabilitiesReq(req))
}

// InferenceRequest composes and sends an inference request. Input buffers go
// on the wire as their windows, output buffers as their remaining capacity.
func (m *Mailbox) InferenceRequest(id uint32, ifm, ofm []DMABuffer,
	network NetworkSource, pmu PmuConfig) error {

	if len(ifm) > core.MaxIfms || len(ofm) > core.MaxOfms {
		return core.NewError(core.StatusInvalidArgument, "too many feature map buffers")
	}

	req := core.InferenceReq{
		UserArg:        uint64(id),
		IfmCount:       uint32(len(ifm)),
		OfmCount:       uint32(len(ofm)),
		Network:        network.wire(),
		PmuEventConfig: pmu.EventConfig,
	}
	if pmu.CycleCounter {
		req.PmuCycleCounterEnable = 1
	}

	for i, b := range ifm {
		req.Ifm[i] = b.window()
	}
	for i, b := range ofm {
		req.Ofm[i] = b.remainder()
	}

	return m.writeMsg(core.MsgTypeInferenceReq, core.PackInferenceReq(req))
}

// NetworkInfoRequest sends a network info request correlated by id.
func (m *Mailbox) NetworkInfoRequest(id uint32, network NetworkSource) error {
	req := core.NetworkInfoReq{
		UserArg: uint64(id),
		Network: network.wire(),
	}
	return m.writeMsg(core.MsgTypeNetworkInfoReq, core.PackNetworkInfoReq(req))
}

// CancelInference asks the firmware to abort the inference registered under
// inferenceID.
func (m *Mailbox) CancelInference(id uint32, inferenceID uint32) error {
	req := core.CancelInferenceReq{
		UserArg:         uint64(id),
		InferenceHandle: uint64(inferenceID),
	}
	return m.writeMsg(core.MsgTypeCancelInferenceReq, core.PackCancelInferenceReq(req))
}
