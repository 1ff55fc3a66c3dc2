package device

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
)

// InferenceStatus is the user-visible state of one inference.
type InferenceStatus int

const (
	InferenceOK InferenceStatus = iota
	InferenceError
	InferenceRunning
	InferenceRejected
	InferenceAborted
	InferenceAborting
)

var inferenceStatusNames = map[InferenceStatus]string{
	InferenceOK:       "ok",
	InferenceError:    "error",
	InferenceRunning:  "running",
	InferenceRejected: "rejected",
	InferenceAborted:  "aborted",
	InferenceAborting: "aborting",
}

// String returns the status name.
func (s InferenceStatus) String() string {
	if name, ok := inferenceStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status is final.
func (s InferenceStatus) Terminal() bool {
	switch s {
	case InferenceOK, InferenceError, InferenceRejected, InferenceAborted:
		return true
	}
	return false
}

// PmuConfig selects the PMU events and cycle counter for one inference.
type PmuConfig struct {
	EventConfig  [core.MaxPmus]uint8
	CycleCounter bool
}

// Inference is one in-flight execution on the firmware. The status moves
// monotonically from running to a terminal state; the done latch is set
// exactly once and must be observed before the status is consulted.
type Inference struct {
	dev *Device
	net *Network
	ifm []*Buffer
	ofm []*Buffer
	pmu PmuConfig

	msg        mailbox.Msg
	registered bool

	status  InferenceStatus
	done    bool
	doneCh  chan struct{}
	pending bool // holds the in-flight reference

	pmuEventConfig [core.MaxPmus]uint8
	pmuEventCount  [core.MaxPmus]uint32
	pmuCycleCount  uint64

	refs int
}

// CreateInference sends an inference request for the network over the given
// feature-map buffers and returns its handle immediately; the caller
// observes completion through Wait, Poll or Status. The network and every
// buffer stay referenced until the inference is destroyed.
//
// The handle is returned even if the request could not be enqueued; the
// inference is then already done with an error status, which mirrors how the
// status is reported when the firmware fails it later.
func (d *Device) CreateInference(ctx context.Context, net *Network, ifm, ofm []*Buffer,
	pmu PmuConfig) (*Inference, error) {

	if len(ifm) > core.MaxIfms || len(ofm) > core.MaxOfms {
		return nil, core.NewError(core.StatusInvalidArgument, "too many feature map buffers")
	}

	if err := d.lockCtx(ctx); err != nil {
		return nil, err
	}
	defer d.unlock()

	inf := &Inference{
		dev:    d,
		net:    net,
		ifm:    append([]*Buffer(nil), ifm...),
		ofm:    append([]*Buffer(nil), ofm...),
		pmu:    pmu,
		status: InferenceError,
		doneCh: make(chan struct{}),
		refs:   1,
	}
	inf.msg.Fail = inf.onFail
	inf.msg.Resend = inf.onResend
	inf.msg.Complete = inf.onComplete

	if err := d.mbox.Registry().Register(&inf.msg); err != nil {
		return nil, err
	}
	inf.registered = true

	net.get()
	for _, b := range inf.ifm {
		b.get()
	}
	for _, b := range inf.ofm {
		b.get()
	}

	if err := inf.send(); err != nil {
		d.log.WithError(err).Warn("Inference send failed")
		inf.finish(InferenceError)
	}

	d.log.WithField("id", inf.msg.ID).Debug("Inference create")

	return inf, nil
}

// send enqueues the inference request and takes the in-flight reference.
// Called with the device mutex held.
func (inf *Inference) send() error {
	ifm := make([]mailbox.DMABuffer, len(inf.ifm))
	for i, b := range inf.ifm {
		ifm[i] = b.dma()
	}
	ofm := make([]mailbox.DMABuffer, len(inf.ofm))
	for i, b := range inf.ofm {
		ofm[i] = b.dma()
	}

	err := inf.dev.mbox.InferenceRequest(inf.msg.ID, ifm, ofm, inf.net.source(),
		mailbox.PmuConfig{
			EventConfig:  inf.pmu.EventConfig,
			CycleCounter: inf.pmu.CycleCounter,
		})
	if err != nil {
		return err
	}

	inf.status = InferenceRunning
	if !inf.pending {
		inf.pending = true
		inf.get()
	}

	return nil
}

// finish latches a terminal status and wakes all waiters. Called with the
// device mutex held; only the first call takes effect.
func (inf *Inference) finish(status InferenceStatus) {
	if inf.done {
		return
	}

	inf.status = status
	inf.done = true
	close(inf.doneCh)

	if inf.pending {
		inf.pending = false
		inf.put()
	}
}

// onComplete applies an inference response. Called with the device mutex
// held.
func (inf *Inference) onComplete(r any) {
	rsp, ok := r.(core.InferenceRsp)
	if !ok {
		return
	}
	if inf.done {
		return
	}

	switch {
	case int(rsp.OfmCount) > len(inf.ofm):
		// The firmware produced more outputs than the host attached.
		inf.dev.log.WithFields(logrus.Fields{
			"id":        inf.msg.ID,
			"ofm_count": rsp.OfmCount,
			"attached":  len(inf.ofm),
		}).Warn("Inference response with excess outputs")
		inf.finish(InferenceError)

	case rsp.Status == core.StatusOK && inf.status == InferenceAborting:
		// The completion raced the cancellation; the cancel wins.
		inf.finish(InferenceAborted)

	case rsp.Status == core.StatusOK:
		status := InferenceOK
		for i := uint32(0); i < rsp.OfmCount; i++ {
			if err := inf.ofm[i].grow(rsp.OfmSize[i]); err != nil {
				inf.dev.log.WithError(err).Warn("Inference produced more bytes than buffer capacity")
				status = InferenceError
				break
			}
		}
		inf.pmuEventConfig = rsp.PmuEventConfig
		inf.pmuEventCount = rsp.PmuEventCount
		inf.pmuCycleCount = rsp.PmuCycleCounterCount
		inf.finish(status)

	case rsp.Status == core.StatusRejected:
		inf.finish(InferenceRejected)

	case rsp.Status == core.StatusAborted:
		inf.finish(InferenceAborted)

	default:
		inf.finish(InferenceError)
	}
}

// onResend replays the request after a firmware reset. A done inference has
// nothing to replay; an aborting one is failed rather than replayed, which
// finishes it as aborted.
func (inf *Inference) onResend() error {
	if inf.done {
		return nil
	}
	if inf.status == InferenceAborting {
		return core.NewError(core.StatusFaulted, "aborting inference cannot be replayed")
	}
	return inf.send()
}

// onFail is invoked when the firmware is declared dead.
func (inf *Inference) onFail() {
	if inf.done {
		return
	}
	if inf.status == InferenceAborting {
		inf.finish(InferenceAborted)
		return
	}
	inf.finish(InferenceError)
}

// Wait blocks until the inference is done or the timeout elapses. A
// negative timeout waits indefinitely.
func (inf *Inference) Wait(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-inf.doneCh:
		return nil
	case <-expired:
		return core.NewError(core.StatusTimeout, "inference wait timed out")
	case <-ctx.Done():
		return core.NewErrorWithCause(core.StatusInterrupted, "inference wait", ctx.Err())
	}
}

// Poll reports whether the inference is done.
func (inf *Inference) Poll() bool {
	select {
	case <-inf.doneCh:
		return true
	default:
		return false
	}
}

// Status returns the current inference status.
func (inf *Inference) Status(ctx context.Context) (InferenceStatus, error) {
	if err := inf.dev.lockCtx(ctx); err != nil {
		return InferenceError, err
	}
	defer inf.dev.unlock()

	return inf.status, nil
}

// Cancel asks the firmware to abort the inference and blocks for the cancel
// response. It returns true if the firmware acknowledged the cancellation or
// the inference had already reached a terminal state.
func (inf *Inference) Cancel(ctx context.Context) (bool, error) {
	if err := inf.dev.lockCtx(ctx); err != nil {
		return false, err
	}

	if inf.done {
		inf.dev.unlock()
		return true, nil
	}

	inf.status = InferenceAborting

	// cancelInference releases the mutex while waiting and returns with it
	// released.
	return inf.dev.cancelInference(ctx, inf)
}

// PmuEventConfig returns the PMU event configuration echoed by the
// firmware. Valid once the inference is done with an ok status.
func (inf *Inference) PmuEventConfig() [core.MaxPmus]uint8 {
	return inf.pmuEventConfig
}

// PmuEventCount returns the PMU event counters. Valid once the inference is
// done with an ok status.
func (inf *Inference) PmuEventCount() [core.MaxPmus]uint32 {
	return inf.pmuEventCount
}

// CycleCounter returns the PMU cycle counter. Valid once the inference is
// done with an ok status.
func (inf *Inference) CycleCounter() uint64 {
	return inf.pmuCycleCount
}

// Close drops the handle's reference. A pending response keeps the
// inference alive until it arrives or the firmware fails.
func (inf *Inference) Close() error {
	inf.dev.lockWait()
	defer inf.dev.unlock()

	inf.put()
	return nil
}

func (inf *Inference) get() {
	inf.refs++
}

func (inf *Inference) put() {
	inf.refs--
	if inf.refs > 0 {
		return
	}

	inf.dev.log.WithFields(logrus.Fields{
		"id":     inf.msg.ID,
		"status": inf.status,
	}).Debug("Inference destroy")

	if inf.registered {
		inf.dev.mbox.Registry().Deregister(&inf.msg)
		inf.registered = false
	}

	for _, b := range inf.ifm {
		b.put()
	}
	for _, b := range inf.ofm {
		b.put()
	}
	inf.net.put()
}
