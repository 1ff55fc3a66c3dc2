package device

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
)

// cancelInference runs the cancel RPC against the firmware for inf. Called
// with the device mutex held; it releases the mutex while waiting and
// returns with it released. The inference is held alive for the duration of
// the call.
func (d *Device) cancelInference(ctx context.Context, inf *Inference) (bool, error) {
	inf.get()

	comp := newCompletion()
	cancelled := false

	msg := &mailbox.Msg{}
	msg.Fail = func() {
		comp.complete(core.NewError(core.StatusFaulted, "cancel inference request failed"))
	}
	msg.Resend = func() error {
		if comp.done {
			return nil
		}
		return d.mbox.CancelInference(msg.ID, inf.msg.ID)
	}
	msg.Complete = func(r any) {
		if comp.done {
			return
		}
		rsp, ok := r.(core.CancelInferenceRsp)
		if !ok {
			return
		}
		cancelled = rsp.Status == core.StatusOK
		comp.complete(nil)
	}

	registry := d.mbox.Registry()
	if err := registry.Register(msg); err != nil {
		inf.put()
		d.unlock()
		return false, err
	}

	d.log.WithFields(logrus.Fields{
		"id":        msg.ID,
		"inference": inf.msg.ID,
	}).Debug("Cancel inference request")

	if err := d.mbox.CancelInference(msg.ID, inf.msg.ID); err != nil {
		registry.Deregister(msg)
		inf.put()
		d.unlock()
		return false, err
	}

	err := d.waitLocked(ctx, comp, d.opts.CancelTimeout, "cancel inference request")
	registry.Deregister(msg)

	// A refused cancellation still counts as success if the inference
	// reached a terminal state on its own in the meantime.
	if err == nil && !cancelled && inf.done {
		cancelled = true
	}

	inf.put()
	d.unlock()

	if err != nil {
		return false, err
	}
	return cancelled, nil
}
