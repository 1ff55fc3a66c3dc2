package device

import (
	"context"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
)

// NetworkInfo describes a network as reported by the firmware: a short
// description and the byte sizes of its feature maps.
type NetworkInfo struct {
	Desc    string
	IfmDims []uint32
	OfmDims []uint32
}

// networkInfo runs the network info RPC. Called with the device mutex held;
// it releases the mutex while waiting and returns with it released.
func (d *Device) networkInfo(ctx context.Context, source mailbox.NetworkSource) (*NetworkInfo, error) {
	comp := newCompletion()
	info := &NetworkInfo{}

	msg := &mailbox.Msg{}
	msg.Fail = func() {
		comp.complete(core.NewError(core.StatusFaulted, "network info request failed"))
	}
	msg.Resend = func() error {
		if comp.done {
			return nil
		}
		return d.mbox.NetworkInfoRequest(msg.ID, source)
	}
	msg.Complete = func(r any) {
		if comp.done {
			return
		}
		rsp, ok := r.(core.NetworkInfoRsp)
		if !ok {
			return
		}

		if rsp.Status != core.StatusOK {
			comp.complete(core.NewError(core.StatusFaulted, "firmware rejected network info request"))
			return
		}
		if rsp.IfmCount > core.MaxIfms || rsp.OfmCount > core.MaxOfms {
			comp.complete(core.NewError(core.StatusInvalidArgument, "network info counts out of range"))
			return
		}

		info.Desc = core.DescString(rsp)
		info.IfmDims = append([]uint32(nil), rsp.IfmSize[:rsp.IfmCount]...)
		info.OfmDims = append([]uint32(nil), rsp.OfmSize[:rsp.OfmCount]...)
		comp.complete(nil)
	}

	registry := d.mbox.Registry()
	if err := registry.Register(msg); err != nil {
		d.unlock()
		return nil, err
	}

	d.log.WithField("id", msg.ID).Debug("Network info request")

	if err := d.mbox.NetworkInfoRequest(msg.ID, source); err != nil {
		registry.Deregister(msg)
		d.unlock()
		return nil, err
	}

	err := d.waitLocked(ctx, comp, d.opts.NetworkInfoTimeout, "network info request")
	registry.Deregister(msg)
	d.unlock()

	if err != nil {
		return nil, err
	}
	return info, nil
}
