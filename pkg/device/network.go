package device

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
)

// Network names a model an inference can run: either a buffer holding the
// model bytes or the index of a model baked into the firmware. The byte
// sizes of its input and output feature maps are derived at creation, by
// parsing the model for buffer-backed networks and by asking the firmware
// for index-backed ones.
type Network struct {
	dev     *Device
	buf     *Buffer // nil for index-backed networks
	index   uint32
	ifmDims []uint32
	ofmDims []uint32
	refs    int
}

// CreateNetworkFromBuffer creates a network from a buffer whose window
// contains the model. The buffer stays referenced for the network's
// lifetime.
func (d *Device) CreateNetworkFromBuffer(ctx context.Context, buf *Buffer) (*Network, error) {
	if err := d.lockCtx(ctx); err != nil {
		return nil, err
	}
	defer d.unlock()

	ifm, ofm, err := d.parser.Dims(buf.windowData())
	if err != nil {
		return nil, core.NewErrorWithCause(core.StatusInvalidArgument, "parsing network model", err)
	}

	buf.get()

	d.log.WithFields(logrus.Fields{
		"ifm_count": len(ifm),
		"ofm_count": len(ofm),
	}).Debug("Network create")

	return &Network{
		dev:     d,
		buf:     buf,
		ifmDims: ifm,
		ofmDims: ofm,
		refs:    1,
	}, nil
}

// CreateNetworkFromIndex creates a network referring to a firmware-resident
// model. The dimensions are fetched synchronously from the firmware.
func (d *Device) CreateNetworkFromIndex(ctx context.Context, index uint32) (*Network, error) {
	if err := d.lockCtx(ctx); err != nil {
		return nil, err
	}

	source := mailbox.NetworkSource{Index: index}

	// networkInfo releases the mutex while waiting and returns with it
	// released.
	info, err := d.networkInfo(ctx, source)
	if err != nil {
		return nil, err
	}

	return &Network{
		dev:     d,
		index:   index,
		ifmDims: info.IfmDims,
		ofmDims: info.OfmDims,
		refs:    1,
	}, nil
}

// IfmDims returns the byte sizes of the network's input feature maps.
func (n *Network) IfmDims() []uint32 {
	return append([]uint32(nil), n.ifmDims...)
}

// OfmDims returns the byte sizes of the network's output feature maps.
func (n *Network) OfmDims() []uint32 {
	return append([]uint32(nil), n.ofmDims...)
}

// IsBufferBacked reports whether the network carries its model in a buffer.
func (n *Network) IsBufferBacked() bool {
	return n.buf != nil
}

// Index returns the firmware model index of an index-backed network.
func (n *Network) Index() uint32 {
	return n.index
}

// Info returns the network description. Buffer-backed networks answer from
// the dimensions cached at creation; index-backed networks ask the firmware.
func (n *Network) Info(ctx context.Context) (*NetworkInfo, error) {
	if n.buf != nil {
		return &NetworkInfo{
			IfmDims: n.IfmDims(),
			OfmDims: n.OfmDims(),
		}, nil
	}

	if err := n.dev.lockCtx(ctx); err != nil {
		return nil, err
	}
	return n.dev.networkInfo(ctx, n.source())
}

// source describes the network to the mailbox send paths. Called with the
// device mutex held.
func (n *Network) source() mailbox.NetworkSource {
	if n.buf != nil {
		dma := n.buf.dma()
		return mailbox.NetworkSource{Buffer: &dma}
	}
	return mailbox.NetworkSource{Index: n.index}
}

// Close drops the handle's reference.
func (n *Network) Close() error {
	n.dev.lockWait()
	defer n.dev.unlock()

	n.put()
	return nil
}

func (n *Network) get() {
	n.refs++
}

func (n *Network) put() {
	n.refs--
	if n.refs > 0 {
		return
	}

	n.dev.log.Debug("Network destroy")
	if n.buf != nil {
		n.buf.put()
	}
}
