// Package device implements the host-side view of one Ethos-U accelerator:
// the device orchestrator, the refcounted buffer/network/inference objects
// user space holds handles to, and the short-lived RPCs for capabilities,
// network info and cancellation.
//
// A single device mutex serializes every mutation of the registry, the
// object graph and the watchdog bookkeeping. Anything that would block
// releases the mutex first and reacquires it afterwards; the caller's
// context cancels the acquisition, which surfaces as an interrupted error.
package device

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
	"github.com/anthropics/purple-ethosu/pkg/platform"
	"github.com/anthropics/purple-ethosu/pkg/tflite"
	"github.com/anthropics/purple-ethosu/pkg/watchdog"
)

// ModelParser derives feature-map byte sizes from model bytes. The default
// parser understands TFLite models.
type ModelParser interface {
	Dims(model []byte) (ifm, ofm []uint32, err error)
}

type tfliteParser struct{}

func (tfliteParser) Dims(model []byte) (ifm, ofm []uint32, err error) {
	return tflite.ParseDims(model)
}

// Config wires one device to its platform collaborators.
type Config struct {
	// Log receives all device logging. Defaults to the standard logger.
	Log *logrus.Logger

	// Options carries the timeout knobs; zero values use defaults.
	Options Options

	// InboundMem and OutboundMem are the mapped shared-memory regions of
	// the firmware-to-host and host-to-firmware queues.
	InboundMem  []byte
	OutboundMem []byte

	// Doorbell notifies the firmware and delivers its notifications.
	Doorbell platform.Doorbell

	// Reset drives the firmware reset line.
	Reset platform.Reset

	// Allocator hands out DMA regions for buffers.
	Allocator platform.Allocator

	// Parser derives network dimensions from model bytes. Defaults to the
	// TFLite parser.
	Parser ModelParser
}

// Device is the top-level state of one accelerator instance.
type Device struct {
	log    *logrus.Entry
	opts   Options
	lock   chan struct{}
	mbox   *mailbox.Mailbox
	wdog   *watchdog.Watchdog
	reset  platform.Reset
	alloc  platform.Allocator
	parser ModelParser

	doorbell platform.Doorbell
	closed   bool

	rxBuf [core.MaxPayloadSize]byte
}

// Open creates a device over the given platform collaborators and starts
// listening for doorbell notifications.
func Open(cfg Config) (*Device, error) {
	if cfg.Doorbell == nil || cfg.Reset == nil || cfg.Allocator == nil {
		return nil, core.NewError(core.StatusInvalidArgument, "missing platform collaborator")
	}

	logger := cfg.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &Device{
		log:      logger.WithField("component", "device"),
		opts:     cfg.Options.withDefaults(),
		lock:     make(chan struct{}, 1),
		reset:    cfg.Reset,
		alloc:    cfg.Allocator,
		parser:   cfg.Parser,
		doorbell: cfg.Doorbell,
	}
	if d.parser == nil {
		d.parser = tfliteParser{}
	}

	d.wdog = watchdog.New(logger.WithField("component", "watchdog"),
		d.opts.WatchdogTimeout, d.watchdogTimeout)

	mbox, err := mailbox.New(logger.WithField("component", "mailbox"),
		cfg.InboundMem, cfg.OutboundMem, cfg.Doorbell, d.wdog)
	if err != nil {
		return nil, err
	}
	d.mbox = mbox

	cfg.Doorbell.OnNotify(d.rxNotify)

	return d, nil
}

// Close tears the device down: outstanding requests are failed, the watchdog
// is stopped and the doorbell closed.
func (d *Device) Close() error {
	d.lockWait()
	if d.closed {
		d.unlock()
		return nil
	}
	d.closed = true
	d.mbox.Registry().FailAll()
	d.unlock()

	d.wdog.Stop()
	if err := d.doorbell.Close(); err != nil {
		d.log.WithError(err).Warn("Failed to close doorbell")
	}
	return nil
}

// Metrics returns the device's mailbox metrics as a prometheus collector.
func (d *Device) Metrics() prometheus.Collector {
	return d.mbox.Metrics()
}

// lockCtx acquires the device mutex, giving up when the caller's context is
// cancelled.
func (d *Device) lockCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return core.NewErrorWithCause(core.StatusInterrupted, "acquiring device lock", ctx.Err())
	default:
	}

	select {
	case d.lock <- struct{}{}:
		if d.closed {
			d.unlock()
			return ErrDeviceClosed
		}
		return nil
	case <-ctx.Done():
		return core.NewErrorWithCause(core.StatusInterrupted, "acquiring device lock", ctx.Err())
	}
}

// lockWait acquires the device mutex uninterruptibly, for workers and
// tear-down paths.
func (d *Device) lockWait() {
	d.lock <- struct{}{}
}

func (d *Device) unlock() {
	<-d.lock
}

// Ping enqueues a ping to the firmware.
func (d *Device) Ping(ctx context.Context) error {
	if err := d.lockCtx(ctx); err != nil {
		return err
	}
	defer d.unlock()

	d.log.Debug("Ioctl: Send ping")
	return d.mbox.Ping()
}

// VersionRequest enqueues a version request. The response is checked and
// logged by the dispatch loop.
func (d *Device) VersionRequest(ctx context.Context) error {
	if err := d.lockCtx(ctx); err != nil {
		return err
	}
	defer d.unlock()

	return d.mbox.VersionRequest()
}

// rxNotify drains the inbound queue. It runs on the doorbell's goroutine and
// competes for the device mutex like any other caller.
func (d *Device) rxNotify() {
	d.lockWait()
	defer d.unlock()

	for {
		err := d.handleMessage()
		if err == nil {
			continue
		}
		if errors.Is(err, mailbox.ErrQueueEmpty) {
			return
		}

		d.log.WithError(err).Warn("Msg: Dropping inbound queue after error")
		d.mbox.ResetInbound()
		return
	}
}

// handleMessage reads and dispatches one inbound frame. Called with the
// device mutex held.
func (d *Device) handleMessage() error {
	header, payload, err := d.mbox.ReadMessage(d.rxBuf[:])
	if err != nil {
		return err
	}

	switch header.Type {
	case core.MsgTypePing:
		d.log.Debug("Msg: Ping")
		return d.mbox.Pong()

	case core.MsgTypePong:
		d.log.Debug("Msg: Pong")

	case core.MsgTypeErr:
		e, err := core.ParseErr(payload)
		if err != nil {
			return err
		}
		d.log.WithFields(logrus.Fields{
			"type":  e.Type,
			"error": core.ErrString(e),
		}).Error("Msg: Firmware error")
		return core.NewError(core.StatusFaulted, "firmware reported an error")

	case core.MsgTypeVersionRsp:
		rsp, err := core.ParseVersionRsp(payload)
		if err != nil {
			return err
		}
		d.handleVersionRsp(rsp)

	case core.MsgTypeCapabilitiesRsp:
		rsp, err := core.ParseCapabilitiesRsp(payload)
		if err != nil {
			return err
		}
		d.complete(uint32(rsp.UserArg), rsp)

	case core.MsgTypeNetworkInfoRsp:
		rsp, err := core.ParseNetworkInfoRsp(payload)
		if err != nil {
			return err
		}
		d.complete(uint32(rsp.UserArg), rsp)

	case core.MsgTypeInferenceRsp:
		rsp, err := core.ParseInferenceRsp(payload)
		if err != nil {
			return err
		}
		d.log.WithFields(logrus.Fields{
			"user_arg":  rsp.UserArg,
			"ofm_count": rsp.OfmCount,
			"status":    rsp.Status,
		}).Debug("Msg: Inference response")
		d.complete(uint32(rsp.UserArg), rsp)

	case core.MsgTypeCancelInferenceRsp:
		rsp, err := core.ParseCancelInferenceRsp(payload)
		if err != nil {
			return err
		}
		d.complete(uint32(rsp.UserArg), rsp)

	default:
		d.log.WithFields(logrus.Fields{
			"type":   header.Type,
			"length": header.Length,
		}).Warn("Msg: Unsupported msg type")
	}

	return nil
}

// complete routes a response to its registered message. A miss means the
// request was released before the response arrived; it is logged and
// swallowed.
func (d *Device) complete(id uint32, rsp any) {
	msg := d.mbox.Registry().Find(id)
	if msg == nil {
		d.log.WithField("id", id).Warn("Msg: Id not found in registry")
		return
	}
	msg.Complete(rsp)
}

func (d *Device) handleVersionRsp(rsp core.VersionRsp) {
	if rsp.Major != core.MsgVersionMajor || rsp.Minor != core.MsgVersionMinor {
		d.log.WithFields(logrus.Fields{
			"fw_major":   rsp.Major,
			"fw_minor":   rsp.Minor,
			"host_major": core.MsgVersionMajor,
			"host_minor": core.MsgVersionMinor,
		}).Warn("Msg: Firmware message version mismatch")
		return
	}
	d.log.WithFields(logrus.Fields{
		"major": rsp.Major,
		"minor": rsp.Minor,
		"patch": rsp.Patch,
	}).Info("Msg: Firmware version")
}

// watchdogTimeout is the watchdog callback. On the first expiry a probing
// ping is sent; if the firmware stays silent through a second expiry, it is
// reset and the outstanding requests are replayed.
func (d *Device) watchdogTimeout() {
	d.lockWait()
	defer d.unlock()

	d.mbox.Metrics().WatchdogTimeout()

	if d.mbox.PingCount() < 1 {
		d.log.Warn("Wdog: Firmware is silent, sending probe ping")
		if err := d.mbox.Ping(); err != nil {
			d.log.WithError(err).Warn("Wdog: Failed to send probe ping")
		}
		return
	}

	d.firmwareReset()
}

// firmwareReset restarts the firmware and replays the outstanding requests.
// Any failure in the sequence fails them all instead. Called with the device
// mutex held; the boot wait is a bounded poll on the queue header, so the
// mutex stays held across it and the reset acts as a fence: no new request
// can be enqueued until every outstanding one was resent or failed.
func (d *Device) firmwareReset() {
	d.log.Warn("Resetting firmware")
	d.mbox.Metrics().FirmwareReset()

	registry := d.mbox.Registry()

	if err := d.tryFirmwareReset(); err != nil {
		d.log.WithError(err).Error("Firmware reset failed, failing outstanding requests")
		d.mbox.Metrics().MessagesFailed(registry.Len())
		registry.FailAll()
		return
	}

	d.mbox.Metrics().MessagesResent(registry.Len())
	registry.ResendAll()
}

func (d *Device) tryFirmwareReset() error {
	if err := d.reset.Assert(); err != nil {
		return err
	}

	d.mbox.WaitPrepare()

	if err := d.reset.Deassert(); err != nil {
		return err
	}

	if err := d.mbox.WaitFirmware(d.opts.FirmwareBootTimeout); err != nil {
		return err
	}

	d.mbox.ClearPingCount()
	d.wdog.Reset()

	return d.mbox.Ping()
}
