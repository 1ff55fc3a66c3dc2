package device

import (
	"context"
	"fmt"

	"github.com/anthropics/purple-ethosu/pkg/core"
	"github.com/anthropics/purple-ethosu/pkg/mailbox"
)

// HardwareID identifies the accelerator hardware.
type HardwareID struct {
	VersionStatus uint8
	VersionMajor  uint8
	VersionMinor  uint8
	ProductMajor  uint8
	ArchMajorRev  uint8
	ArchMinorRev  uint8
	ArchPatchRev  uint8
}

// HardwareConfig describes the accelerator configuration.
type HardwareConfig struct {
	MacsPerCC        uint8
	CmdStreamVersion uint8
	CustomDMA        bool
}

// SemanticVersion is a major.minor.patch triple.
type SemanticVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// String formats the version the usual way.
func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Capabilities is the bundle reported by the firmware.
type Capabilities struct {
	HWID   HardwareID
	HWCfg  HardwareConfig
	Driver SemanticVersion
}

// Capabilities asks the firmware for its capability bundle. The call blocks
// until the response arrives or the capabilities timeout elapses.
func (d *Device) Capabilities(ctx context.Context) (*Capabilities, error) {
	if err := d.lockCtx(ctx); err != nil {
		return nil, err
	}

	comp := newCompletion()
	var rsp core.CapabilitiesRsp

	msg := &mailbox.Msg{}
	msg.Fail = func() {
		comp.complete(core.NewError(core.StatusFaulted, "capabilities request failed"))
	}
	msg.Resend = func() error {
		if comp.done {
			return nil
		}
		return d.mbox.CapabilitiesRequest(msg.ID)
	}
	msg.Complete = func(r any) {
		if comp.done {
			return
		}
		capRsp, ok := r.(core.CapabilitiesRsp)
		if !ok {
			return
		}
		rsp = capRsp
		comp.complete(nil)
	}

	registry := d.mbox.Registry()
	if err := registry.Register(msg); err != nil {
		d.unlock()
		return nil, err
	}

	d.log.WithField("id", msg.ID).Debug("Capabilities request")

	if err := d.mbox.CapabilitiesRequest(msg.ID); err != nil {
		registry.Deregister(msg)
		d.unlock()
		return nil, err
	}

	err := d.waitLocked(ctx, comp, d.opts.CapabilitiesTimeout, "capabilities request")
	registry.Deregister(msg)
	d.unlock()

	if err != nil {
		return nil, err
	}

	return &Capabilities{
		HWID: HardwareID{
			VersionStatus: rsp.VersionStatus,
			VersionMajor:  rsp.VersionMajor,
			VersionMinor:  rsp.VersionMinor,
			ProductMajor:  rsp.ProductMajor,
			ArchMajorRev:  rsp.ArchMajorRev,
			ArchMinorRev:  rsp.ArchMinorRev,
			ArchPatchRev:  rsp.ArchPatchRev,
		},
		HWCfg: HardwareConfig{
			MacsPerCC:        rsp.MacsPerCC,
			CmdStreamVersion: rsp.CmdStreamVersion,
			CustomDMA:        rsp.CustomDMA != 0,
		},
		Driver: SemanticVersion{
			Major: rsp.DriverMajorRev,
			Minor: rsp.DriverMinorRev,
			Patch: rsp.DriverPatchRev,
		},
	}, nil
}
