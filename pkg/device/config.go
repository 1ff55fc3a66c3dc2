package device

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// Default timeouts. Each can be overridden per device through Options.
const (
	DefaultWatchdogTimeout     = 3000 * time.Millisecond
	DefaultCapabilitiesTimeout = 2000 * time.Millisecond
	DefaultCancelTimeout       = 2000 * time.Millisecond
	DefaultNetworkInfoTimeout  = 3000 * time.Millisecond
	DefaultFirmwareBootTimeout = 1000 * time.Millisecond
)

// Options carries the tunable timeouts of one device instance. Zero values
// fall back to the defaults.
type Options struct {
	// WatchdogTimeout is the firmware silence threshold.
	WatchdogTimeout time.Duration

	// CapabilitiesTimeout bounds the capabilities RPC.
	CapabilitiesTimeout time.Duration

	// CancelTimeout bounds the cancel inference RPC.
	CancelTimeout time.Duration

	// NetworkInfoTimeout bounds the network info RPC.
	NetworkInfoTimeout time.Duration

	// FirmwareBootTimeout bounds the wait for a valid queue header after
	// reset deassert.
	FirmwareBootTimeout time.Duration
}

// DefaultOptions returns the default timeouts.
func DefaultOptions() Options {
	return Options{
		WatchdogTimeout:     DefaultWatchdogTimeout,
		CapabilitiesTimeout: DefaultCapabilitiesTimeout,
		CancelTimeout:       DefaultCancelTimeout,
		NetworkInfoTimeout:  DefaultNetworkInfoTimeout,
		FirmwareBootTimeout: DefaultFirmwareBootTimeout,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WatchdogTimeout == 0 {
		o.WatchdogTimeout = def.WatchdogTimeout
	}
	if o.CapabilitiesTimeout == 0 {
		o.CapabilitiesTimeout = def.CapabilitiesTimeout
	}
	if o.CancelTimeout == 0 {
		o.CancelTimeout = def.CancelTimeout
	}
	if o.NetworkInfoTimeout == 0 {
		o.NetworkInfoTimeout = def.NetworkInfoTimeout
	}
	if o.FirmwareBootTimeout == 0 {
		o.FirmwareBootTimeout = def.FirmwareBootTimeout
	}
	return o
}

// optionsFile is the on-disk shape of an options file. Timeouts are plain
// millisecond counts.
type optionsFile struct {
	WatchdogTimeoutMs     int64 `toml:"watchdog_timeout_ms"`
	CapabilitiesTimeoutMs int64 `toml:"capabilities_timeout_ms"`
	CancelTimeoutMs       int64 `toml:"cancel_timeout_ms"`
	NetworkInfoTimeoutMs  int64 `toml:"network_info_timeout_ms"`
	FirmwareBootTimeoutMs int64 `toml:"firmware_boot_timeout_ms"`
}

// LoadOptions reads a TOML options file. Missing keys keep their defaults.
func LoadOptions(path string) (Options, error) {
	var f optionsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Options{}, core.NewErrorWithCause(core.StatusInvalidArgument,
			"loading options from "+path, err)
	}

	opts := Options{
		WatchdogTimeout:     time.Duration(f.WatchdogTimeoutMs) * time.Millisecond,
		CapabilitiesTimeout: time.Duration(f.CapabilitiesTimeoutMs) * time.Millisecond,
		CancelTimeout:       time.Duration(f.CancelTimeoutMs) * time.Millisecond,
		NetworkInfoTimeout:  time.Duration(f.NetworkInfoTimeoutMs) * time.Millisecond,
		FirmwareBootTimeout: time.Duration(f.FirmwareBootTimeoutMs) * time.Millisecond,
	}
	return opts.withDefaults(), nil
}
