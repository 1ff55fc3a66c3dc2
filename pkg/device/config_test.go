package device_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/purple-ethosu/pkg/device"
)

func writeOptionsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ethosu.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing options file: %v", err)
	}
	return path
}

func TestLoadOptions(t *testing.T) {
	path := writeOptionsFile(t, `
watchdog_timeout_ms = 5000
cancel_timeout_ms = 1500
`)

	opts, err := device.LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}

	if opts.WatchdogTimeout != 5*time.Second {
		t.Errorf("WatchdogTimeout = %v, want 5s", opts.WatchdogTimeout)
	}
	if opts.CancelTimeout != 1500*time.Millisecond {
		t.Errorf("CancelTimeout = %v, want 1.5s", opts.CancelTimeout)
	}

	// Unset keys fall back to defaults.
	if opts.CapabilitiesTimeout != device.DefaultCapabilitiesTimeout {
		t.Errorf("CapabilitiesTimeout = %v, want default", opts.CapabilitiesTimeout)
	}
	if opts.NetworkInfoTimeout != device.DefaultNetworkInfoTimeout {
		t.Errorf("NetworkInfoTimeout = %v, want default", opts.NetworkInfoTimeout)
	}
	if opts.FirmwareBootTimeout != device.DefaultFirmwareBootTimeout {
		t.Errorf("FirmwareBootTimeout = %v, want default", opts.FirmwareBootTimeout)
	}
}

func TestLoadOptionsBadFile(t *testing.T) {
	path := writeOptionsFile(t, "watchdog_timeout_ms = [")

	if _, err := device.LoadOptions(path); err == nil {
		t.Error("LoadOptions accepted malformed TOML")
	}
}
