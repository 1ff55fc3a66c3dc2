package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSysfsReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset")
	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		t.Fatalf("seeding reset attribute: %v", err)
	}

	r := NewSysfsReset(path)

	if err := r.Assert(); err != nil {
		t.Fatalf("Assert: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "1" {
		t.Errorf("attribute after assert = %q, %v; want 1", data, err)
	}

	if err := r.Deassert(); err != nil {
		t.Fatalf("Deassert: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil || string(data) != "0" {
		t.Errorf("attribute after deassert = %q, %v; want 0", data, err)
	}
}

func TestSysfsResetMissingAttribute(t *testing.T) {
	r := NewSysfsReset(filepath.Join(t.TempDir(), "missing", "reset"))
	if err := r.Assert(); err == nil {
		t.Error("Assert on missing attribute succeeded")
	}
}

func TestRegionFreeIdempotent(t *testing.T) {
	calls := 0
	r := &Region{free: func() error { calls++; return nil }}

	if err := r.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := r.Free(); err != nil {
		t.Fatalf("second Free: %v", err)
	}
	if calls != 1 {
		t.Errorf("free ran %d times, want 1", calls)
	}
}
