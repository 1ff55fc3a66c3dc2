package mailbox

import (
	"testing"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

func TestRegistryRegisterFind(t *testing.T) {
	r := NewRegistry()

	a := &Msg{}
	b := &Msg{}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if a.ID == b.ID {
		t.Fatalf("two live messages share id %d", a.ID)
	}
	if got := r.Find(a.ID); got != a {
		t.Errorf("Find(%d) = %v, want first message", a.ID, got)
	}

	r.Deregister(a)
	if got := r.Find(a.ID); got != nil {
		t.Errorf("Find after deregister = %v, want nil", got)
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestRegistryCyclicAllocation(t *testing.T) {
	r := NewRegistry()

	first := &Msg{}
	if err := r.Register(first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Deregister(first)

	// A freed id is not handed out again immediately.
	second := &Msg{}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("freed id %d reused immediately", first.ID)
	}
}

func TestRegistrySkipsLiveIds(t *testing.T) {
	r := NewRegistry()

	// Force the allocator to collide with a live id.
	live := &Msg{}
	if err := r.Register(live); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.next = live.ID

	next := &Msg{}
	if err := r.Register(next); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if next.ID == live.ID {
		t.Errorf("allocator handed out live id %d", live.ID)
	}
}

func TestRegistryFailAll(t *testing.T) {
	r := NewRegistry()

	var failed []uint32
	for i := 0; i < 3; i++ {
		msg := &Msg{}
		msg.Fail = func() { failed = append(failed, msg.ID) }
		msg.Resend = func() error { return nil }
		if err := r.Register(msg); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	r.FailAll()
	if len(failed) != 3 {
		t.Errorf("FailAll hit %d messages, want 3", len(failed))
	}
}

func TestRegistryResendAllOrderAndFailure(t *testing.T) {
	r := NewRegistry()

	var resent []uint32
	var failed []uint32

	good := &Msg{}
	good.Fail = func() { failed = append(failed, good.ID) }
	good.Resend = func() error {
		resent = append(resent, good.ID)
		return nil
	}

	bad := &Msg{}
	bad.Fail = func() { failed = append(failed, bad.ID) }
	bad.Resend = func() error {
		resent = append(resent, bad.ID)
		return core.NewError(core.StatusNoSpace, "no room")
	}

	if err := r.Register(good); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(bad); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.ResendAll()

	if len(resent) != 2 || resent[0] != good.ID || resent[1] != bad.ID {
		t.Errorf("resend order %v, want [%d %d]", resent, good.ID, bad.ID)
	}
	if len(failed) != 1 || failed[0] != bad.ID {
		t.Errorf("failed %v, want the message whose resend errored", failed)
	}
}
