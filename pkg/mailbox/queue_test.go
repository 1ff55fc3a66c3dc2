package mailbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// newTestQueue returns a queue with an initialized header of the given
// payload size.
func newTestQueue(t *testing.T, size uint32) *Queue {
	t.Helper()

	mem := make([]byte, queueHeaderSize+int(size))
	binary.LittleEndian.PutUint32(mem[0:4], size)

	q, err := NewQueue(mem)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q
}

func TestQueueCapacity(t *testing.T) {
	q := newTestQueue(t, 16)

	if got := q.Capacity(); got != 15 {
		t.Errorf("Capacity = %d, want 15", got)
	}
	if got := q.Available(); got != 0 {
		t.Errorf("Available on empty queue = %d, want 0", got)
	}
}

func TestQueueWriteReadRoundTrip(t *testing.T) {
	q := newTestQueue(t, 64)

	header := []byte{1, 2, 3, 4}
	payload := []byte{5, 6, 7, 8, 9}

	if err := q.Write(header, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := q.Available(); got != 9 {
		t.Errorf("Available = %d, want 9", got)
	}

	dst := make([]byte, 9)
	if err := q.Read(dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(dst, append(header, payload...)) {
		t.Errorf("read %v, want %v", dst, append(header, payload...))
	}

	if err := q.Read(make([]byte, 1)); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Read on drained queue = %v, want ErrQueueEmpty", err)
	}
}

func TestQueueWrapAround(t *testing.T) {
	q := newTestQueue(t, 16)

	// Fill and drain part of the ring so the next write wraps.
	if err := q.Write(make([]byte, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := q.Read(make([]byte, 10)); err != nil {
		t.Fatalf("Read: %v", err)
	}

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := q.Write(data); err != nil {
		t.Fatalf("wrapping Write: %v", err)
	}

	dst := make([]byte, len(data))
	if err := q.Read(dst); err != nil {
		t.Fatalf("wrapping Read: %v", err)
	}
	if !bytes.Equal(dst, data) {
		t.Errorf("wrapped read %v, want %v", dst, data)
	}
}

func TestQueueNoSpace(t *testing.T) {
	q := newTestQueue(t, 16)

	// Capacity is size-1, so 16 bytes never fit.
	err := q.Write(make([]byte, 16))
	if core.StatusOf(err) != core.StatusNoSpace {
		t.Errorf("overfull Write = %v, want no space", err)
	}

	// Exactly capacity fits.
	if err := q.Write(make([]byte, 15)); err != nil {
		t.Fatalf("full Write: %v", err)
	}
	if err := q.Write(make([]byte, 1)); core.StatusOf(err) != core.StatusNoSpace {
		t.Errorf("Write to full queue = %v, want no space", err)
	}
}

func TestQueueAvailablePlusFreeIsCapacity(t *testing.T) {
	q := newTestQueue(t, 32)

	for _, n := range []int{0, 5, 11, 14} {
		if n > 0 {
			if err := q.Write(make([]byte, n)); err != nil {
				t.Fatalf("Write %d: %v", n, err)
			}
		}
		if q.Available()+q.Free() != q.Capacity() {
			t.Errorf("available %d + free %d != capacity %d",
				q.Available(), q.Free(), q.Capacity())
		}
	}
}

func TestQueueTruncatedRead(t *testing.T) {
	q := newTestQueue(t, 32)

	if err := q.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := q.Read(make([]byte, 8))
	if core.StatusOf(err) != core.StatusInvalidFrame {
		t.Errorf("truncated Read = %v, want invalid frame", err)
	}

	// The read index must not have advanced.
	if got := q.Available(); got != 3 {
		t.Errorf("Available after truncated read = %d, want 3", got)
	}
}

func TestQueueReset(t *testing.T) {
	q := newTestQueue(t, 32)

	if err := q.Write(make([]byte, 12)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	q.Reset()

	if got := q.Available(); got != 0 {
		t.Errorf("Available after reset = %d, want 0", got)
	}
}

func TestQueueSentinel(t *testing.T) {
	mem := make([]byte, queueHeaderSize+32)
	binary.LittleEndian.PutUint32(mem[0:4], 32)

	q, err := NewQueue(mem)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	if !q.HeaderValid() {
		t.Fatal("initialized header reported invalid")
	}

	q.InitSentinel()
	if q.HeaderValid() {
		t.Error("sentinel header reported valid")
	}

	// The firmware publishing a header makes the queue valid again.
	binary.LittleEndian.PutUint32(mem[0:4], 32)
	binary.LittleEndian.PutUint32(mem[4:8], 0)
	binary.LittleEndian.PutUint32(mem[8:12], 0)
	if !q.HeaderValid() {
		t.Error("published header reported invalid")
	}
}
