package watchdog

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "watchdog")
}

func TestFiresAfterTimeout(t *testing.T) {
	var fired atomic.Int32
	w := New(testLog(), 20*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	w.Inc()

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("watchdog did not fire on silent request")
	}
}

func TestDecCancels(t *testing.T) {
	var fired atomic.Int32
	w := New(testLog(), 30*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	w.Inc()
	w.Dec()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("watchdog fired %d times after balanced inc/dec", fired.Load())
	}
	if got := w.Count(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestDecWithRemainingRequestsRearms(t *testing.T) {
	var fired atomic.Int32
	w := New(testLog(), 20*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	w.Inc()
	w.Inc()
	w.Dec()

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("watchdog did not fire with one request outstanding")
	}
}

func TestIncExtendsDeadline(t *testing.T) {
	var fired atomic.Int32
	w := New(testLog(), 60*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	w.Inc()
	// Keep traffic flowing faster than the timeout.
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Inc()
		w.Dec()
	}
	if fired.Load() != 0 {
		t.Errorf("watchdog fired %d times despite live traffic", fired.Load())
	}
}

func TestReset(t *testing.T) {
	var fired atomic.Int32
	w := New(testLog(), 20*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	w.Inc()
	w.Inc()
	w.Reset()

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("watchdog fired %d times after reset", fired.Load())
	}
	if got := w.Count(); got != 0 {
		t.Errorf("count after reset = %d, want 0", got)
	}
}
