// Package watchdog provides the reference-counted timer that declares the
// firmware dead. Every request expecting a reply holds one reference; while
// any reference is held the timer is armed, and silence for the full timeout
// fires the callback.
package watchdog

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Watchdog is a reference counter with a one-shot timer. Inc arms or extends
// the timer, Dec disarms it when the count reaches zero.
type Watchdog struct {
	log      *logrus.Entry
	timeout  time.Duration
	callback func()

	mu    sync.Mutex
	count int
	timer *time.Timer
}

// New creates a watchdog. The callback runs on its own goroutine so that it
// may acquire the device mutex.
func New(log *logrus.Entry, timeout time.Duration, callback func()) *Watchdog {
	return &Watchdog{
		log:      log,
		timeout:  timeout,
		callback: callback,
	}
}

// Inc adds one in-flight reference and extends the timer to a full timeout
// from now.
func (w *Watchdog) Inc() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	w.arm()
}

// Dec drops one in-flight reference. The timer is cancelled when the count
// reaches zero and extended otherwise.
func (w *Watchdog) Dec() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count--
	if w.count <= 0 {
		w.log.Debug("Wdog: Cancel watchdog timeout")
		w.disarm()
		return
	}
	w.arm()
}

// Reset cancels the timer and clears the count.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count = 0
	w.disarm()
}

// Count returns the current reference count.
func (w *Watchdog) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.count
}

// Stop disarms the watchdog and clears the count, the same as Reset; a later
// Inc arms it again.
func (w *Watchdog) Stop() {
	w.Reset()
}

func (w *Watchdog) arm() {
	w.disarm()
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

func (w *Watchdog) disarm() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.count <= 0 {
		// Lost the race against Dec.
		w.mu.Unlock()
		return
	}
	count := w.count
	w.mu.Unlock()

	w.log.WithField("refcount", count).Warn("Wdog: Watchdog timeout")

	w.callback()
}
