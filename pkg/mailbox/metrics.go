package mailbox

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts mailbox and device events. The counters are updated on the
// hot path with atomics and read on each scrape; register the Metrics as a
// prometheus.Collector to expose them.
type Metrics struct {
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	sendErrors     atomic.Uint64
	invalidFrames  atomic.Uint64
	queueResets    atomic.Uint64

	watchdogTimeouts atomic.Uint64
	firmwareResets   atomic.Uint64
	messagesFailed   atomic.Uint64
	messagesResent   atomic.Uint64

	framesSentDesc     *prometheus.Desc
	framesReceivedDesc *prometheus.Desc
	sendErrorsDesc     *prometheus.Desc
	invalidFramesDesc  *prometheus.Desc
	queueResetsDesc    *prometheus.Desc

	watchdogTimeoutsDesc *prometheus.Desc
	firmwareResetsDesc   *prometheus.Desc
	messagesFailedDesc   *prometheus.Desc
	messagesResentDesc   *prometheus.Desc
	outstandingDesc      *prometheus.Desc

	outstanding func() float64
}

// NewMetrics creates the mailbox metrics. outstanding reports the current
// registry depth on scrape and may be nil.
func NewMetrics(outstanding func() float64) *Metrics {
	return &Metrics{
		framesSentDesc: prometheus.NewDesc(
			"ethosu_frames_sent_total",
			"Frames written to the outbound queue.", nil, nil),
		framesReceivedDesc: prometheus.NewDesc(
			"ethosu_frames_received_total",
			"Frames read from the inbound queue.", nil, nil),
		sendErrorsDesc: prometheus.NewDesc(
			"ethosu_send_errors_total",
			"Outbound writes rejected for lack of queue space.", nil, nil),
		invalidFramesDesc: prometheus.NewDesc(
			"ethosu_invalid_frames_total",
			"Inbound frames dropped for bad magic or length.", nil, nil),
		queueResetsDesc: prometheus.NewDesc(
			"ethosu_queue_resets_total",
			"Inbound queue resets after a protocol error.", nil, nil),
		watchdogTimeoutsDesc: prometheus.NewDesc(
			"ethosu_watchdog_timeouts_total",
			"Watchdog expiries on silent firmware.", nil, nil),
		firmwareResetsDesc: prometheus.NewDesc(
			"ethosu_firmware_resets_total",
			"Firmware reset sequences run by the host.", nil, nil),
		messagesFailedDesc: prometheus.NewDesc(
			"ethosu_messages_failed_total",
			"Outstanding messages failed by firmware death.", nil, nil),
		messagesResentDesc: prometheus.NewDesc(
			"ethosu_messages_resent_total",
			"Outstanding messages replayed after a firmware reset.", nil, nil),
		outstandingDesc: prometheus.NewDesc(
			"ethosu_messages_outstanding",
			"Requests currently waiting for a response.", nil, nil),
		outstanding: outstanding,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.framesSentDesc
	ch <- m.framesReceivedDesc
	ch <- m.sendErrorsDesc
	ch <- m.invalidFramesDesc
	ch <- m.queueResetsDesc
	ch <- m.watchdogTimeoutsDesc
	ch <- m.firmwareResetsDesc
	ch <- m.messagesFailedDesc
	ch <- m.messagesResentDesc
	ch <- m.outstandingDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}

	counter(m.framesSentDesc, m.framesSent.Load())
	counter(m.framesReceivedDesc, m.framesReceived.Load())
	counter(m.sendErrorsDesc, m.sendErrors.Load())
	counter(m.invalidFramesDesc, m.invalidFrames.Load())
	counter(m.queueResetsDesc, m.queueResets.Load())
	counter(m.watchdogTimeoutsDesc, m.watchdogTimeouts.Load())
	counter(m.firmwareResetsDesc, m.firmwareResets.Load())
	counter(m.messagesFailedDesc, m.messagesFailed.Load())
	counter(m.messagesResentDesc, m.messagesResent.Load())

	if m.outstanding != nil {
		ch <- prometheus.MustNewConstMetric(m.outstandingDesc, prometheus.GaugeValue, m.outstanding())
	}
}

// WatchdogTimeout records a watchdog expiry.
func (m *Metrics) WatchdogTimeout() {
	m.watchdogTimeouts.Add(1)
}

// FirmwareReset records a firmware reset sequence.
func (m *Metrics) FirmwareReset() {
	m.firmwareResets.Add(1)
}

// MessagesFailed records n messages failed in bulk.
func (m *Metrics) MessagesFailed(n int) {
	m.messagesFailed.Add(uint64(n))
}

// MessagesResent records n messages replayed in bulk.
func (m *Metrics) MessagesResent(n int) {
	m.messagesResent.Add(uint64(n))
}
