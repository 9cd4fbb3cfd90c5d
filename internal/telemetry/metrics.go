package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects every counter/gauge the core exposes, matching the
// probes DamaCtrlRcs2Legacy.cpp / ForwardSchedulingS2.cpp expose. One
// instance is constructed per process and passed down to the
// components that need it, mirroring the teacher's metrics.go which
// registers a fixed struct of promauto collectors at init.
type Metrics struct {
	QueueLossPackets *prometheus.CounterVec
	QueueLossRate    *prometheus.CounterVec

	CarrierAvailableCapacity *prometheus.GaugeVec
	CarrierRemainingCapacity *prometheus.GaugeVec

	TerminalCRAAlloc  *prometheus.GaugeVec
	TerminalRBDCAlloc *prometheus.GaugeVec
	TerminalVBDCAlloc *prometheus.GaugeVec
	TerminalFCAAlloc  *prometheus.GaugeVec

	RBDCRequestCount prometheus.Counter
	VBDCRequestCount prometheus.Counter

	SentModcod *prometheus.GaugeVec

	BBFrameCount prometheus.Counter
}

// NewMetrics registers all collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns = "opensand"

	return &Metrics{
		QueueLossPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "mac_fifo",
			Name:      "queue_loss_packets_total",
			Help:      "Packets dropped because a MAC FIFO was full.",
		}, []string{"fifo"}),

		QueueLossRate: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "mac_fifo",
			Name:      "queue_loss_bytes_total",
			Help:      "Bytes dropped because a MAC FIFO was full.",
		}, []string{"fifo"}),

		CarrierAvailableCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "carrier",
			Name:      "available_capacity_symbols",
			Help:      "Total per-frame symbol capacity of a carrier group.",
		}, []string{"category", "carrier_id"}),

		CarrierRemainingCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "carrier",
			Name:      "remaining_capacity_symbols",
			Help:      "Unallocated per-frame symbol capacity of a carrier group.",
		}, []string{"category", "carrier_id"}),

		TerminalCRAAlloc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "cra_allocation_kbps",
			Help:      "CRA allocated to a terminal this superframe.",
		}, []string{"tal_id"}),

		TerminalRBDCAlloc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "rbdc_allocation_kbps",
			Help:      "RBDC allocated to a terminal this superframe.",
		}, []string{"tal_id"}),

		TerminalVBDCAlloc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "vbdc_allocation_kb",
			Help:      "VBDC allocated to a terminal this superframe.",
		}, []string{"tal_id"}),

		TerminalFCAAlloc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "fca_allocation_kbps",
			Help:      "FCA allocated to a terminal this superframe.",
		}, []string{"tal_id"}),

		RBDCRequestCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "rbdc_requests_total",
			Help:      "Number of RBDC requests sent by the terminal DAMA agent.",
		}),

		VBDCRequestCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "vbdc_requests_total",
			Help:      "Number of VBDC requests sent by the terminal DAMA agent.",
		}),

		SentModcod: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dama",
			Name:      "sent_modcod_id",
			Help:      "Last MODCOD id used for a sent burst/BBFrame.",
		}, []string{"tal_id", "direction"}),

		BBFrameCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "s2sched",
			Name:      "bbframes_total",
			Help:      "BBFrames emitted by the forward-link scheduler.",
		}),
	}
}
