// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the registry, the queues and the scanner.
// A nil *Metrics or a disabled one turns every recording call into a no-op.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	FilterLabel = "filter"
	OpLabel     = "op"
)

// Metrics holds the collectors. Fields are exported for scraping in tests.
type Metrics struct {
	IsEnabled bool
	Registry  *prometheus.Registry

	WatchesAttached *prometheus.CounterVec
	WatchesDetached *prometheus.CounterVec
	AttachFailures  *prometheus.CounterVec
	Activations     prometheus.Counter
	EventsDelivered prometheus.Counter
	ScanWaits       prometheus.Counter
	FilterChanges   *prometheus.CounterVec
	QueuesOpen      prometheus.Gauge
}

// NewMetrics builds collectors under cfg.Namespace and registers them on
// reg. A nil reg gets a fresh pedantic registry.
func NewMetrics(cfg MetricsConfig, reg *prometheus.Registry) *Metrics {
	if !cfg.Enabled {
		return &Metrics{IsEnabled: false}
	}
	if reg == nil {
		reg = prometheus.NewPedanticRegistry()
	}
	ns := cfg.Namespace
	m := &Metrics{
		IsEnabled: true,
		Registry:  reg,
		WatchesAttached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "watches_attached_total",
				Help:      "Watches attached, by filter",
			},
			[]string{FilterLabel},
		),
		WatchesDetached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "watches_detached_total",
				Help:      "Watches detached, by filter",
			},
			[]string{FilterLabel},
		),
		AttachFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attach_failures_total",
				Help:      "Failed watch attachments, by filter",
			},
			[]string{FilterLabel},
		),
		Activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "activations_total",
			Help:      "Watch activations reported by sources",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_delivered_total",
			Help:      "Events copied out by scans",
		}),
		ScanWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "scan_waits_total",
			Help:      "Times a scan blocked on an empty queue",
		}),
		FilterChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "filter_changes_total",
				Help:      "Dynamic filter registrations and removals",
			},
			[]string{OpLabel},
		),
		QueuesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queues_open",
			Help:      "Queues currently open",
		}),
	}
	collectorsToRegister := []prometheus.Collector{
		m.WatchesAttached,
		m.WatchesDetached,
		m.AttachFailures,
		m.Activations,
		m.EventsDelivered,
		m.ScanWaits,
		m.FilterChanges,
		m.QueuesOpen,
	}
	if cfg.Runtime {
		collectorsToRegister = append(collectorsToRegister,
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	reg.MustRegister(collectorsToRegister...)
	return m
}

func (m *Metrics) enabled() bool { return m != nil && m.IsEnabled }

func (m *Metrics) WatchAttached(filter string) {
	if !m.enabled() {
		return
	}
	m.WatchesAttached.With(prometheus.Labels{FilterLabel: filter}).Inc()
}

func (m *Metrics) WatchDetached(filter string) {
	if !m.enabled() {
		return
	}
	m.WatchesDetached.With(prometheus.Labels{FilterLabel: filter}).Inc()
}

func (m *Metrics) AttachFailed(filter string) {
	if !m.enabled() {
		return
	}
	m.AttachFailures.With(prometheus.Labels{FilterLabel: filter}).Inc()
}

func (m *Metrics) Activation() {
	if !m.enabled() {
		return
	}
	m.Activations.Inc()
}

func (m *Metrics) Delivered(n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.EventsDelivered.Add(float64(n))
}

func (m *Metrics) ScanWait() {
	if !m.enabled() {
		return
	}
	m.ScanWaits.Inc()
}

func (m *Metrics) FilterChange(op string) {
	if !m.enabled() {
		return
	}
	m.FilterChanges.With(prometheus.Labels{OpLabel: op}).Inc()
}

func (m *Metrics) QueueOpened() {
	if !m.enabled() {
		return
	}
	m.QueuesOpen.Inc()
}

func (m *Metrics) QueueClosed() {
	if !m.enabled() {
		return
	}
	m.QueuesOpen.Dec()
}
