// Package metrics exposes intake counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intake"

// Collector holds the intake metric families. A nil *Collector is valid and
// records nothing.
type Collector struct {
	previewsAcquired    prometheus.Counter
	previewsReleased    prometheus.Counter
	previewsOutstanding prometheus.Gauge
	admissions          *prometheus.CounterVec
	rejections          *prometheus.CounterVec
	removals            prometheus.Counter
	sessions            prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		previewsAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_handles_acquired_total",
			Help:      "Preview handles acquired for admitted image files.",
		}),
		previewsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_handles_released_total",
			Help:      "Preview handles released on removal, reset or teardown.",
		}),
		previewsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preview_handles_outstanding",
			Help:      "Preview handles currently held.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_admitted_total",
			Help:      "Files admitted into a slot, by event source.",
		}, []string{"source"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_rejected_total",
			Help:      "Rejected candidates, by rejection kind.",
		}, []string{"kind"}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_removed_total",
			Help:      "Files removed from a slot.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Open intake sessions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.previewsAcquired,
			c.previewsReleased,
			c.previewsOutstanding,
			c.admissions,
			c.rejections,
			c.removals,
			c.sessions,
		)
	}
	return c
}

// PreviewAcquired records one acquired preview handle.
func (c *Collector) PreviewAcquired() {
	if c == nil {
		return
	}
	c.previewsAcquired.Inc()
	c.previewsOutstanding.Inc()
}

// PreviewReleased records one released preview handle.
func (c *Collector) PreviewReleased() {
	if c == nil {
		return
	}
	c.previewsReleased.Inc()
	c.previewsOutstanding.Dec()
}

// Admitted records n files admitted from source.
func (c *Collector) Admitted(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.admissions.WithLabelValues(source).Add(float64(n))
}

// Rejected records a rejection of the given kind.
func (c *Collector) Rejected(kind string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(kind).Inc()
}

// Removed records a slot removal.
func (c *Collector) Removed() {
	if c == nil {
		return
	}
	c.removals.Inc()
}

// SessionOpened increments the open session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessions.Dec()
}
