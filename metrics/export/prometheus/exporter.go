// Package prometheus exposes engine metrics as a Prometheus collector.
//
// The engine keeps its own lock-free counters so the hot path never touches a
// Prometheus client; this package bridges a snapshot into const metrics at
// scrape time.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	staffauth "github.com/wardline/staffauth"
	"github.com/wardline/staffauth/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() staffauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter implements prometheus.Collector by snapshotting the engine on
// every scrape. Register it with any registry, or use Handler for a
// standalone /metrics endpoint.
type Exporter struct {
	source metricsSource

	counterDescs map[staffauth.MetricID]*prometheus.Desc
	histDescs    map[staffauth.MetricID]*prometheus.Desc
	droppedDesc  *prometheus.Desc
}

// NewExporter creates an exporter reading from the given engine.
func NewExporter(engine *staffauth.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource creates an exporter from a custom metrics source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:       source,
		counterDescs: make(map[staffauth.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histDescs:    make(map[staffauth.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		droppedDesc: prometheus.NewDesc(
			"staffauth_audit_dropped_total",
			"Audit events dropped due to dispatcher backpressure.",
			nil, nil,
		),
	}

	for _, def := range internaldefs.CounterDefs {
		e.counterDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}

	return e
}

// Handler returns a scrape handler backed by a private registry holding only
// this exporter.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range internaldefs.CounterDefs {
		ch <- e.counterDescs[def.ID]
	}
	for _, def := range internaldefs.HistogramDefs {
		ch <- e.histDescs[def.ID]
	}
	ch <- e.droppedDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(
			e.counterDescs[def.ID],
			prometheus.CounterValue,
			float64(snapshot.Counters[def.ID]),
		)
	}

	for _, def := range internaldefs.HistogramDefs {
		raw := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(raw)

		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, le := range internaldefs.HistogramBoundValues {
			buckets[le] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]

		// The engine records bucket counts only, so the sum is not known.
		ch <- prometheus.MustNewConstHistogram(e.histDescs[def.ID], count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(
		e.droppedDesc,
		prometheus.CounterValue,
		float64(e.source.AuditDropped()),
	)
}
