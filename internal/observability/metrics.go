package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons for GranulesRejected.
const (
	ReasonDateline  = "dateline_wrap"
	ReasonFootprint = "footprint"
	ReasonReadError = "read_error"
	ReasonShape     = "shape_mismatch"
	ReasonUnknown   = "unclassified"
)

// Metrics holds the Prometheus counters, histograms, and gauges for one merge run.
type Metrics struct {
	registry *prometheus.Registry

	GranulesScanned  prometheus.Counter
	GranulesMatched  *prometheus.CounterVec // labels: type
	GranulesRejected *prometheus.CounterVec // labels: reason
	SlotsFilled      *prometheus.GaugeVec   // labels: type
	SlotsMasked      *prometheus.GaugeVec   // labels: type
	TrackPoints      prometheus.Gauge
	StageDuration    *prometheus.HistogramVec // labels: stage
	RunSuccess       prometheus.Gauge
}

// NewMetrics creates metrics registered on a fresh registry, so a process can
// run several merges (and tests can build many) without collisions.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GranulesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_merge",
			Name:      "granules_scanned_total",
			Help:      "Granule files inspected by the matcher.",
		}),
		GranulesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_merge",
			Name:      "granules_matched_total",
			Help:      "Distinct granules matched to at least one track point, by granule type.",
		}, []string{"type"}),
		GranulesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_merge",
			Name:      "granules_rejected_total",
			Help:      "Granules excluded from matching or merging, by reason.",
		}, []string{"reason"}),
		SlotsFilled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "storm_merge",
			Name:      "slots_filled",
			Help:      "Track-point slots holding a granule, by granule type.",
		}, []string{"type"}),
		SlotsMasked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "storm_merge",
			Name:      "slots_masked",
			Help:      "Track-point slots left at the fill value, by granule type.",
		}, []string{"type"}),
		TrackPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_merge",
			Name:      "track_points",
			Help:      "Track points processed in the run.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storm_merge",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_merge",
			Name:      "run_success",
			Help:      "1 when the last run wrote its artifact, 0 otherwise.",
		}),
	}

	m.registry.MustRegister(
		m.GranulesScanned,
		m.GranulesMatched,
		m.GranulesRejected,
		m.SlotsFilled,
		m.SlotsMasked,
		m.TrackPoints,
		m.StageDuration,
		m.RunSuccess,
	)
	return m
}

// Gatherer exposes the run registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
