package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ssurgo_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the tile pipeline.
type Metrics struct {
	TilesPlanned    prometheus.Counter
	TilesSkipped    prometheus.Counter
	TilesWritten    prometheus.Counter
	TilesFailed     prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Per-tile work.
	MapunitsFetched prometheus.Counter
	FeaturesJoined  prometheus.Counter
	TileDuration    prometheus.Histogram

	// Remote services.
	ServiceRequests *prometheus.CounterVec   // labels: service={wfs,sda,postgres}, outcome={success,error}
	ServiceDuration *prometheus.HistogramVec // labels: service={wfs,sda,postgres}
	AttributeCache  *prometheus.CounterVec   // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		TilesPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_planned_total",
			Help:      "Total tiles produced by request planning.",
		}),
		TilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_skipped_total",
			Help:      "Tiles whose output file already existed.",
		}),
		TilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_written_total",
			Help:      "Tiles fetched, joined and written to the output directory.",
		}),
		TilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_failed_total",
			Help:      "Tiles that aborted their run.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "Number of runs currently in progress.",
		}),
		MapunitsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapunits_fetched_total",
			Help:      "Distinct mapunit keys whose attributes were requested.",
		}),
		FeaturesJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_joined_total",
			Help:      "Features that received aggregated attributes.",
		}),
		TileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_duration_seconds",
			Help:      "Duration of one tile from fetch to rename.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ServiceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_requests_total",
			Help:      "Requests to remote feature and attribute sources by outcome.",
		}, []string{"service", "outcome"}),
		ServiceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_request_duration_seconds",
			Help:      "Remote request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),
		AttributeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribute_cache_total",
			Help:      "Attribute cache lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.TilesPlanned,
		m.TilesSkipped,
		m.TilesWritten,
		m.TilesFailed,
		m.PipelineRunning,
		m.MapunitsFetched,
		m.FeaturesJoined,
		m.TileDuration,
		m.ServiceRequests,
		m.ServiceDuration,
		m.AttributeCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		TilesPlanned:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tiles_planned_total"}),
		TilesSkipped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tiles_skipped_total"}),
		TilesWritten:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tiles_written_total"}),
		TilesFailed:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tiles_failed_total"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		MapunitsFetched: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "mapunits_fetched_total"}),
		FeaturesJoined:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "features_joined_total"}),
		TileDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "tile_duration_seconds"}),
		ServiceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "service_requests_total"}, []string{"service", "outcome"}),
		ServiceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "service_request_duration_seconds"}, []string{"service"}),
		AttributeCache:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "attribute_cache_total"}, []string{"result"}),
	}
}
