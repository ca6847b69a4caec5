package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// forecast service.
type Metrics struct {
	ReadingsIngested prometheus.Counter
	IngestErrors     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Ingest batching metrics.
	IngestBatchSize prometheus.Histogram

	// Forecast computation metrics.
	ForecastsComputed *prometheus.CounterVec // labels: status={ok,insufficient_data,error}
	TrainFallbacks    *prometheus.CounterVec // labels: reason={insufficient_data,solve_failed}
	ForecastDuration  prometheus.Histogram
	FitQuality        *prometheus.GaugeVec // labels: station

	// Publishing and serving metrics.
	SnapshotsPublished prometheus.Counter
	SnapshotCache      *prometheus.CounterVec // labels: result={hit,miss}
	WebsocketClients   prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "readings_ingested_total",
			Help:      "Total station readings accepted from the readings topic.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "ingest_errors_total",
			Help:      "Total readings dropped because the payload could not be parsed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "station_forecast",
			Name:      "pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		IngestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "station_forecast",
			Name:      "ingest_batch_size",
			Help:      "Number of readings per batch pulled from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		ForecastsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "forecasts_computed_total",
			Help:      "Forecast computations by outcome.",
		}, []string{"status"}),
		TrainFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "train_fallbacks_total",
			Help:      "Per-metric model fits that fell back to a flat forecast, by reason.",
		}, []string{"reason"}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "station_forecast",
			Name:      "forecast_duration_seconds",
			Help:      "Duration of a complete train-and-predict cycle for one station.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		FitQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "station_forecast",
			Name:      "fit_quality",
			Help:      "Mean R-squared across the station's per-metric models, 0 to 1.",
		}, []string{"station"}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "snapshots_published_total",
			Help:      "Forecast snapshots written to the forecast topic.",
		}),
		SnapshotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station_forecast",
			Name:      "snapshot_cache_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "station_forecast",
			Name:      "websocket_clients",
			Help:      "Currently connected websocket subscribers.",
		}),
	}

	prometheus.MustRegister(
		m.ReadingsIngested,
		m.IngestErrors,
		m.PipelineRunning,
		m.IngestBatchSize,
		m.ForecastsComputed,
		m.TrainFallbacks,
		m.ForecastDuration,
		m.FitQuality,
		m.SnapshotsPublished,
		m.SnapshotCache,
		m.WebsocketClients,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReadingsIngested:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_forecast", Name: "readings_ingested_total"}),
		IngestErrors:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_forecast", Name: "ingest_errors_total"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "station_forecast", Name: "pipeline_running"}),
		IngestBatchSize:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "station_forecast", Name: "ingest_batch_size"}),
		ForecastsComputed:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "station_forecast", Name: "forecasts_computed_total"}, []string{"status"}),
		TrainFallbacks:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "station_forecast", Name: "train_fallbacks_total"}, []string{"reason"}),
		ForecastDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "station_forecast", Name: "forecast_duration_seconds"}),
		FitQuality:         prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "station_forecast", Name: "fit_quality"}, []string{"station"}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_forecast", Name: "snapshots_published_total"}),
		SnapshotCache:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "station_forecast", Name: "snapshot_cache_total"}, []string{"result"}),
		WebsocketClients:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "station_forecast", Name: "websocket_clients"}),
	}
}
