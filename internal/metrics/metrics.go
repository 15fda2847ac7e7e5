// Package metrics exposes Prometheus collectors for intake and upload.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"networksurvey/uploader/internal/model"
	"networksurvey/uploader/internal/upload"
)

const namespace = "survey_uploader"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	recordsReceived *prometheus.CounterVec
	recordsStored   *prometheus.CounterVec
	recordsRejected *prometheus.CounterVec
	ingestErrors    *prometheus.CounterVec
	subBatches      *prometheus.CounterVec
	recordsSent     *prometheus.CounterVec
	runs            *prometheus.CounterVec
	recordsDeleted  prometheus.Counter
	runDuration     prometheus.Histogram
	lastRun         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_received_total",
			Help:      "Survey records offered to the dedup filter.",
		}, []string{"type"}),
		recordsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Survey records written to the store.",
		}, []string{"type"}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Survey records dropped by the dedup filter.",
		}, []string{"type"}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Payloads that could not be decoded or stored.",
		}, []string{"source"}),
		subBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_sub_batches_total",
			Help:      "Per-type sub-batches sent to each target, by result.",
		}, []string{"target", "type", "result"}),
		recordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_records_total",
			Help:      "Records handed to each target, by result.",
		}, []string{"target", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_runs_total",
			Help:      "Completed upload runs by outcome.",
		}, []string{"outcome"}),
		recordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "Records deleted after every applicable target confirmed them.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_run_duration_seconds",
			Help:      "Wall time of upload runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_last_run_timestamp_seconds",
			Help:      "Unix time the last upload run finished.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.recordsReceived,
		m.recordsStored,
		m.recordsRejected,
		m.ingestErrors,
		m.subBatches,
		m.recordsSent,
		m.runs,
		m.recordsDeleted,
		m.runDuration,
		m.lastRun,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordsOffered counts the records of one type seen by the recorder and how
// many survived the dedup filter.
func (m *Metrics) RecordsOffered(kind model.RecordType, offered, stored int) {
	m.recordsReceived.WithLabelValues(kind.String()).Add(float64(offered))
	m.recordsStored.WithLabelValues(kind.String()).Add(float64(stored))
	if offered > stored {
		m.recordsRejected.WithLabelValues(kind.String()).Add(float64(offered - stored))
	}
}

func (m *Metrics) IngestError(source string) {
	m.ingestErrors.WithLabelValues(source).Inc()
}

// UploadFinished implements upload.Observer.
func (m *Metrics) UploadFinished(target model.UploadTarget, kind model.RecordType, result upload.Result, records int) {
	m.subBatches.WithLabelValues(target.String(), kind.String(), result.String()).Inc()
	m.recordsSent.WithLabelValues(target.String(), result.String()).Add(float64(records))
}

// RunFinished implements upload.Observer.
func (m *Metrics) RunFinished(report upload.Report) {
	m.runs.WithLabelValues(string(report.Outcome)).Inc()
	m.recordsDeleted.Add(float64(report.Deleted))
	m.runDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.lastRun.Set(float64(report.FinishedAt.Unix()))
}
