package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation labels.
const (
	OpDeploy  = "deploy"
	OpExport  = "export"
	OpImport  = "import"
	OpBackup  = "backup"
	OpRestore = "restore"
	OpCleanup = "cleanup"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	skippedInserts    prometheus.Counter
	archiveSize       prometheus.Gauge
	archiveRows       prometheus.Gauge
	lastBackupTime    prometheus.Gauge
	lastBackupSuccess prometheus.Gauge
	storageUsed       prometheus.Gauge
}

// New registers the collectors with the default registry.
func New(namespace string) *Metrics {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer)
}

func NewWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dbseed"
	}

	m := &Metrics{
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of seed operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"operation"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of seed operations by outcome",
		}, []string{"operation", "status"}),
		skippedInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_skipped_inserts_total",
			Help:      "INSERT statements that failed during replay and were skipped",
		}),
		archiveSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_size_bytes",
			Help:      "Stored size of the last seed archive in bytes",
		}),
		archiveRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_rows",
			Help:      "Rows captured by the last seed archive",
		}),
		lastBackupTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_backup_timestamp",
			Help:      "Timestamp of the last backup attempt",
		}),
		lastBackupSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_backup_success",
			Help:      "Whether the last backup was successful (1) or not (0)",
		}),
		storageUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Total storage used by all seed archives in bytes",
		}),
	}

	reg.MustRegister(
		m.operationDuration,
		m.operationsTotal,
		m.skippedInserts,
		m.archiveSize,
		m.archiveRows,
		m.lastBackupTime,
		m.lastBackupSuccess,
		m.storageUsed,
	)

	return m
}

// RecordOperation counts one run of op, labelled success when err is nil.
func (m *Metrics) RecordOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}

	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordBackupSuccess(duration time.Duration, sizeBytes, rows int64) {
	if m == nil {
		return
	}

	m.RecordOperation(OpBackup, duration, nil)
	m.archiveSize.Set(float64(sizeBytes))
	m.archiveRows.Set(float64(rows))
	m.lastBackupTime.SetToCurrentTime()
	m.lastBackupSuccess.Set(1)
}

func (m *Metrics) RecordBackupFailure(duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.RecordOperation(OpBackup, duration, err)
	m.lastBackupTime.SetToCurrentTime()
	m.lastBackupSuccess.Set(0)
}

func (m *Metrics) AddSkippedInserts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedInserts.Add(float64(n))
}

func (m *Metrics) SetStorageUsed(bytes int64) {
	if m == nil {
		return
	}
	m.storageUsed.Set(float64(bytes))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
