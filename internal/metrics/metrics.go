// Package metrics provides Prometheus metrics for the docrev service
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainya/docrev/pkg/notify"
)

// Metrics holds all Prometheus metrics of the service on its own registry
type Metrics struct {
	Registry *prometheus.Registry

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	DbSizeBytes            prometheus.Gauge
	DocumentsTotal         prometheus.Gauge

	// Engine metrics, fed from notifications
	EventsTotal           *prometheus.CounterVec
	VersionsCreatedTotal  prometheus.Counter
	MergesTotal           *prometheus.CounterVec
	MergeConflictsTotal   prometheus.Counter
	LocksTotal            *prometheus.CounterVec
	RetentionActionsTotal *prometheus.CounterVec
	ComparisonsTotal      *prometheus.CounterVec
	NotificationDrops     prometheus.Counter

	ServerStartTime time.Time
}

// New creates the metrics on a fresh registry that also carries the Go and
// process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:        reg,
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)
	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrev_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	m.GrpcRequestsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "docrev_grpc_requests_in_flight",
		Help: "Number of gRPC requests currently being processed",
	})

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)
	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrev_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
	m.DbSizeBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "docrev_db_size_bytes",
		Help: "Current database file size in bytes",
	})
	m.DocumentsTotal = factory.NewGauge(prometheus.GaugeOpts{
		Name: "docrev_documents_total",
		Help: "Number of documents with at least one version",
	})

	m.EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_events_total",
			Help: "Notifications emitted by the engine",
		},
		[]string{"type"},
	)
	m.VersionsCreatedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docrev_versions_created_total",
		Help: "Versions written, merges included",
	})
	m.MergesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_merges_total",
			Help: "Completed merges by strategy",
		},
		[]string{"strategy"},
	)
	m.MergeConflictsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docrev_merge_conflicts_total",
		Help: "Conflicts resolved by completed merges",
	})
	m.LocksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_locks_total",
			Help: "Lock lifecycle events",
		},
		[]string{"event"},
	)
	m.RetentionActionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_retention_actions_total",
			Help: "Versions archived or deleted by retention",
		},
		[]string{"action"},
	)
	m.ComparisonsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrev_comparisons_total",
			Help: "Finished comparisons by status",
		},
		[]string{"status"},
	)
	m.NotificationDrops = factory.NewCounter(prometheus.CounterOpts{
		Name: "docrev_notification_drops_total",
		Help: "Events a slow in-process subscriber missed",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "docrev_server_uptime_seconds",
		Help: "Server uptime in seconds",
	}, func() float64 { return time.Since(m.ServerStartTime).Seconds() })

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordGrpcRequest records a gRPC request with its status code
func (m *Metrics) RecordGrpcRequest(method, code string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, code).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDbStats updates database statistics
func (m *Metrics) UpdateDbStats(sizeBytes int64, documents int) {
	m.DbSizeBytes.Set(float64(sizeBytes))
	m.DocumentsTotal.Set(float64(documents))
}

// Notify implements notify.Notifier by counting engine events
func (m *Metrics) Notify(_ context.Context, e notify.Event) error {
	m.EventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case notify.VersionCreated:
		m.VersionsCreatedTotal.Inc()
	case notify.BranchMerged:
		if p, ok := e.Payload.(map[string]any); ok {
			m.MergesTotal.WithLabelValues(stringOf(p["strategy"])).Inc()
			if n, ok := p["conflicts"].(int); ok {
				m.MergeConflictsTotal.Add(float64(n))
			}
		}
	case notify.DocumentLocked:
		m.LocksTotal.WithLabelValues("acquired").Inc()
	case notify.DocumentUnlocked:
		m.LocksTotal.WithLabelValues("released").Inc()
	case notify.LockExpired:
		m.LocksTotal.WithLabelValues("expired").Inc()
	case notify.VersionArchived:
		m.RetentionActionsTotal.WithLabelValues("archive").Inc()
	case notify.VersionDeleted:
		if strings.HasPrefix(e.Actor, "system:") {
			m.RetentionActionsTotal.WithLabelValues("delete").Inc()
		}
	case notify.ComparisonCompleted:
		if p, ok := e.Payload.(map[string]any); ok {
			m.ComparisonsTotal.WithLabelValues(stringOf(p["status"])).Inc()
		}
	}
	return nil
}

// DropCounter returns a hook for notify.Bus.OnDrop
func (m *Metrics) DropCounter() func(notify.Event) {
	return func(notify.Event) { m.NotificationDrops.Inc() }
}

func stringOf(v any) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprint(v)
}
