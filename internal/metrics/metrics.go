// Package metrics provides Prometheus metrics for entgraph
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query paths reported by RecordQuery
const (
	PathIndex = "index"
	PathScan  = "scan"
)

// Metrics holds all Prometheus metrics for entgraph
type Metrics struct {
	// Store operation metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	RecordsTotal           *prometheus.GaugeVec

	// Query metrics
	QueriesTotal      *prometheus.CounterVec
	QueryCandidates   prometheus.Histogram
	QueryResultsTotal prometheus.Counter

	// Cascade metrics
	CascadeRemovalsTotal prometheus.Counter
	CascadeRepairsTotal  prometheus.Counter
	CascadeAbortsTotal   prometheus.Counter

	// Journal metrics
	JournalBytesTotal    prometheus.Counter
	JournalReplayedTotal prometheus.Counter

	// gRPC metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entgraph_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entgraph_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.00001, .0001, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.RecordsTotal = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entgraph_records",
			Help: "Number of live records per type",
		},
		[]string{"type"},
	)

	m.QueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entgraph_queries_total",
			Help: "Total number of find_all queries by execution path",
		},
		[]string{"path"},
	)

	m.QueryCandidates = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entgraph_query_candidates",
			Help:    "Number of records evaluated per query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	m.QueryResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_query_results_total",
			Help: "Total number of records returned by queries",
		},
	)

	m.CascadeRemovalsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_cascade_removals_total",
			Help: "Records removed through deep edges",
		},
	)

	m.CascadeRepairsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_cascade_repairs_total",
			Help: "Records whose shallow edges were repaired by a removal",
		},
	)

	m.CascadeAbortsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_cascade_aborts_total",
			Help: "Removals aborted by a constraint violation",
		},
	)

	m.JournalBytesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_journal_bytes_total",
			Help: "Bytes appended to the write-ahead journal",
		},
	)

	m.JournalReplayedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entgraph_journal_replayed_changes_total",
			Help: "Changes replayed from the journal on open",
		},
	)

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entgraph_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entgraph_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "entgraph_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being served",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "entgraph_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordStoreOperation records a store operation
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuery records one find_all execution
func (m *Metrics) RecordQuery(path string, candidates, results int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(path).Inc()
	m.QueryCandidates.Observe(float64(candidates))
	m.QueryResultsTotal.Add(float64(results))
}

// RecordCascade records the effects of a committed or aborted removal
func (m *Metrics) RecordCascade(removed, repaired int, aborted bool) {
	if m == nil {
		return
	}
	if aborted {
		m.CascadeAbortsTotal.Inc()
		return
	}
	// The root record is not a cascade removal
	if removed > 1 {
		m.CascadeRemovalsTotal.Add(float64(removed - 1))
	}
	m.CascadeRepairsTotal.Add(float64(repaired))
}

// SetRecordCounts replaces the per-type record gauge
func (m *Metrics) SetRecordCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Reset()
	for typ, n := range counts {
		m.RecordsTotal.WithLabelValues(typ).Set(float64(n))
	}
}

// RecordJournal records bytes appended and changes replayed
func (m *Metrics) RecordJournal(bytes int, replayed int) {
	if m == nil {
		return
	}
	m.JournalBytesTotal.Add(float64(bytes))
	m.JournalReplayedTotal.Add(float64(replayed))
}

// RecordGrpcRequest records a finished gRPC request
func (m *Metrics) RecordGrpcRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
