package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStoreOperationStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStoreOperation("insert", nil, time.Millisecond)
	m.RecordStoreOperation("insert", nil, time.Millisecond)
	m.RecordStoreOperation("remove", errors.New("violation"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("remove", "error")))
}

func TestQueryAndCascadeCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordQuery(PathIndex, 2, 1)
	m.RecordQuery(PathScan, 10, 3)
	m.RecordCascade(3, 1, false)
	m.RecordCascade(0, 0, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues(PathIndex)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueryResultsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CascadeRemovalsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CascadeRepairsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CascadeAbortsTotal))
}

func TestRecordCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetRecordCounts(map[string]int{"Page": 2, "Content": 1})
	m.SetRecordCounts(map[string]int{"Page": 1})

	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("Page")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordStoreOperation("insert", nil, 0)
	m.RecordQuery(PathScan, 0, 0)
	m.RecordCascade(1, 0, false)
	m.SetRecordCounts(nil)
	m.RecordJournal(0, 0)
	m.RecordGrpcRequest("/x", "ok", 0)
}

func TestGrpcRequests(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordGrpcRequest("/grpc.health.v1.Health/Check", "ok", time.Millisecond)
	m.RecordGrpcRequest("/grpc.health.v1.Health/Check", "error", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("/grpc.health.v1.Health/Check", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GrpcRequestDuration))
}

func TestSeparateRegistries(t *testing.T) {
	// Two stores in one process must not collide on registration
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
