package monitoring

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/config"
	"github.com/sells-group/media-etl/internal/notify"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func expectCollect(mock pgxmock.PgxPoolIface, total, success, partial, failed, processing, unresolved, stuck int) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_logs WHERE started_at >= $1")).
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"total", "success", "partial", "failed", "processing", "loaded", "failed_records"}).
			AddRow(total, success, partial, failed, processing, int64(900), int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta("count(*) FILTER (WHERE resolution_status = 'unresolved')")).
		WithArgs(now.Add(-30 * time.Minute)).
		WillReturnRows(pgxmock.NewRows([]string{"unresolved", "stuck"}).AddRow(unresolved, stuck))
}

func testCollector(mock pgxmock.PgxPoolIface) *Collector {
	c := NewCollector(mock, 0)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectCollect(mock, 10, 6, 2, 2, 0, 4, 1)

	snap, err := testCollector(mock).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, 4, snap.Unresolved)
	assert.Equal(t, 1, snap.Stuck)
	assert.Equal(t, int64(900), snap.RecordsLoaded)
	assert.InDelta(t, 0.2, snap.FailRate, 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollector_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_logs")).WillReturnError(errors.New("down"))

	_, err = testCollector(mock).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count runs")
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, UnresolvedThreshold: 3}
	a := NewAlerter(cfg, notify.Nop{})

	assert.Empty(t, a.Evaluate(&Snapshot{Success: 9, Failed: 1, FailRate: 0.1}))

	alerts := a.Evaluate(&Snapshot{Success: 4, Failed: 4, FailRate: 0.5, Unresolved: 3, Stuck: 2, LookbackHours: 24})
	require.Len(t, alerts, 3)
	assert.Equal(t, notify.KindFailureRate, alerts[0].Kind)
	assert.Contains(t, alerts[0].Detail, "50.0%")
	assert.Equal(t, notify.KindUnresolved, alerts[1].Kind)
	assert.Equal(t, notify.KindStuckRuns, alerts[2].Kind)
}

func TestAlerter_FailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1}, notify.Nop{})
	assert.Empty(t, a.Evaluate(&Snapshot{Failed: 2, FailRate: 1}))
}

func TestChecker_Check(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectCollect(mock, 1, 0, 0, 0, 1, 0, 1)

	rec := &recorder{}
	cfg := config.MonitoringConfig{LookbackHours: 24, FailureRateThreshold: 0.1}
	checker := NewChecker(testCollector(mock), NewAlerter(cfg, rec), cfg)

	assert.Equal(t, 1, checker.Check(context.Background()))
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.KindStuckRuns, rec.events[0].Kind)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	checker := NewChecker(NewCollector(nil, 0), NewAlerter(config.MonitoringConfig{}, notify.Nop{}), config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun("facebook", "partial", 2, 0, 1, time.Second)
	m.ObserveSweep("ok")
	m.ObserveAggregation("weekly", "written")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("facebook", "partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("facebook", "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("facebook", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoverySweeps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aggregations.WithLabelValues("weekly", "written")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("vibe", "success", 1, 0, 0, 0)
		m.ObserveSweep("ok")
		m.ObserveAggregation("monthly", "empty")
	})
}
