package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(prometheus.NewRegistry())
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.jobsSubmitted, "jobsSubmitted counter should be initialized")
	assert.NotNil(t, collector.jobsDispatched, "jobsDispatched counter should be initialized")
	assert.NotNil(t, collector.jobsCompleted, "jobsCompleted counter should be initialized")
	assert.NotNil(t, collector.polls, "polls counter should be initialized")
	assert.NotNil(t, collector.jobLatency, "jobLatency histogram should be initialized")
	assert.NotNil(t, collector.jobsPending, "jobsPending gauge should be initialized")
	assert.NotNil(t, collector.workersOnline, "workersOnline gauge should be initialized")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	assert.Panics(t, func() {
		NewCollector(reg)
	}, "registering the same metrics twice should panic")
}

func TestRecordSubmit(t *testing.T) {
	c := newTestCollector(t)

	c.RecordSubmit(false)
	c.RecordSubmit(false)
	c.RecordSubmit(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsSubmitted.WithLabelValues("true")))
}

func TestRecordPoll(t *testing.T) {
	c := newTestCollector(t)

	c.RecordPoll(types.CommandSleep)
	c.RecordPoll(types.CommandKnock)
	c.RecordPoll(types.CommandKnock)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.polls.WithLabelValues("SLEEP")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.polls.WithLabelValues("KNOCK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsDispatched), "each KNOCK counts as a dispatch")
}

func TestRecordCompleted(t *testing.T) {
	c := newTestCollector(t)

	latencies := []float64{0.1, 1.0, 5.0}
	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			c.RecordCompleted(true, latency)
		}, "RecordCompleted should not panic with latency %f", latency)
	}
	c.RecordCompleted(false, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("false")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobLatency))
}

func TestGauges(t *testing.T) {
	c := newTestCollector(t)

	c.UpdateQueueStats(types.QueueStats{Pending: 4, Assigned: 2, Completed: 9})
	c.SetWorkersOnline(7)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.jobsPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsAssigned))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.workersOnline))

	c.UpdateQueueStats(types.QueueStats{})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsPending))
}

func TestObserveHTTP(t *testing.T) {
	c := newTestCollector(t)

	c.ObserveHTTP("/api/poll", "GET", 200)
	c.ObserveHTTP("/api/poll", "GET", 400)
	c.ObserveHTTP("/api/poll", "GET", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/poll", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/poll", "GET", "400")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.RecordSubmit(false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "knock_jobs_submitted_total")
}
