package stats

import (
	"testing"
	"time"

	"github.com/lutefd/telemetry-api/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSummarizeRequests(t *testing.T) {
	snap := metrics.Snapshot{Requests: []metrics.RequestSample{
		{Timestamp: t0, DurationMs: 100, StatusCode: 200},
		{Timestamp: t0.Add(time.Second), DurationMs: 200, StatusCode: 200},
		{Timestamp: t0.Add(2 * time.Second), DurationMs: 300, StatusCode: 500},
	}}

	got := Summarize(snap)
	assert.Equal(t, 3, got.TotalRequests)
	assert.Equal(t, 2, got.SuccessfulRequests)
	assert.Equal(t, 1, got.FailedRequests)
	assert.Equal(t, 200.0, got.AverageResponseTimeMs)
}

func TestSummarizeBandwidth(t *testing.T) {
	snap := metrics.Snapshot{Bandwidth: []metrics.BandwidthSample{
		{BytesIn: 1024, BytesOut: 2048, RequestsPerSecond: 10},
		{BytesIn: 512, BytesOut: 1024, RequestsPerSecond: 20},
	}}

	got := Summarize(snap)
	assert.Equal(t, int64(1536), got.TotalBandwidthInBytes)
	assert.Equal(t, int64(3072), got.TotalBandwidthOutBytes)
	assert.Equal(t, 15.0, got.AverageRequestsPerSecond)
}

func TestSummarizeDatastore(t *testing.T) {
	snap := metrics.Snapshot{Datastore: []metrics.DatastoreSample{
		{Operation: "find", Collection: "clients", DurationMs: 10, Success: true},
		{Operation: "insert", Collection: "deals", DurationMs: 30, Success: false, Error: "duplicate key"},
		{Operation: "find", Collection: "emails", DurationMs: 20, Success: true},
	}}

	got := Summarize(snap)
	assert.Equal(t, 3, got.TotalDatastoreOperations)
	assert.Equal(t, 2, got.SuccessfulDatastoreOperations)
	assert.Equal(t, 1, got.FailedDatastoreOperations)
	assert.Equal(t, 20.0, got.AverageDatastoreTimeMs)
}

func TestSummarizeEmptyWindowIsAllZero(t *testing.T) {
	assert.Equal(t, SummaryStatistics{}, Summarize(metrics.Snapshot{}))
}

func TestStatusCodeBoundary(t *testing.T) {
	items := []metrics.RequestSample{{StatusCode: 399}, {StatusCode: 400}, {StatusCode: 302}}
	assert.Equal(t, 2, SuccessfulRequests(items))
}

func TestRequestDistributionCollapsesByRoute(t *testing.T) {
	items := []metrics.RequestSample{
		{Method: "GET", Path: "/api/clients/:id"},
		{Method: "DELETE", Path: "/api/clients/:id"},
		{Method: "GET", Path: "/api/deals"},
	}

	got := RequestDistribution(items)
	assert.Equal(t, Distribution{"/api/clients/:id": 2, "/api/deals": 1}, got)
	assert.Equal(t, len(items), got.Total())
}

func TestStatusDistribution(t *testing.T) {
	items := []metrics.RequestSample{{StatusCode: 200}, {StatusCode: 404}, {StatusCode: 200}}
	assert.Equal(t, Distribution{"200": 2, "404": 1}, StatusDistribution(items))
}

func TestDistributionsOnEmptyWindow(t *testing.T) {
	assert.Empty(t, RequestDistribution(nil))
	assert.Empty(t, StatusDistribution(nil))
	assert.Empty(t, ComputeEndpointPerformance(nil))
	assert.NotNil(t, RequestDistribution(nil))
}

func TestDistributionTopN(t *testing.T) {
	d := Distribution{"/b": 3, "/a": 3, "/c": 5, "/d": 1}

	assert.Equal(t, []DistributionEntry{{"/c", 5}, {"/a", 3}}, d.TopN(2))
	assert.Len(t, d.TopN(0), 4)
	assert.Len(t, d.TopN(10), 4)
}

func TestComputeEndpointPerformance(t *testing.T) {
	items := []metrics.RequestSample{
		{Path: "/api/users", DurationMs: 100, StatusCode: 200},
		{Path: "/api/users", DurationMs: 300, StatusCode: 201},
		{Path: "/api/auth", DurationMs: 50, StatusCode: 401},
	}

	got := ComputeEndpointPerformance(items)
	require.Len(t, got, 2)
	assert.Equal(t, EndpointStats{Count: 2, AverageDurationMs: 200, SuccessRate: 100, TotalDurationMs: 400}, got["/api/users"])
	assert.Equal(t, EndpointStats{Count: 1, AverageDurationMs: 50, SuccessRate: 0, TotalDurationMs: 50}, got["/api/auth"])
}

func TestEndpointSuccessRateIsPercentage(t *testing.T) {
	items := []metrics.RequestSample{
		{Path: "/x", StatusCode: 200},
		{Path: "/x", StatusCode: 500},
		{Path: "/x", StatusCode: 200},
		{Path: "/x", StatusCode: 200},
	}
	assert.Equal(t, 75.0, ComputeEndpointPerformance(items)["/x"].SuccessRate)
}
