package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lutefd/telemetry-api/internal/domain/stats"
	"github.com/lutefd/telemetry-api/internal/metrics"
	"github.com/lutefd/telemetry-api/internal/projections"
	"github.com/lutefd/telemetry-api/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var now = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	store   *metrics.Store
	clock   *clocktesting.FakeClock
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	clk := clocktesting.NewFakeClock(now)
	store, err := metrics.NewStore(metrics.Options{Clock: clk})
	require.NoError(t, err)
	svc := query.NewService(store, metrics.NewResolver(clk, 0))
	srv := NewServer(Dependencies{
		Query:     svc,
		Recorder:  store,
		Telemetry: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		APIToken:  token,
	})
	return &fixture{handler: srv.Router(), store: store, clock: clk}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestNamedPeriodRoutes(t *testing.T) {
	f := newFixture(t, "")
	for path, period := range map[string]string{
		"/metrics/realtime":      "realtime",
		"/metrics/last-hour":     "lastHour",
		"/metrics/last-24-hours": "last24Hours",
	} {
		t.Run(path, func(t *testing.T) {
			rec, out := f.do(t, http.MethodGet, path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, out.Success)

			var data map[string]any
			require.NoError(t, json.Unmarshal(out.Data, &data))
			assert.Equal(t, period, data["period"])
			assert.Equal(t, "2024-01-02T12:00:00.000Z", data["timestamp"])
			assert.Contains(t, data, "totalRequests")
			assert.Contains(t, data, "averageRequestsPerSecond")
			assert.NotContains(t, data, "timeRange")
		})
	}
}

func TestCustomRouteErrors(t *testing.T) {
	f := newFixture(t, "")
	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{"missing", url.Values{"start": {"2024-01-01T00:00:00Z"}}, query.MsgMissingRange},
		{"malformed", url.Values{"start": {"yesterday"}, "end": {"2024-01-01T00:00:00Z"}}, query.MsgInvalidDate},
		{"reversed", url.Values{"start": {"2024-01-02T00:00:00Z"}, "end": {"2024-01-01T00:00:00Z"}}, query.MsgInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := f.do(t, http.MethodGet, "/metrics/custom?"+tt.query.Encode(), "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, out.Success)
			assert.Equal(t, tt.want, out.Message)
		})
	}
}

func TestCustomRouteEchoesTimeRange(t *testing.T) {
	f := newFixture(t, "")
	f.store.RecordRequest(metrics.RequestSample{Timestamp: now.Add(-time.Hour), Path: "/api/deals", StatusCode: 200, DurationMs: 40})

	q := url.Values{"start": {"2024-01-02T10:00:00Z"}, "end": {"2024-01-02T12:00:00Z"}}
	rec, out := f.do(t, http.MethodGet, "/metrics/custom?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data query.PeriodMetrics
	require.NoError(t, json.Unmarshal(out.Data, &data))
	assert.Equal(t, metrics.PeriodCustom, data.Period)
	require.NotNil(t, data.TimeRange)
	assert.Equal(t, "2024-01-02T10:00:00.000Z", data.TimeRange.Start)
	assert.Equal(t, 1, data.TotalRequests)
	assert.Equal(t, 40.0, data.AverageResponseTimeMs)
}

func TestIngestThenQueryDistribution(t *testing.T) {
	f := newFixture(t, "")

	for i := 0; i < 3; i++ {
		rec, out := f.do(t, http.MethodPost, "/metrics/requests",
			`{"method":"GET","path":"/api/users","statusCode":200,"duration":12.5}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, out.Success)
		assert.Equal(t, msgRequestRecorded, out.Message)
	}
	rec, _ := f.do(t, http.MethodPost, "/metrics/requests",
		`{"method":"GET","path":"/api/users/:id","statusCode":404,"duration":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	f.clock.Step(time.Second)

	rec, out := f.do(t, http.MethodGet, "/metrics/distribution/requests?period=realtime&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dist query.DistributionResult
	require.NoError(t, json.Unmarshal(out.Data, &dist))
	assert.Equal(t, metrics.PeriodRealtime, dist.Period)
	assert.Equal(t, 3, dist.Distribution["/api/users"])
	assert.Equal(t, 1, dist.Distribution["/api/users/:id"])
	assert.Equal(t, 4, dist.Distribution["/metrics/requests"])
	require.Len(t, dist.Top, 1)

	rec, out = f.do(t, http.MethodGet, "/metrics/distribution/status?period=realtime", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status query.DistributionResult
	require.NoError(t, json.Unmarshal(out.Data, &status))
	// three ingested plus the four self-recorded POSTs
	assert.Equal(t, 7, status.Distribution["200"])
	assert.Equal(t, 1, status.Distribution["404"])
	assert.Nil(t, status.Top)
}

func TestPerformanceRoute(t *testing.T) {
	f := newFixture(t, "")
	f.store.RecordRequest(metrics.RequestSample{Timestamp: now.Add(-time.Minute), Path: "/api/users", DurationMs: 100, StatusCode: 200})
	f.store.RecordRequest(metrics.RequestSample{Timestamp: now.Add(-time.Minute), Path: "/api/users", DurationMs: 300, StatusCode: 200})
	f.store.RecordRequest(metrics.RequestSample{Timestamp: now.Add(-time.Minute), Path: "/api/auth", DurationMs: 50, StatusCode: 500})

	rec, out := f.do(t, http.MethodGet, "/metrics/performance/endpoints?period=lastHour", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var perf query.PerformanceResult
	require.NoError(t, json.Unmarshal(out.Data, &perf))
	assert.Equal(t, 2, perf.Performance["/api/users"].Count)
	assert.Equal(t, 200.0, perf.Performance["/api/users"].AverageDurationMs)
	assert.Equal(t, 0.0, perf.Performance["/api/auth"].SuccessRate)
	assert.Equal(t, "2024-01-02T11:00:00.000Z", perf.TimeRange.Start)
}

func TestBreakdownValidation(t *testing.T) {
	f := newFixture(t, "")

	rec, out := f.do(t, http.MethodGet, "/metrics/distribution/requests?period=lastWeek", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, query.MsgUnknownPeriod, out.Message)

	rec, out = f.do(t, http.MethodGet, "/metrics/distribution/status?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out.Message, "limit")
}

func TestIngestionValidation(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/metrics/requests", `{"method":"GET"}`, query.MissingFieldsMessage(metrics.KindRequest)},
		{"/metrics/datastore", `{"operation":"find","collection":"deals","duration":2}`, query.MissingFieldsMessage(metrics.KindDatastore)},
		{"/metrics/bandwidth", `{"bytesIn":10}`, query.MissingFieldsMessage(metrics.KindBandwidth)},
		{"/metrics/bandwidth", `{"bytesIn":`, query.MsgInvalidBody},
		{"/metrics/requests", `{"method":" ","path":"/x","statusCode":200,"duration":1}`, query.MissingFieldsMessage(metrics.KindRequest)},
		{"/metrics/datastore", `{"operation":"find","collection":"","duration":2,"success":true}`, query.MissingFieldsMessage(metrics.KindDatastore)},
	}
	for _, tt := range tests {
		rec, out := f.do(t, http.MethodPost, tt.path, tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.path)
		assert.False(t, out.Success)
		assert.Equal(t, tt.want, out.Message)
	}
	assert.Zero(t, f.store.Len(metrics.KindDatastore))
	assert.Zero(t, f.store.Len(metrics.KindBandwidth))
	for _, s := range f.store.Requests(metrics.Window{Start: now, End: now.Add(time.Second)}) {
		assert.NotEqual(t, "/x", s.Path)
	}
}

func TestDatastoreAndBandwidthIngestion(t *testing.T) {
	f := newFixture(t, "")

	rec, out := f.do(t, http.MethodPost, "/metrics/datastore",
		`{"operation":"find","collection":"deals","duration":2,"success":false,"error":"timeout"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgDatastoreRecorded, out.Message)

	rec, out = f.do(t, http.MethodPost, "/metrics/bandwidth",
		`{"bytesIn":1024,"bytesOut":2048,"requestsPerSecond":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgBandwidthRecorded, out.Message)

	ops := f.store.DatastoreOperations(metrics.Window{Start: now, End: now.Add(time.Second)})
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Success)
	assert.Equal(t, "timeout", ops[0].Error)

	f.clock.Step(time.Second)
	_, out = f.do(t, http.MethodGet, "/metrics/realtime", "")
	var data query.PeriodMetrics
	require.NoError(t, json.Unmarshal(out.Data, &data))
	assert.Equal(t, 1, data.FailedDatastoreOperations)
	assert.Equal(t, int64(1024), data.TotalBandwidthInBytes)
	assert.Equal(t, 10.0, data.AverageRequestsPerSecond)
}

func TestSelfInstrumentationUsesRouteTemplate(t *testing.T) {
	f := newFixture(t, "")

	f.do(t, http.MethodGet, "/metrics/custom?start=a&end=b", "")
	f.do(t, http.MethodGet, "/metrics/custom?start=c&end=d", "")
	f.do(t, http.MethodGet, "/healthz", "")
	f.do(t, http.MethodGet, "/internal/metrics", "")
	f.do(t, http.MethodGet, "/does-not-exist", "")

	got := f.store.Requests(metrics.Window{Start: now, End: now.Add(time.Second)})
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Equal(t, "/metrics/custom", s.Path)
		assert.Equal(t, http.MethodGet, s.Method)
		assert.Equal(t, http.StatusBadRequest, s.StatusCode)
		assert.Positive(t, s.ResponseSizeBytes)
		assert.Equal(t, "192.0.2.1", s.ClientIP)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestTokenGuard(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec, _ := f.do(t, http.MethodGet, "/metrics/realtime", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics/realtime", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type panicStore struct{ query.Store }

func (panicStore) Snapshot(metrics.Window) metrics.Snapshot { panic("boom") }

func TestUnexpectedFailureIs500(t *testing.T) {
	clk := clocktesting.NewFakeClock(now)
	srv := NewServer(Dependencies{Query: query.NewService(panicStore{}, metrics.NewResolver(clk, 0))})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/last-hour", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Success)
	assert.Equal(t, query.MsgInternal, out.Message)
	assert.Contains(t, out.Error, "boom")
}

type historyStub struct {
	from, to time.Time
	rollups  []projections.Rollup
	err      error
}

func (h *historyStub) ListRollups(_ context.Context, from, to time.Time) ([]projections.Rollup, error) {
	h.from, h.to = from, to
	return h.rollups, h.err
}

func TestHistoryRoute(t *testing.T) {
	clk := clocktesting.NewFakeClock(now)
	store, err := metrics.NewStore(metrics.Options{Clock: clk})
	require.NoError(t, err)
	stub := &historyStub{rollups: []projections.Rollup{{
		WindowStart: now.Add(-time.Minute),
		WindowEnd:   now,
		Summary:     stats.SummaryStatistics{TotalRequests: 4},
	}}}
	h := NewServer(Dependencies{
		Query:   query.NewService(store, metrics.NewResolver(clk, 0)),
		History: stub,
	}).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/history?start=2024-01-02T11:00:00Z&end=2024-01-02T12:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, now.Add(-time.Hour), stub.from)
	assert.Equal(t, now, stub.to)

	var out struct {
		Data struct {
			Rollups   []projections.Rollup `json:"rollups"`
			TimeRange metrics.TimeRange    `json:"timeRange"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data.Rollups, 1)
	assert.Equal(t, 4, out.Data.Rollups[0].Summary.TotalRequests)
	assert.Equal(t, "2024-01-02T11:00:00.000Z", out.Data.TimeRange.Start)

	stub.err = errors.New("pool closed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/history?start=2024-01-02T11:00:00Z&end=2024-01-02T12:00:00Z", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
