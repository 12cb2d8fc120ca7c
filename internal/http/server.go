package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/lutefd/telemetry-api/internal/auth"
	"github.com/lutefd/telemetry-api/internal/logger"
	"github.com/lutefd/telemetry-api/internal/projections"
	"github.com/lutefd/telemetry-api/internal/query"
	"go.uber.org/zap"
)

const (
	msgRequestRecorded   = "Métrique de requête enregistrée"
	msgDatastoreRecorded = "Métrique de base de données enregistrée"
	msgBandwidthRecorded = "Métrique de bande passante enregistrée"
)

type History interface {
	ListRollups(ctx context.Context, from, to time.Time) ([]projections.Rollup, error)
}

type Dependencies struct {
	Query *query.Service
	// Recorder receives the server's own request samples; nil disables
	// self-instrumentation.
	Recorder Recorder
	// History serves archived rollups; nil leaves the route unregistered.
	History   History
	Stream    http.Handler
	Telemetry http.Handler
	APIToken  string
	Logger    *zap.Logger
}

type Server struct {
	query     *query.Service
	recorder  Recorder
	history   History
	stream    http.Handler
	telemetry http.Handler
	auth      auth.Middleware
	log       *zap.Logger
}

func NewServer(deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		query:     deps.Query,
		recorder:  deps.Recorder,
		history:   deps.History,
		stream:    deps.Stream,
		telemetry: deps.Telemetry,
		auth:      auth.NewMiddleware(deps.APIToken, "/healthz"),
		log:       log,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics/realtime", s.handleSummary(s.query.RealTime))
	mux.HandleFunc("GET /metrics/last-hour", s.handleSummary(s.query.LastHour))
	mux.HandleFunc("GET /metrics/last-24-hours", s.handleSummary(s.query.Last24Hours))
	mux.HandleFunc("GET /metrics/custom", s.handleCustom)
	mux.HandleFunc("GET /metrics/distribution/requests", s.handleRequestDistribution)
	mux.HandleFunc("GET /metrics/distribution/status", s.handleStatusDistribution)
	mux.HandleFunc("GET /metrics/performance/endpoints", s.handleEndpointPerformance)
	mux.HandleFunc("POST /metrics/requests", s.handleRecordRequest)
	mux.HandleFunc("POST /metrics/datastore", s.handleRecordDatastore)
	mux.HandleFunc("POST /metrics/bandwidth", s.handleRecordBandwidth)
	if s.history != nil {
		mux.HandleFunc("GET /metrics/history", s.handleHistory)
	}
	if s.stream != nil {
		mux.Handle("GET /metrics/stream", s.stream)
	}
	if s.telemetry != nil {
		mux.Handle("GET /internal/metrics", s.telemetry)
	}

	skip := map[string]bool{"/healthz": true, "/metrics/stream": true, "/internal/metrics": true}
	return requestIDMiddleware(s.log, observe(s.log, s.recorder, skip, s.auth.Guard(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(fn func() (query.PeriodMetrics, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn()
		if err != nil {
			writeError(w, s.logFor(r), err)
			return
		}
		writeData(w, out)
	}
}

func (s *Server) handleCustom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.query.Custom(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleRequestDistribution(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelector(r)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	out, err := s.query.RequestDistribution(sel)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleStatusDistribution(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelector(r)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	out, err := s.query.StatusDistribution(sel)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleEndpointPerformance(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelector(r)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	out, err := s.query.EndpointPerformance(sel)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleRecordRequest(w http.ResponseWriter, r *http.Request) {
	var payload query.RequestPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	if err := s.query.RecordRequest(payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeMessage(w, msgRequestRecorded)
}

func (s *Server) handleRecordDatastore(w http.ResponseWriter, r *http.Request) {
	var payload query.DatastorePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	if err := s.query.RecordDatastore(payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeMessage(w, msgDatastoreRecorded)
}

func (s *Server) handleRecordBandwidth(w http.ResponseWriter, r *http.Request) {
	var payload query.BandwidthPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	if err := s.query.RecordBandwidth(payload); err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeMessage(w, msgBandwidthRecorded)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := s.query.Range(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	items, err := s.history.ListRollups(r.Context(), win.Start, win.End)
	if err != nil {
		writeError(w, s.logFor(r), err)
		return
	}
	writeData(w, map[string]any{
		"rollups":   items,
		"timeRange": win.TimeRange(),
	})
}

func (s *Server) logFor(r *http.Request) *zap.Logger {
	return logger.FromContext(r.Context(), s.log)
}

func parseSelector(r *http.Request) (query.Selector, error) {
	q := r.URL.Query()
	sel := query.Selector{
		Period: q.Get("period"),
		Start:  q.Get("start"),
		End:    q.Get("end"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return query.Selector{}, &query.ValidationError{
				Code:    query.CodeInvalidField,
				Message: "Valeur invalide pour : limit",
				Fields:  []string{"limit"},
				Err:     err,
			}
		}
		sel.Limit = n
	}
	return sel, nil
}
