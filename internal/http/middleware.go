package httpserver

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lutefd/telemetry-api/internal/logger"
	"github.com/lutefd/telemetry-api/internal/metrics"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Recorder receives one sample per routed request.
type Recorder interface {
	Record(s metrics.Sample)
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func requestIDMiddleware(base *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithContext(r.Context(), logger.WithRequestID(base, id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe logs each request and, when rec is set, records it as a request
// sample keyed by the matched route pattern. Requests that matched no route,
// and patterns listed in skip, are logged but not recorded.
func observe(base *zap.Logger, rec Recorder, skip map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := routeOf(r.Pattern)
		logger.FromContext(r.Context(), base).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", sw.code()),
			zap.Int64("bytes", sw.bytes),
			zap.Duration("duration", elapsed),
		)

		if rec == nil || route == "" || skip[route] {
			return
		}
		rec.Record(metrics.RequestSample{
			Method:            r.Method,
			Path:              route,
			StatusCode:        sw.code(),
			DurationMs:        float64(elapsed.Microseconds()) / 1000,
			ResponseSizeBytes: sw.bytes,
			UserAgent:         r.UserAgent(),
			ClientIP:          clientIP(r),
		})
	})
}

// routeOf strips the method from a mux pattern such as "GET /metrics/custom".
func routeOf(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
