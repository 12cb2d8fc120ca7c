package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lutefd/telemetry-api/internal/domain/stats"
	"github.com/lutefd/telemetry-api/internal/metrics"
	"go.uber.org/zap"
)

type Store interface {
	Snapshot(w metrics.Window) metrics.Snapshot
	Requests(w metrics.Window) []metrics.RequestSample
	Record(s metrics.Sample)
}

// Instrumentation receives timing and rejection events from the service.
type Instrumentation interface {
	ObserveQuery(name string, d time.Duration)
	IngestRejected(kind metrics.Kind)
}

type PeriodMetrics struct {
	stats.SummaryStatistics
	Timestamp string             `json:"timestamp"`
	Period    metrics.Period     `json:"period"`
	TimeRange *metrics.TimeRange `json:"timeRange,omitempty"`
}

type DistributionResult struct {
	Distribution stats.Distribution        `json:"distribution"`
	Top          []stats.DistributionEntry `json:"top,omitempty"`
	Timestamp    string                    `json:"timestamp"`
	Period       metrics.Period            `json:"period"`
	TimeRange    metrics.TimeRange         `json:"timeRange"`
}

type PerformanceResult struct {
	Performance stats.EndpointPerformance `json:"performance"`
	Timestamp   string                    `json:"timestamp"`
	Period      metrics.Period            `json:"period"`
	TimeRange   metrics.TimeRange         `json:"timeRange"`
}

// Selector picks the window of a breakdown query. An explicit Start/End pair
// wins over Period; an empty Period means the last 24 hours. Limit > 0 adds a
// top-N listing next to the full distribution.
type Selector struct {
	Period string
	Start  string
	End    string
	Limit  int
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithInstrumentation(i Instrumentation) Option {
	return func(s *Service) {
		s.instr = i
	}
}

// Service is the single entry point for reads and ingestion. It holds no
// state of its own between calls.
type Service struct {
	store    Store
	resolver *metrics.Resolver
	validate *validator.Validate
	log      *zap.Logger
	instr    Instrumentation
}

func NewService(store Store, resolver *metrics.Resolver, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		validate: newValidator(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RealTime() (PeriodMetrics, error) {
	return s.namedPeriodMetrics(metrics.PeriodRealtime)
}

func (s *Service) LastHour() (PeriodMetrics, error) {
	return s.namedPeriodMetrics(metrics.PeriodLastHour)
}

func (s *Service) Last24Hours() (PeriodMetrics, error) {
	return s.namedPeriodMetrics(metrics.PeriodLast24Hours)
}

func (s *Service) namedPeriodMetrics(p metrics.Period) (out PeriodMetrics, err error) {
	defer s.guard("summary."+string(p), time.Now(), &err)

	now := s.resolver.Now()
	w, err := s.resolver.ResolveNamedPeriodAt(p, now)
	if err != nil {
		return PeriodMetrics{}, translate(err)
	}
	return PeriodMetrics{
		SummaryStatistics: stats.Summarize(s.store.Snapshot(w)),
		Timestamp:         metrics.FormatInstant(now),
		Period:            p,
	}, nil
}

func (s *Service) Custom(startISO, endISO string) (out PeriodMetrics, err error) {
	defer s.guard("summary.custom", time.Now(), &err)

	now := s.resolver.Now()
	w, err := s.customWindow(startISO, endISO)
	if err != nil {
		return PeriodMetrics{}, err
	}
	tr := w.TimeRange()
	return PeriodMetrics{
		SummaryStatistics: stats.Summarize(s.store.Snapshot(w)),
		Timestamp:         metrics.FormatInstant(now),
		Period:            metrics.PeriodCustom,
		TimeRange:         &tr,
	}, nil
}

func (s *Service) RequestDistribution(sel Selector) (out DistributionResult, err error) {
	defer s.guard("distribution.requests", time.Now(), &err)
	return s.distribution(sel, stats.RequestDistribution)
}

func (s *Service) StatusDistribution(sel Selector) (out DistributionResult, err error) {
	defer s.guard("distribution.status", time.Now(), &err)
	return s.distribution(sel, stats.StatusDistribution)
}

func (s *Service) distribution(sel Selector, group func([]metrics.RequestSample) stats.Distribution) (DistributionResult, error) {
	w, p, now, err := s.resolve(sel)
	if err != nil {
		return DistributionResult{}, err
	}
	d := group(s.store.Requests(w))
	out := DistributionResult{
		Distribution: d,
		Timestamp:    metrics.FormatInstant(now),
		Period:       p,
		TimeRange:    w.TimeRange(),
	}
	if sel.Limit > 0 {
		out.Top = d.TopN(sel.Limit)
	}
	return out, nil
}

func (s *Service) EndpointPerformance(sel Selector) (out PerformanceResult, err error) {
	defer s.guard("performance.endpoints", time.Now(), &err)

	w, p, now, err := s.resolve(sel)
	if err != nil {
		return PerformanceResult{}, err
	}
	return PerformanceResult{
		Performance: stats.ComputeEndpointPerformance(s.store.Requests(w)),
		Timestamp:   metrics.FormatInstant(now),
		Period:      p,
		TimeRange:   w.TimeRange(),
	}, nil
}

func (s *Service) RecordRequest(p RequestPayload) (err error) {
	defer s.recoverIngest(metrics.KindRequest, &err)
	if err := s.ingestable(metrics.KindRequest, p); err != nil {
		return err
	}
	s.store.Record(p.Sample())
	return nil
}

func (s *Service) RecordDatastore(p DatastorePayload) (err error) {
	defer s.recoverIngest(metrics.KindDatastore, &err)
	if err := s.ingestable(metrics.KindDatastore, p); err != nil {
		return err
	}
	s.store.Record(p.Sample())
	return nil
}

func (s *Service) RecordBandwidth(p BandwidthPayload) (err error) {
	defer s.recoverIngest(metrics.KindBandwidth, &err)
	if err := s.ingestable(metrics.KindBandwidth, p); err != nil {
		return err
	}
	s.store.Record(p.Sample())
	return nil
}

func (s *Service) ingestable(kind metrics.Kind, payload any) error {
	err := validatePayload(s.validate, kind, payload)
	if err == nil {
		return nil
	}
	if s.instr != nil {
		s.instr.IngestRejected(kind)
	}
	if v, ok := AsValidation(err); ok {
		s.log.Warn("metric rejected",
			zap.Stringer("kind", kind),
			zap.String("code", string(v.Code)),
			zap.Strings("fields", v.Fields),
		)
	}
	return err
}

// recoverIngest keeps a failure while validating or storing a sample from
// reaching the producer as a panic.
func (s *Service) recoverIngest(kind metrics.Kind, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	op := "ingest." + kind.String()
	*errp = &InternalError{Op: op, Err: fmt.Errorf("panic: %v", r)}
	s.log.Error("ingestion failed", zap.String("op", op), zap.Error(*errp))
}

func (s *Service) resolve(sel Selector) (metrics.Window, metrics.Period, time.Time, error) {
	now := s.resolver.Now()
	if sel.Start != "" || sel.End != "" {
		w, err := s.customWindow(sel.Start, sel.End)
		return w, metrics.PeriodCustom, now, err
	}
	p, err := metrics.ParsePeriod(sel.Period)
	if err != nil {
		return metrics.Window{}, "", now, translate(err)
	}
	w, err := s.resolver.ResolveNamedPeriodAt(p, now)
	if err != nil {
		return metrics.Window{}, "", now, translate(err)
	}
	return w, p, now, nil
}

// Range validates a start/end pair exactly as Custom does.
func (s *Service) Range(startISO, endISO string) (metrics.Window, error) {
	return s.customWindow(startISO, endISO)
}

func (s *Service) customWindow(startISO, endISO string) (metrics.Window, error) {
	if startISO == "" || endISO == "" {
		return metrics.Window{}, &ValidationError{Code: CodeMissingRange, Message: MsgMissingRange}
	}
	w, err := s.resolver.ResolveCustomRange(startISO, endISO)
	if err != nil {
		return metrics.Window{}, translate(err)
	}
	return w, nil
}

// guard records the query duration and converts a panic from a calculator
// into an InternalError so it never escapes the service.
func (s *Service) guard(op string, started time.Time, errp *error) {
	if r := recover(); r != nil {
		*errp = &InternalError{Op: op, Err: fmt.Errorf("panic: %v", r)}
	}
	if s.instr != nil {
		s.instr.ObserveQuery(op, time.Since(started))
	}
	if *errp != nil && !IsValidation(*errp) {
		s.log.Error("query failed", zap.String("op", op), zap.Error(*errp))
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metrics.ErrInvalidDateFormat):
		return &ValidationError{Code: CodeInvalidDate, Message: MsgInvalidDate, Err: err}
	case errors.Is(err, metrics.ErrInvalidRange):
		return &ValidationError{Code: CodeInvalidRange, Message: MsgInvalidRange, Err: err}
	case errors.Is(err, metrics.ErrUnknownPeriod):
		return &ValidationError{Code: CodeUnknownPeriod, Message: MsgUnknownPeriod, Err: err}
	default:
		return err
	}
}
