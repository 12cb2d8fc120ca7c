package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lutefd/telemetry-api/internal/domain/stats"
	"github.com/lutefd/telemetry-api/internal/events"
	"github.com/lutefd/telemetry-api/internal/metrics"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const DefaultInterval = time.Minute

// Rollup is the archived summary of one closed interval.
type Rollup struct {
	ID          uuid.UUID                 `json:"id"`
	WindowStart time.Time                 `json:"windowStart"`
	WindowEnd   time.Time                 `json:"windowEnd"`
	Summary     stats.SummaryStatistics   `json:"summary"`
	Endpoints   stats.EndpointPerformance `json:"endpoints"`
	CreatedAt   time.Time                 `json:"createdAt"`
}

type Source interface {
	Snapshot(w metrics.Window) metrics.Snapshot
}

type Archive interface {
	SaveRollup(ctx context.Context, r Rollup) error
}

type Option func(*Service)

func WithClock(c clock.WithTicker) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBus(b *events.Bus) Option {
	return func(s *Service) {
		s.bus = b
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type Service struct {
	source   Source
	archive  Archive
	clock    clock.WithTicker
	interval time.Duration
	bus      *events.Bus
	log      *zap.Logger
}

func NewService(source Source, archive Archive, opts ...Option) *Service {
	s := &Service{
		source:   source,
		archive:  archive,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Interval() time.Duration {
	return s.interval
}

// Project summarizes [end-interval, end) and saves it to the archive.
func (s *Service) Project(ctx context.Context, end time.Time) (Rollup, error) {
	w, err := metrics.NewWindow(end.Add(-s.interval), end)
	if err != nil {
		return Rollup{}, err
	}
	snap := s.source.Snapshot(w)
	r := Rollup{
		ID:          uuid.New(),
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Summary:     stats.Summarize(snap),
		Endpoints:   stats.ComputeEndpointPerformance(snap.Requests),
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.archive.SaveRollup(ctx, r); err != nil {
		return Rollup{}, fmt.Errorf("save rollup %s: %w", metrics.FormatInstant(w.Start), err)
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.Event{Name: events.RollupArchived, Payload: r}); err != nil {
			s.log.Warn("rollup subscribers failed", zap.Error(err))
		}
	}
	return r, nil
}

// Run projects each interval as soon as it closes, aligned to interval
// boundaries on the clock. Archive failures are logged and the loop goes on.
func (s *Service) Run(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := now.Truncate(s.interval).Add(s.interval)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(next.Sub(now)):
		}

		r, err := s.Project(ctx, next)
		if err != nil {
			s.log.Error("rollup failed", zap.Time("window_end", next), zap.Error(err))
			continue
		}
		s.log.Debug("rollup archived",
			zap.Time("window_start", r.WindowStart),
			zap.Int("requests", r.Summary.TotalRequests),
		)
	}
}
