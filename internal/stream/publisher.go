package stream

import (
	"context"
	"time"

	"github.com/lutefd/telemetry-api/internal/events"
	"github.com/lutefd/telemetry-api/internal/query"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type Source interface {
	RealTime() (query.PeriodMetrics, error)
}

// Publisher pushes the realtime summary onto the bus at a fixed interval.
type Publisher struct {
	source   Source
	bus      *events.Bus
	clock    clock.WithTicker
	interval time.Duration
	log      *zap.Logger
}

func NewPublisher(source Source, bus *events.Bus, c clock.WithTicker, interval time.Duration, log *zap.Logger) *Publisher {
	if c == nil {
		c = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{source: source, bus: bus, clock: c, interval: interval, log: log}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if p.bus.Subscribers(events.RealtimeSnapshot) == 0 {
				continue
			}
			if err := p.PublishOnce(ctx); err != nil {
				p.log.Warn("realtime publish failed", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) PublishOnce(ctx context.Context) error {
	snap, err := p.source.RealTime()
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, events.Event{Name: events.RealtimeSnapshot, Payload: snap})
}
