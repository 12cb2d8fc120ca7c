package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultRetention     = 25 * time.Hour
	DefaultSweepInterval = time.Minute
	MinRetention         = 24 * time.Hour
)

// Observer is notified when samples enter or leave the store.
type Observer interface {
	SampleRecorded(kind Kind)
	SamplesEvicted(kind Kind, n int)
}

type Options struct {
	Retention     time.Duration
	SweepInterval time.Duration
	Clock         clock.WithTicker
	Observer      Observer
	Logger        *zap.Logger
}

func (o Options) Validate() error {
	if o.Retention < MinRetention {
		return fmt.Errorf("retention must be at least %s, got %s", MinRetention, o.Retention)
	}
	if o.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0, got %s", o.SweepInterval)
	}
	return nil
}

// Store keeps every sample kind in memory until it ages past the retention
// horizon. Recording never waits on a window scan: readers only hold the
// lock long enough to capture the current slice header.
type Store struct {
	opts Options
	log  *zap.Logger

	requests  series[RequestSample]
	datastore series[DatastoreSample]
	bandwidth series[BandwidthSample]

	sweepMu sync.Mutex
}

func NewStore(opts Options) (*Store, error) {
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store options: %w", err)
	}
	return &Store{opts: opts, log: opts.Logger}, nil
}

func (s *Store) Retention() time.Duration {
	return s.opts.Retention
}

func (s *Store) Record(sample Sample) {
	switch v := sample.(type) {
	case RequestSample:
		s.RecordRequest(v)
	case DatastoreSample:
		s.RecordDatastoreOperation(v)
	case BandwidthSample:
		s.RecordBandwidth(v)
	case *RequestSample:
		if v != nil {
			s.RecordRequest(*v)
		}
	case *DatastoreSample:
		if v != nil {
			s.RecordDatastoreOperation(*v)
		}
	case *BandwidthSample:
		if v != nil {
			s.RecordBandwidth(*v)
		}
	}
}

func (s *Store) RecordRequest(v RequestSample) {
	if v.Timestamp.IsZero() {
		v.Timestamp = s.opts.Clock.Now()
	}
	s.requests.add(v)
	s.recorded(KindRequest)
}

func (s *Store) RecordDatastoreOperation(v DatastoreSample) {
	if v.Timestamp.IsZero() {
		v.Timestamp = s.opts.Clock.Now()
	}
	if v.Success {
		v.Error = ""
	}
	s.datastore.add(v)
	s.recorded(KindDatastore)
}

func (s *Store) RecordBandwidth(v BandwidthSample) {
	if v.Timestamp.IsZero() {
		v.Timestamp = s.opts.Clock.Now()
	}
	s.bandwidth.add(v)
	s.recorded(KindBandwidth)
}

func (s *Store) recorded(k Kind) {
	if s.opts.Observer != nil {
		s.opts.Observer.SampleRecorded(k)
	}
}

func (s *Store) Requests(w Window) []RequestSample {
	return s.requests.in(w)
}

func (s *Store) DatastoreOperations(w Window) []DatastoreSample {
	return s.datastore.in(w)
}

func (s *Store) Bandwidth(w Window) []BandwidthSample {
	return s.bandwidth.in(w)
}

// SamplesInWindow returns the samples of one kind as the Sample variant.
func (s *Store) SamplesInWindow(kind Kind, w Window) []Sample {
	switch kind {
	case KindRequest:
		return asSamples(s.requests.in(w))
	case KindDatastore:
		return asSamples(s.datastore.in(w))
	case KindBandwidth:
		return asSamples(s.bandwidth.in(w))
	default:
		return nil
	}
}

func (s *Store) Snapshot(w Window) Snapshot {
	return Snapshot{
		Window:    w,
		Requests:  s.requests.in(w),
		Datastore: s.datastore.in(w),
		Bandwidth: s.bandwidth.in(w),
	}
}

func (s *Store) Len(kind Kind) int {
	switch kind {
	case KindRequest:
		return len(s.requests.view())
	case KindDatastore:
		return len(s.datastore.view())
	case KindBandwidth:
		return len(s.bandwidth.view())
	default:
		return 0
	}
}

// Sweep drops every sample older than the retention horizon and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	cutoff := s.opts.Clock.Now().Add(-s.opts.Retention)
	evicted := map[Kind]int{
		KindRequest:   s.requests.evictBefore(cutoff),
		KindDatastore: s.datastore.evictBefore(cutoff),
		KindBandwidth: s.bandwidth.evictBefore(cutoff),
	}

	total := 0
	for kind, n := range evicted {
		if n == 0 {
			continue
		}
		total += n
		if s.opts.Observer != nil {
			s.opts.Observer.SamplesEvicted(kind, n)
		}
	}
	if total > 0 {
		s.log.Debug("samples evicted",
			zap.Int("requests", evicted[KindRequest]),
			zap.Int("datastore", evicted[KindDatastore]),
			zap.Int("bandwidth", evicted[KindBandwidth]),
			zap.Time("cutoff", cutoff),
		)
	}
	return total
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := s.opts.Clock.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Sweep()
		}
	}
}

func asSamples[T Sample](items []T) []Sample {
	out := make([]Sample, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// series is an append-only slice. Elements below a captured length are never
// written again; eviction swaps in a fresh backing array.
type series[T Sample] struct {
	mu    sync.Mutex
	items []T
}

func (s *series[T]) add(v T) {
	s.mu.Lock()
	s.items = append(s.items, v)
	s.mu.Unlock()
}

func (s *series[T]) view() []T {
	s.mu.Lock()
	n := len(s.items)
	items := s.items[:n:n]
	s.mu.Unlock()
	return items
}

func (s *series[T]) in(w Window) []T {
	out := make([]T, 0)
	for _, item := range s.view() {
		if w.Contains(item.Time()) {
			out = append(out, item)
		}
	}
	return out
}

// evictBefore must not run concurrently with itself; Store.Sweep serializes it.
func (s *series[T]) evictBefore(cutoff time.Time) int {
	items := s.view()
	stale := 0
	for _, item := range items {
		if item.Time().Before(cutoff) {
			stale++
		}
	}
	if stale == 0 {
		return 0
	}

	kept := make([]T, 0, len(items)-stale)
	for _, item := range items {
		if !item.Time().Before(cutoff) {
			kept = append(kept, item)
		}
	}

	s.mu.Lock()
	kept = append(kept, s.items[len(items):]...)
	s.items = kept
	s.mu.Unlock()
	return stale
}
