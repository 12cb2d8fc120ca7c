package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

var (
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidRange      = errors.New("start must be before end")
	ErrUnknownPeriod     = errors.New("unknown period")
)

const InstantLayout = "2006-01-02T15:04:05.000Z"

type Period string

const (
	PeriodRealtime    Period = "realtime"
	PeriodLastHour    Period = "lastHour"
	PeriodLast24Hours Period = "last24Hours"
	PeriodCustom      Period = "custom"
)

const DefaultRealtimeSpan = 30 * time.Second

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: window bounds must be set", ErrInvalidDateFormat)
	}
	if !w.Start.Before(w.End) {
		return ErrInvalidRange
	}
	return nil
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// TimeRange is the wire form of a window.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w Window) TimeRange() TimeRange {
	return TimeRange{Start: FormatInstant(w.Start), End: FormatInstant(w.End)}
}

func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// ParsePeriod maps a query value onto a named period. An empty value selects
// the last 24 hours.
func ParsePeriod(raw string) (Period, error) {
	switch Period(strings.TrimSpace(raw)) {
	case "":
		return PeriodLast24Hours, nil
	case PeriodRealtime:
		return PeriodRealtime, nil
	case PeriodLastHour:
		return PeriodLastHour, nil
	case PeriodLast24Hours:
		return PeriodLast24Hours, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
}

type Resolver struct {
	clock        clock.PassiveClock
	realtimeSpan time.Duration
}

func NewResolver(c clock.PassiveClock, realtimeSpan time.Duration) *Resolver {
	if c == nil {
		c = clock.RealClock{}
	}
	if realtimeSpan <= 0 {
		realtimeSpan = DefaultRealtimeSpan
	}
	return &Resolver{clock: c, realtimeSpan: realtimeSpan}
}

func (r *Resolver) Now() time.Time {
	return r.clock.Now()
}

func (r *Resolver) RealtimeSpan() time.Duration {
	return r.realtimeSpan
}

func (r *Resolver) ResolveNamedPeriod(p Period) (Window, error) {
	return r.ResolveNamedPeriodAt(p, r.clock.Now())
}

// ResolveNamedPeriodAt resolves p relative to now, letting callers share one
// instant across several calculations.
func (r *Resolver) ResolveNamedPeriodAt(p Period, now time.Time) (Window, error) {
	var span time.Duration
	switch p {
	case PeriodRealtime:
		span = r.realtimeSpan
	case PeriodLastHour:
		span = time.Hour
	case PeriodLast24Hours:
		span = 24 * time.Hour
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, string(p))
	}
	return Window{Start: now.Add(-span), End: now}, nil
}

func (r *Resolver) ResolveCustomRange(startISO, endISO string) (Window, error) {
	start, err := ParseInstant(startISO)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseInstant(endISO)
	if err != nil {
		return Window{}, err
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: %s >= %s", ErrInvalidRange, FormatInstant(start), FormatInstant(end))
	}
	return Window{Start: start, End: end}, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseInstant accepts ISO-8601 date-times; values without a zone are UTC.
func ParseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDateFormat)
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
}
