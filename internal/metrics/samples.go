package metrics

import "time"

type Kind int

const (
	KindRequest Kind = iota
	KindDatastore
	KindBandwidth
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindDatastore:
		return "datastore"
	case KindBandwidth:
		return "bandwidth"
	default:
		return "unknown"
	}
}

// Sample is implemented only by the three sample types of this package.
type Sample interface {
	Kind() Kind
	Time() time.Time
	sample()
}

type RequestSample struct {
	Timestamp         time.Time `json:"timestamp"`
	Method            string    `json:"method"`
	Path              string    `json:"path"`
	StatusCode        int       `json:"statusCode"`
	DurationMs        float64   `json:"durationMs"`
	ResponseSizeBytes int64     `json:"responseSizeBytes"`
	UserAgent         string    `json:"userAgent,omitempty"`
	ClientIP          string    `json:"clientIp,omitempty"`
}

func (RequestSample) Kind() Kind        { return KindRequest }
func (s RequestSample) Time() time.Time { return s.Timestamp }
func (RequestSample) sample()           {}

// Succeeded reports whether the request is counted as successful.
func (s RequestSample) Succeeded() bool {
	return s.StatusCode < 400
}

type DatastoreSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	Collection string    `json:"collection"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

func (DatastoreSample) Kind() Kind        { return KindDatastore }
func (s DatastoreSample) Time() time.Time { return s.Timestamp }
func (DatastoreSample) sample()           {}

type BandwidthSample struct {
	Timestamp         time.Time `json:"timestamp"`
	BytesIn           int64     `json:"bytesIn"`
	BytesOut          int64     `json:"bytesOut"`
	RequestsPerSecond float64   `json:"requestsPerSecond"`
}

func (BandwidthSample) Kind() Kind        { return KindBandwidth }
func (s BandwidthSample) Time() time.Time { return s.Timestamp }
func (BandwidthSample) sample()           {}

// Snapshot holds the samples of every kind that fell inside one window.
type Snapshot struct {
	Window    Window
	Requests  []RequestSample
	Datastore []DatastoreSample
	Bandwidth []BandwidthSample
}
