package stats

import (
	"sort"
	"strconv"

	"github.com/lutefd/telemetry-api/internal/metrics"
)

func Summarize(snap metrics.Snapshot) SummaryStatistics {
	var out SummaryStatistics

	out.TotalRequests = len(snap.Requests)
	out.SuccessfulRequests = SuccessfulRequests(snap.Requests)
	out.FailedRequests = out.TotalRequests - out.SuccessfulRequests
	out.AverageResponseTimeMs = AverageRequestDuration(snap.Requests)

	out.TotalDatastoreOperations = len(snap.Datastore)
	for _, op := range snap.Datastore {
		if op.Success {
			out.SuccessfulDatastoreOperations++
		}
	}
	out.FailedDatastoreOperations = out.TotalDatastoreOperations - out.SuccessfulDatastoreOperations
	out.AverageDatastoreTimeMs = AverageDatastoreDuration(snap.Datastore)

	var rpsSum float64
	for _, b := range snap.Bandwidth {
		out.TotalBandwidthInBytes += b.BytesIn
		out.TotalBandwidthOutBytes += b.BytesOut
		rpsSum += b.RequestsPerSecond
	}
	if len(snap.Bandwidth) > 0 {
		out.AverageRequestsPerSecond = rpsSum / float64(len(snap.Bandwidth))
	}

	return out
}

func SuccessfulRequests(items []metrics.RequestSample) int {
	n := 0
	for _, r := range items {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

func AverageRequestDuration(items []metrics.RequestSample) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, r := range items {
		sum += r.DurationMs
	}
	return sum / float64(len(items))
}

func AverageDatastoreDuration(items []metrics.DatastoreSample) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, op := range items {
		sum += op.DurationMs
	}
	return sum / float64(len(items))
}

func RequestDistribution(items []metrics.RequestSample) Distribution {
	out := make(Distribution)
	for _, r := range items {
		out[r.Path]++
	}
	return out
}

func StatusDistribution(items []metrics.RequestSample) Distribution {
	out := make(Distribution)
	for _, r := range items {
		out[strconv.Itoa(r.StatusCode)]++
	}
	return out
}

// Total sums every group of the distribution.
func (d Distribution) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// TopN orders groups by descending count, breaking ties by key. n <= 0
// returns every group.
func (d Distribution) TopN(n int) []DistributionEntry {
	out := make([]DistributionEntry, 0, len(d))
	for key, count := range d {
		out = append(out, DistributionEntry{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ComputeEndpointPerformance groups by route template only, so two methods on
// the same route share one entry.
func ComputeEndpointPerformance(items []metrics.RequestSample) EndpointPerformance {
	type acc struct {
		count     int
		succeeded int
		total     float64
	}
	groups := make(map[string]*acc)
	for _, r := range items {
		g, ok := groups[r.Path]
		if !ok {
			g = &acc{}
			groups[r.Path] = g
		}
		g.count++
		g.total += r.DurationMs
		if r.Succeeded() {
			g.succeeded++
		}
	}

	out := make(EndpointPerformance, len(groups))
	for path, g := range groups {
		out[path] = EndpointStats{
			Count:             g.count,
			AverageDurationMs: g.total / float64(g.count),
			SuccessRate:       100 * float64(g.succeeded) / float64(g.count),
			TotalDurationMs:   g.total,
		}
	}
	return out
}
