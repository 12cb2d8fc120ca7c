package stats

type SummaryStatistics struct {
	TotalRequests                 int     `json:"totalRequests"`
	SuccessfulRequests            int     `json:"successfulRequests"`
	FailedRequests                int     `json:"failedRequests"`
	AverageResponseTimeMs         float64 `json:"averageResponseTimeMs"`
	TotalDatastoreOperations      int     `json:"totalDatastoreOperations"`
	SuccessfulDatastoreOperations int     `json:"successfulDatastoreOperations"`
	FailedDatastoreOperations     int     `json:"failedDatastoreOperations"`
	AverageDatastoreTimeMs        float64 `json:"averageDatastoreTimeMs"`
	TotalBandwidthInBytes         int64   `json:"totalBandwidthInBytes"`
	TotalBandwidthOutBytes        int64   `json:"totalBandwidthOutBytes"`
	AverageRequestsPerSecond      float64 `json:"averageRequestsPerSecond"`
}

// Distribution maps a grouping key (route template or status code) to a count.
type Distribution map[string]int

type DistributionEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type EndpointStats struct {
	Count             int     `json:"count"`
	AverageDurationMs float64 `json:"averageDurationMs"`
	SuccessRate       float64 `json:"successRate"`
	TotalDurationMs   float64 `json:"totalDurationMs"`
}

type EndpointPerformance map[string]EndpointStats
