package bench

import (
	"fmt"
	"time"
)

// Result holds one load run's measurements.
type Result struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	Duration       time.Duration `json:"duration"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	ThroughputBPS  float64       `json:"throughput_bps"`
	Latency        Percentiles   `json:"latency"`
}

// String renders the result the way the CLI prints it.
func (r *Result) String() string {
	return fmt.Sprintf(
		"requests: %d (%d errors)\nrps: %.1f\ntransfer: %s/s\nlatency: avg %v p50 %v p90 %v p99 %v p99.9 %v max %v",
		r.Requests, r.Errors, r.RequestsPerSec, formatBytes(r.ThroughputBPS),
		r.Latency.Avg, r.Latency.P50, r.Latency.P90, r.Latency.P99, r.Latency.P999, r.Latency.Max,
	)
}

func formatBytes(bps float64) string {
	switch {
	case bps >= 1<<30:
		return fmt.Sprintf("%.2fGB", bps/(1<<30))
	case bps >= 1<<20:
		return fmt.Sprintf("%.2fMB", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.2fKB", bps/(1<<10))
	}
	return fmt.Sprintf("%.0fB", bps)
}
