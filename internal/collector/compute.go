package collector

import (
	"math"
	"sort"
	"time"

	"github.com/codahale/hdrhistogram"

	"stampede/internal/core"
)

// Metrics contains aggregated run results.
type Metrics struct {
	RunID      string `json:"runId,omitempty"`
	StopReason string `json:"stopReason,omitempty"`

	TotalRequests  int64                      `json:"totalRequests"`
	SuccessCount   int64                      `json:"successCount"`
	FailureCount   int64                      `json:"failureCount"`
	FailuresByKind map[core.FailureKind]int64 `json:"failuresByKind"`
	SuccessRate    float64                    `json:"successRate"`
	ErrorRate      float64                    `json:"errorRate"`
	RequestsPerSec float64                    `json:"requestsPerSec"`
	TestDuration   time.Duration              `json:"testDuration"`
	Duration       DurationMetrics            `json:"durations"`
	StatusCodes    map[int]int64              `json:"statusCodes"`
	TotalBytes     int64                      `json:"totalBytes"`
	BytesPerSec    float64                    `json:"bytesPerSec"`
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Avg    time.Duration `json:"avg"`
	StdDev time.Duration `json:"stddev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

// StatusCount is one row of the status code distribution.
type StatusCount struct {
	Code  int
	Count int64
}

// SortedStatusCodes returns the status distribution ordered by descending
// count, ties broken by code.
func (m *Metrics) SortedStatusCodes() []StatusCount {
	rows := make([]StatusCount, 0, len(m.StatusCodes))
	for code, n := range m.StatusCodes {
		rows = append(rows, StatusCount{Code: code, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Code < rows[j].Code
	})
	return rows
}

// computeDurationMetrics derives latency statistics. Exact min, max, mean and
// standard deviation come from the running fold; percentiles come from the
// histogram (microsecond resolution).
func computeDurationMetrics(h *hdrhistogram.Histogram, min, max time.Duration, sum, sumSq float64) DurationMetrics {
	n := h.TotalCount()
	if n == 0 {
		return DurationMetrics{}
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	return DurationMetrics{
		Min:    min,
		Max:    max,
		Avg:    secondsToDuration(mean),
		StdDev: secondsToDuration(math.Sqrt(variance)),
		P50:    quantile(h, 50, min, max),
		P90:    quantile(h, 90, min, max),
		P95:    quantile(h, 95, min, max),
		P99:    quantile(h, 99, min, max),
	}
}

// quantile reads q from the histogram and clamps it to the observed range,
// since bucket equivalence can overshoot the true extremes.
func quantile(h *hdrhistogram.Histogram, q float64, min, max time.Duration) time.Duration {
	d := time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func finishMetrics(m *Metrics) {
	m.FailureCount = m.TotalRequests - m.SuccessCount
	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests) * 100
		m.ErrorRate = 100 - m.SuccessRate
	}
	if m.TestDuration > 0 {
		m.RequestsPerSec = float64(m.TotalRequests) / m.TestDuration.Seconds()
		m.BytesPerSec = float64(m.TotalBytes) / m.TestDuration.Seconds()
	}
}
