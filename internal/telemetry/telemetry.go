// Package telemetry holds the transaction sample model and the pure
// aggregation math behind the console's headline metrics.
package telemetry

import (
	"math"
	"sync"
)

// StatusSuccess is the only terminal outcome the aggregator treats as a
// success; every other status string counts against the success rate.
const StatusSuccess = "SUCCESS"

// Point is one backend-reported transaction sample. The console only
// interprets Status and LatencyMS; the remaining fields ride along for
// display and are ignored when absent (forward compatibility).
type Point struct {
	Timestamp     string  `json:"timestamp,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Gateway       string  `json:"gateway,omitempty"`
	Region        string  `json:"region,omitempty"`
	Status        string  `json:"status"`
	ErrorCode     string  `json:"error_code,omitempty"`
	LatencyMS     float64 `json:"latency_ms"`
	Amount        float64 `json:"amount,omitempty"`
}

// Summary is the derived view of a telemetry snapshot.
type Summary struct {
	// SuccessRate is a percentage rounded to one decimal place. An empty
	// snapshot reports 100: no data is not failure.
	SuccessRate float64
	// AvgLatency is the mean latency in milliseconds rounded to the
	// nearest integer; absent latencies count as zero.
	AvgLatency int64
}

// Summarize derives a Summary from a telemetry snapshot. Pure and
// deterministic; the snapshot is never mutated.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{SuccessRate: 100, AvgLatency: 0}
	}

	var successes int
	var latencySum float64
	for _, p := range points {
		if p.Status == StatusSuccess {
			successes++
		}
		latencySum += p.LatencyMS
	}

	n := float64(len(points))
	rate := 100 * float64(successes) / n
	return Summary{
		SuccessRate: math.Round(rate*10) / 10,
		AvgLatency:  int64(math.Round(latencySum / n)),
	}
}

// Calculator memoizes Summarize on snapshot identity so that re-rendering on
// unrelated state changes does not recompute the aggregate. Correctness does
// not depend on the cache: a miss just recomputes.
type Calculator struct {
	mu       sync.Mutex
	lastHead *Point
	lastLen  int
	lastSum  Summary
	valid    bool
}

// Summary returns the memoized aggregate for points, recomputing when the
// snapshot identity (backing array head + length) changed. Snapshots are
// replaced wholesale rather than edited in place, so identity is a safe
// proxy for content here.
func (c *Calculator) Summary(points []Point) Summary {
	var head *Point
	if len(points) > 0 {
		head = &points[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && head == c.lastHead && len(points) == c.lastLen {
		return c.lastSum
	}

	sum := Summarize(points)
	c.lastHead = head
	c.lastLen = len(points)
	c.lastSum = sum
	c.valid = true
	return sum
}
