package inspector

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const (
	requestRateWindow  = 15 * time.Minute
	maxDurationSamples = 1000
)

// Metrics tracks per-tunnel request counts, sliding-window rates, and
// duration percentiles, grounded on original_source's metrics.rs.
type Metrics struct {
	mu              sync.Mutex
	totalRequests   uint64
	openConnections int32
	requestTimes    []time.Time
	durationsMillis []float64
}

// MetricsSnapshot is a point-in-time read of a tunnel's metrics.
type MetricsSnapshot struct {
	TotalRequests        uint64  `json:"total_requests"`
	OpenConnections      int32   `json:"open_connections"`
	RequestsPerMinute1m  float64 `json:"requests_per_minute_1m"`
	RequestsPerMinute5m  float64 `json:"requests_per_minute_5m"`
	RequestsPerMinute15m float64 `json:"requests_per_minute_15m"`
	P50DurationMS        float64 `json:"p50_duration_ms"`
	P90DurationMS        float64 `json:"p90_duration_ms"`
	P95DurationMS        float64 `json:"p95_duration_ms"`
	P99DurationMS        float64 `json:"p99_duration_ms"`
}

// NewMetrics creates an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest logs one completed request's duration.
func (m *Metrics) RecordRequest(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.totalRequests++
	m.requestTimes = append(m.requestTimes, now)
	m.requestTimes = trimOlderThan(m.requestTimes, now.Add(-requestRateWindow))

	m.durationsMillis = append(m.durationsMillis, float64(d.Milliseconds()))
	if len(m.durationsMillis) > maxDurationSamples {
		m.durationsMillis = m.durationsMillis[len(m.durationsMillis)-maxDurationSamples:]
	}
}

// IncrementConnections marks one more open stream for the tunnel.
func (m *Metrics) IncrementConnections() {
	m.mu.Lock()
	m.openConnections++
	m.mu.Unlock()
}

// DecrementConnections marks one fewer open stream for the tunnel.
func (m *Metrics) DecrementConnections() {
	m.mu.Lock()
	if m.openConnections > 0 {
		m.openConnections--
	}
	m.mu.Unlock()
}

// Snapshot computes the current rates and percentiles.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	countSince := func(d time.Duration) float64 {
		cutoff := now.Add(-d)
		n := 0
		for _, t := range m.requestTimes {
			if !t.Before(cutoff) {
				n++
			}
		}
		return float64(n)
	}

	snap := MetricsSnapshot{
		TotalRequests:        m.totalRequests,
		OpenConnections:      m.openConnections,
		RequestsPerMinute1m:  countSince(time.Minute),
		RequestsPerMinute5m:  countSince(5*time.Minute) / 5,
		RequestsPerMinute15m: countSince(15*time.Minute) / 15,
	}

	if len(m.durationsMillis) > 0 {
		snap.P50DurationMS, _ = stats.Percentile(m.durationsMillis, 50)
		snap.P90DurationMS, _ = stats.Percentile(m.durationsMillis, 90)
		snap.P95DurationMS, _ = stats.Percentile(m.durationsMillis, 95)
		snap.P99DurationMS, _ = stats.Percentile(m.durationsMillis, 99)
	}
	return snap
}

func trimOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// sumSnapshots aggregates several snapshots into one (spec §4.8's
// explicit SumMetrics operation): counts and rates add. Percentiles are
// not recomputed, since a joint percentile would need the raw samples
// behind each snapshot; the max across inputs is reported instead, as a
// conservative upper bound.
func sumSnapshots(snaps []MetricsSnapshot) MetricsSnapshot {
	var out MetricsSnapshot
	for _, s := range snaps {
		out.TotalRequests += s.TotalRequests
		out.OpenConnections += s.OpenConnections
		out.RequestsPerMinute1m += s.RequestsPerMinute1m
		out.RequestsPerMinute5m += s.RequestsPerMinute5m
		out.RequestsPerMinute15m += s.RequestsPerMinute15m
		out.P50DurationMS = max(out.P50DurationMS, s.P50DurationMS)
		out.P90DurationMS = max(out.P90DurationMS, s.P90DurationMS)
		out.P95DurationMS = max(out.P95DurationMS, s.P95DurationMS)
		out.P99DurationMS = max(out.P99DurationMS, s.P99DurationMS)
	}
	return out
}
