package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dvaar/tunnel/internal/directory"
)

// flushThreshold is how many buffered bytes accumulate locally before a
// session flushes to the shared usage counter (spec §4.4), trading
// directory round-trips for a coarser real-time bandwidth cap.
const flushThreshold = 1 << 20 // 1 MiB

// usageTTL is the sliding bandwidth window's TTL (30 days from first
// usage in the period, per the Open Question resolution in DESIGN.md).
const usageTTL = 30 * 24 * time.Hour

// bandwidthMeter buffers byte counts locally and flushes them to the
// directory's incr_usage once the buffer crosses flushThreshold, or on
// an explicit flush at session shutdown.
type bandwidthMeter struct {
	dir    directory.Directory
	userID string

	mu      sync.Mutex
	pending int64
}

func newBandwidthMeter(dir directory.Directory, userID string) *bandwidthMeter {
	return &bandwidthMeter{dir: dir, userID: userID}
}

func (m *bandwidthMeter) add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.pending += int64(n)
	m.mu.Unlock()
}

// maybeFlush flushes only if the buffer has crossed flushThreshold;
// called from the heartbeat loop so usage stays roughly current
// without flushing on every byte.
func (m *bandwidthMeter) maybeFlush(ctx context.Context) {
	m.mu.Lock()
	if m.pending < flushThreshold {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.flush(ctx)
}

// flush unconditionally sends whatever is buffered, used at shutdown
// so no traffic goes unaccounted.
func (m *bandwidthMeter) flush(ctx context.Context) {
	m.mu.Lock()
	n := m.pending
	m.pending = 0
	m.mu.Unlock()
	if n == 0 {
		return
	}
	if _, err := m.dir.IncrUsage(ctx, m.userID, n, usageTTL); err != nil {
		slog.Error("bandwidth usage flush failed", "user_id", m.userID, "bytes", n, "err", err)
	}
}
