// Package inspector is new relative to the teacher, grounded on
// original_source dvaar_cli/src/inspector/*: a ring-buffered per-tunnel
// request capture store with a broadcast feed for live viewers, an
// HTTP/WS API on chi, and a cron-driven stale-tunnel sweep.
package inspector

import (
	"sync"
	"time"
)

// maxRequestsPerTunnel bounds the per-tunnel capture ring (spec §4.8).
const maxRequestsPerTunnel = 50

// TunnelStatus is a registered tunnel's connectivity state.
type TunnelStatus string

const (
	StatusActive       TunnelStatus = "active"
	StatusDisconnected TunnelStatus = "disconnected"
)

// RegisteredTunnel is what the store knows about one tunnel.
type RegisteredTunnel struct {
	TunnelID     string       `json:"tunnel_id"`
	Subdomain    string       `json:"subdomain"`
	PublicURL    string       `json:"public_url"`
	LocalAddr    string       `json:"local_addr"`
	Status       TunnelStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeen     time.Time    `json:"last_seen"`
}

// CapturedRequest is one HTTP request/response pair captured on a stream.
type CapturedRequest struct {
	ID              string      `json:"id"`
	TunnelID        string      `json:"tunnel_id"`
	Timestamp       time.Time   `json:"timestamp"`
	Method          string      `json:"method"`
	Path            string      `json:"path"`
	RequestHeaders  [][2]string `json:"request_headers"`
	RequestBody     []byte      `json:"request_body"`
	ResponseStatus  int         `json:"response_status"`
	ResponseHeaders [][2]string `json:"response_headers"`
	ResponseBody    []byte      `json:"response_body"`
	DurationMS      int64       `json:"duration_ms"`
	SizeBytes       int         `json:"size_bytes"`
}

// ring is a fixed-capacity drop-oldest deque of captured requests.
type ring struct {
	items []CapturedRequest
	cap   int
}

func newRing(cap int) *ring {
	return &ring{items: make([]CapturedRequest, 0, cap), cap: cap}
}

func (r *ring) push(req CapturedRequest) {
	if len(r.items) >= r.cap {
		r.items = r.items[1:]
	}
	r.items = append(r.items, req)
}

func (r *ring) snapshot() []CapturedRequest {
	out := make([]CapturedRequest, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring) clear() {
	r.items = r.items[:0]
}

// tunnelState bundles one tunnel's registration, capture ring and metrics.
type tunnelState struct {
	info    RegisteredTunnel
	history *ring
	metrics *Metrics
}

// Store is the inspector's in-memory state: registered tunnels, their
// capture rings, their metrics, and a broadcast feed for live viewers.
type Store struct {
	mu      sync.RWMutex
	tunnels map[string]*tunnelState
	hub     *hub
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tunnels: make(map[string]*tunnelState),
		hub:     newHub(100),
	}
}

// RegisterTunnel adds or replaces a tunnel's registration, resetting
// its capture ring and metrics, and broadcasts the registration.
func (s *Store) RegisterTunnel(t RegisteredTunnel) {
	s.mu.Lock()
	s.tunnels[t.TunnelID] = &tunnelState{
		info:    t,
		history: newRing(maxRequestsPerTunnel),
		metrics: NewMetrics(),
	}
	s.mu.Unlock()
	s.hub.publish(TunnelRegisteredEvent{Tunnel: t})
}

// UnregisterTunnel marks a tunnel disconnected without discarding its
// captured history (viewers may still want to inspect it afterwards).
func (s *Store) UnregisterTunnel(tunnelID string) {
	s.mu.Lock()
	if ts, ok := s.tunnels[tunnelID]; ok {
		ts.info.Status = StatusDisconnected
	}
	s.mu.Unlock()
	s.hub.publish(TunnelUnregisteredEvent{TunnelID: tunnelID})
}

// Heartbeat refreshes LastSeen and marks the tunnel active again.
func (s *Store) Heartbeat(tunnelID string) bool {
	s.mu.Lock()
	ts, ok := s.tunnels[tunnelID]
	if ok {
		ts.info.LastSeen = time.Now()
		ts.info.Status = StatusActive
	}
	s.mu.Unlock()
	return ok
}

// Tunnels returns a snapshot of all registered tunnels.
func (s *Store) Tunnels() []RegisteredTunnel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegisteredTunnel, 0, len(s.tunnels))
	for _, ts := range s.tunnels {
		out = append(out, ts.info)
	}
	return out
}

// Tunnel returns one tunnel's registration.
func (s *Store) Tunnel(tunnelID string) (RegisteredTunnel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tunnels[tunnelID]
	if !ok {
		return RegisteredTunnel{}, false
	}
	return ts.info, true
}

// AddRequest records a captured request against a tunnel, evicting the
// oldest entry on ring overflow, updates its metrics, and broadcasts it.
func (s *Store) AddRequest(tunnelID string, req CapturedRequest) bool {
	req.TunnelID = tunnelID

	s.mu.Lock()
	ts, ok := s.tunnels[tunnelID]
	if ok {
		ts.history.push(req)
		ts.metrics.RecordRequest(time.Duration(req.DurationMS) * time.Millisecond)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.hub.publish(RequestEvent{Request: req})
	return true
}

// Requests returns the capture ring for one tunnel.
func (s *Store) Requests(tunnelID string) ([]CapturedRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tunnels[tunnelID]
	if !ok {
		return nil, false
	}
	return ts.history.snapshot(), true
}

// ClearRequests empties the capture ring for one tunnel.
func (s *Store) ClearRequests(tunnelID string) bool {
	s.mu.Lock()
	ts, ok := s.tunnels[tunnelID]
	if ok {
		ts.history.clear()
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.hub.publish(ClearEvent{TunnelID: tunnelID})
	return true
}

// Metrics returns a snapshot of one tunnel's metrics.
func (s *Store) Metrics(tunnelID string) (MetricsSnapshot, bool) {
	s.mu.RLock()
	ts, ok := s.tunnels[tunnelID]
	s.mu.RUnlock()
	if !ok {
		return MetricsSnapshot{}, false
	}
	return ts.metrics.Snapshot(), true
}

// SumMetrics aggregates metrics across the named tunnels (or every
// registered tunnel if ids is empty). There is no first-tunnel
// fallback: callers that want one tunnel's numbers use Metrics.
func (s *Store) SumMetrics(ids ...string) MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []MetricsSnapshot
	if len(ids) == 0 {
		for _, ts := range s.tunnels {
			snaps = append(snaps, ts.metrics.Snapshot())
		}
	} else {
		for _, id := range ids {
			if ts, ok := s.tunnels[id]; ok {
				snaps = append(snaps, ts.metrics.Snapshot())
			}
		}
	}
	return sumSnapshots(snaps)
}

// Subscribe registers a new live-feed listener. Call the returned
// cancel func to unsubscribe.
func (s *Store) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe()
}

// CleanupStale marks any Active tunnel whose LastSeen is older than
// threshold as Disconnected (spec §4.8, run from a cron schedule).
func (s *Store) CleanupStale(threshold time.Duration) {
	now := time.Now()
	var staled []string

	s.mu.Lock()
	for id, ts := range s.tunnels {
		if ts.info.Status == StatusActive && now.Sub(ts.info.LastSeen) > threshold {
			ts.info.Status = StatusDisconnected
			staled = append(staled, id)
		}
	}
	s.mu.Unlock()

	for _, id := range staled {
		s.hub.publish(TunnelStatusEvent{TunnelID: id, Status: StatusDisconnected})
	}
}
