package inspector

import (
	"testing"
	"time"
)

func Test_ring_evicts_oldest_at_capacity(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(CapturedRequest{ID: string(rune('a' + i))})
	}
	got := r.snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
	want := []string{"c", "d", "e"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("item %d: got %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func Test_store_add_request_evicts_and_broadcasts(t *testing.T) {
	s := NewStore()
	s.RegisterTunnel(RegisteredTunnel{TunnelID: "t1", Status: StatusActive, LastSeen: time.Now()})

	events, cancel := s.Subscribe()
	defer cancel()
	<-events // tunnel_registered

	for i := 0; i < maxRequestsPerTunnel+5; i++ {
		s.AddRequest("t1", CapturedRequest{ID: "r", DurationMS: 10})
	}

	reqs, ok := s.Requests("t1")
	if !ok {
		t.Fatal("expected tunnel t1 to exist")
	}
	if len(reqs) != maxRequestsPerTunnel {
		t.Errorf("got %d requests, want %d (ring capacity)", len(reqs), maxRequestsPerTunnel)
	}

	select {
	case ev := <-events:
		if _, ok := ev.(RequestEvent); !ok {
			t.Errorf("got event %T, want RequestEvent", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func Test_broadcast_fan_out_slow_subscriber_drops_oldest(t *testing.T) {
	h := newHub(2)
	ch, cancel := h.subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		h.publish(ClearEvent{TunnelID: string(rune('0' + i))})
	}

	count := 0
	var got []string
loop:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			count++
			got = append(got, ev.(ClearEvent).TunnelID)
		default:
			break loop
		}
	}
	if count > 2 {
		t.Errorf("got %d buffered events, want at most hub buffer size 2", count)
	}
	if len(got) != 2 || got[0] != "3" || got[1] != "4" {
		t.Errorf("got buffered events %v, want only the newest two [3 4]", got)
	}
}

func Test_cleanup_stale_marks_disconnected(t *testing.T) {
	s := NewStore()
	s.RegisterTunnel(RegisteredTunnel{TunnelID: "stale", Status: StatusActive, LastSeen: time.Now().Add(-10 * time.Minute)})
	s.RegisterTunnel(RegisteredTunnel{TunnelID: "fresh", Status: StatusActive, LastSeen: time.Now()})

	s.CleanupStale(2 * time.Minute)

	stale, _ := s.Tunnel("stale")
	if stale.Status != StatusDisconnected {
		t.Errorf("got status %q, want disconnected", stale.Status)
	}
	fresh, _ := s.Tunnel("fresh")
	if fresh.Status != StatusActive {
		t.Errorf("got status %q, want active", fresh.Status)
	}
}

func Test_metrics_snapshot_computes_percentiles(t *testing.T) {
	m := NewMetrics()
	for _, ms := range []int{10, 20, 30, 40, 50} {
		m.RecordRequest(time.Duration(ms) * time.Millisecond)
	}
	snap := m.Snapshot()
	if snap.TotalRequests != 5 {
		t.Errorf("got %d total requests, want 5", snap.TotalRequests)
	}
	if snap.P50DurationMS <= 0 {
		t.Errorf("expected a positive p50, got %v", snap.P50DurationMS)
	}
}

func Test_sum_metrics_across_tunnels(t *testing.T) {
	s := NewStore()
	s.RegisterTunnel(RegisteredTunnel{TunnelID: "a"})
	s.RegisterTunnel(RegisteredTunnel{TunnelID: "b"})
	s.AddRequest("a", CapturedRequest{DurationMS: 10})
	s.AddRequest("b", CapturedRequest{DurationMS: 20})
	s.AddRequest("b", CapturedRequest{DurationMS: 30})

	sum := s.SumMetrics("a", "b")
	if sum.TotalRequests != 3 {
		t.Errorf("got %d total requests, want 3", sum.TotalRequests)
	}
}
