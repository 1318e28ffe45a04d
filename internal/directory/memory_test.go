package directory

import (
	"context"
	"testing"
	"time"
)

func Test_put_get_route_round_trip(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	rec := RouteRecord{NodeAddr: "edge-a", InternalPort: 9000, UserID: "u1"}
	if err := d.PutRoute(ctx, "myapp", rec, time.Minute); err != nil {
		t.Fatalf("put route: %v", err)
	}

	got, ok, err := d.GetRoute(ctx, "myapp")
	if err != nil || !ok {
		t.Fatalf("get route: ok=%v err=%v", ok, err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

func Test_route_expires_after_ttl(t *testing.T) {
	d := NewMemory()
	fakeNow := time.Now()
	d.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	if err := d.PutRoute(ctx, "myapp", RouteRecord{NodeAddr: "a"}, time.Second); err != nil {
		t.Fatalf("put route: %v", err)
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	if _, ok, _ := d.GetRoute(ctx, "myapp"); ok {
		t.Error("expected route to have expired")
	}
}

func Test_refresh_route_reports_existence(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	if ok, _ := d.RefreshRoute(ctx, "missing", time.Minute); ok {
		t.Error("expected false for nonexistent key")
	}

	d.PutRoute(ctx, "myapp", RouteRecord{NodeAddr: "a"}, time.Second)
	if ok, _ := d.RefreshRoute(ctx, "myapp", time.Minute); !ok {
		t.Error("expected true for existing key")
	}
}

func Test_add_user_tunnel_is_atomic_admit(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()
	const max = 5

	for i := 0; i < max; i++ {
		count, admitted, err := d.AddUserTunnel(ctx, "u1", subdomainN(i), time.Hour, max)
		if err != nil || !admitted {
			t.Fatalf("tunnel %d: expected admitted, got admitted=%v err=%v", i, admitted, err)
		}
		if count != i+1 {
			t.Errorf("tunnel %d: expected count %d, got %d", i, i+1, count)
		}
	}

	count, admitted, err := d.AddUserTunnel(ctx, "u1", "sub-overflow", time.Hour, max)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Error("expected 6th tunnel at max=5 to be rejected")
	}
	if count != max {
		t.Errorf("expected count to remain %d, got %d", max, count)
	}
}

func Test_add_user_tunnel_prunes_expired_members(t *testing.T) {
	d := NewMemory()
	fakeNow := time.Now()
	d.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	d.AddUserTunnel(ctx, "u1", "sub-a", time.Second, 1)
	fakeNow = fakeNow.Add(2 * time.Second)

	count, admitted, err := d.AddUserTunnel(ctx, "u1", "sub-b", time.Minute, 1)
	if err != nil || !admitted {
		t.Fatalf("expected admission after expiry pruned sub-a, got admitted=%v err=%v", admitted, err)
	}
	if count != 1 {
		t.Errorf("expected count 1 after pruning, got %d", count)
	}
}

func Test_incr_and_get_usage(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	total, err := d.IncrUsage(ctx, "u1", 100, time.Hour)
	if err != nil || total != 100 {
		t.Fatalf("first incr: total=%d err=%v", total, err)
	}
	total, err = d.IncrUsage(ctx, "u1", 50, time.Hour)
	if err != nil || total != 150 {
		t.Fatalf("second incr: total=%d err=%v", total, err)
	}
	got, err := d.GetUsage(ctx, "u1")
	if err != nil || got != 150 {
		t.Fatalf("get usage: got=%d err=%v", got, err)
	}
}

func Test_reserved_owner_round_trip(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	if _, found, _ := d.GetReservedOwner(ctx, "acme"); found {
		t.Error("expected no reservation initially")
	}
	d.PutReservedOwner(ctx, "acme", "u1")
	owner, found, err := d.GetReservedOwner(ctx, "acme")
	if err != nil || !found || owner != "u1" {
		t.Errorf("got owner=%q found=%v err=%v", owner, found, err)
	}
}

func subdomainN(i int) string {
	return "sub-" + string(rune('a'+i))
}
