package admission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/plan"
	"github.com/dvaar/tunnel/internal/tunnelerr"
)

type staticAuth map[string]User

func (s staticAuth) Lookup(_ context.Context, token string) (User, error) {
	u, ok := s[token]
	if !ok {
		return User{}, tunnelerr.ErrInvalidToken
	}
	return u, nil
}

func newTestController(dir directory.Directory, auth AuthLookup) *Controller {
	c := New(dir, auth, plan.LoadTable(), time.Minute, "edge-a", 9000)
	seq := 0
	c.randSeq = func() int {
		seq++
		return seq
	}
	return c
}

func Test_handshake_success_random_subdomain(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Free}}
	c := newTestController(dir, auth)

	got, err := c.Admit(context.Background(), Request{Token: "T_valid"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.Subdomain == "" {
		t.Fatal("expected a generated subdomain")
	}
	if got.PlanName != plan.Free {
		t.Errorf("got plan %q, want %q", got.PlanName, plan.Free)
	}

	rec, ok, err := dir.GetRoute(context.Background(), got.Subdomain)
	if err != nil || !ok {
		t.Fatalf("expected route record: ok=%v err=%v", ok, err)
	}
	if rec.UserID != "u1" {
		t.Errorf("route owner = %q, want u1", rec.UserID)
	}
}

func Test_handshake_blocked_subdomain(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Hobby}}
	c := newTestController(dir, auth)

	_, err := c.Admit(context.Background(), Request{Token: "T_valid", RequestedSubdomain: "paypal"})
	if !errors.Is(err, tunnelerr.ErrSubdomainBlocked) {
		t.Fatalf("expected ErrSubdomainBlocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "'paypal' is a reserved name") {
		t.Errorf("expected reservation message in error, got %q", err.Error())
	}

	if _, ok, _ := dir.GetRoute(context.Background(), "paypal"); ok {
		t.Error("expected no route written for a blocked subdomain")
	}
}

func Test_concurrent_limit_exceeded(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Free}}
	c := newTestController(dir, auth)
	ctx := context.Background()

	// The five live tunnels are registered directly: five Admit calls in
	// a row would use up the free plan's 5-per-hour creation rate, and
	// the sixth Admit would then stop at the rate limit (step 3) before
	// ever reaching the concurrency check (step 7).
	for i := 0; i < 5; i++ {
		if _, admitted, err := dir.AddUserTunnel(ctx, "u1", "existing-"+string(rune('a'+i)), time.Hour, 5); err != nil || !admitted {
			t.Fatalf("tunnel %d: expected admitted, got admitted=%v err=%v", i, admitted, err)
		}
	}

	before, err := dir.CountUserTunnels(ctx, "u1")
	if err != nil || before != 5 {
		t.Fatalf("expected 5 registered tunnels, got %d (err %v)", before, err)
	}

	_, err = c.Admit(ctx, Request{Token: "T_valid"})
	if !errors.Is(err, tunnelerr.ErrConcurrencyLimit) {
		t.Fatalf("expected ErrConcurrencyLimit, got %v", err)
	}
	if !strings.Contains(err.Error(), "Upgrade to Hobby") {
		t.Errorf("expected upgrade guidance in error, got %q", err.Error())
	}

	after, err := dir.CountUserTunnels(ctx, "u1")
	if err != nil || after != 5 {
		t.Errorf("expected count to remain 5 after rollback, got %d", after)
	}
}

func Test_custom_subdomain_requires_entitlement(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Free}}
	c := newTestController(dir, auth)

	_, err := c.Admit(context.Background(), Request{Token: "T_valid", RequestedSubdomain: "myapp"})
	if !errors.Is(err, tunnelerr.ErrSubdomainNotAllowed) {
		t.Fatalf("expected ErrSubdomainNotAllowed, got %v", err)
	}
}

func Test_custom_subdomain_taken_by_another_user(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{
		"T_a": {UserID: "u1", Plan: plan.Hobby},
		"T_b": {UserID: "u2", Plan: plan.Hobby},
	}
	c := newTestController(dir, auth)
	ctx := context.Background()

	if _, err := c.Admit(ctx, Request{Token: "T_a", RequestedSubdomain: "myapp"}); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	_, err := c.Admit(ctx, Request{Token: "T_b", RequestedSubdomain: "myapp"})
	if !errors.Is(err, tunnelerr.ErrSubdomainTaken) {
		t.Fatalf("expected ErrSubdomainTaken, got %v", err)
	}
}

func Test_invalid_token_rejected(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{}
	c := newTestController(dir, auth)

	_, err := c.Admit(context.Background(), Request{Token: "bogus"})
	if !errors.Is(err, tunnelerr.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func Test_expired_plan_downgrades_to_free(t *testing.T) {
	dir := directory.NewMemory()
	past := time.Now().Add(-time.Hour)
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Pro, PlanExpiresAt: &past}}
	c := newTestController(dir, auth)

	got, err := c.Admit(context.Background(), Request{Token: "T_valid"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.PlanName != plan.Free {
		t.Errorf("expected downgrade to free, got %q", got.PlanName)
	}
}

func Test_bandwidth_cap_exhausted(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Free}}
	c := newTestController(dir, auth)
	ctx := context.Background()

	limits, _ := plan.LoadTable().Limits(plan.Free)
	dir.IncrUsage(ctx, "u1", limits.MonthlyBandwidthBytes, time.Hour)

	_, err := c.Admit(ctx, Request{Token: "T_valid"})
	if !errors.Is(err, tunnelerr.ErrBandwidthExhausted) {
		t.Fatalf("expected ErrBandwidthExhausted, got %v", err)
	}
}

func Test_rollback_removes_route_and_user_tunnel(t *testing.T) {
	dir := directory.NewMemory()
	auth := staticAuth{"T_valid": {UserID: "u1", Plan: plan.Free}}
	c := newTestController(dir, auth)
	ctx := context.Background()

	got, err := c.Admit(ctx, Request{Token: "T_valid"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	c.Rollback(ctx, got)

	if _, ok, _ := dir.GetRoute(ctx, got.Subdomain); ok {
		t.Error("expected route to be rolled back")
	}
	count, _ := dir.CountUserTunnels(ctx, "u1")
	if count != 0 {
		t.Errorf("expected user-tunnel count 0 after rollback, got %d", count)
	}
}
