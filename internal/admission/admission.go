// Package admission implements the tunnel lifecycle's admission
// controller (spec §4.3): the seven-step check order that turns an
// Init frame into either an admitted (user, subdomain, plan) triple or
// a rejection reason for InitAck.error.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dvaar/tunnel/internal/blocklist"
	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/plan"
	"github.com/dvaar/tunnel/internal/tunnelerr"
)

// User is what AuthLookup resolves a bearer token to.
type User struct {
	UserID        string
	Email         string
	Plan          string
	PlanExpiresAt *time.Time
}

// AuthLookup validates an opaque bearer token and returns the user it
// belongs to. Implementations never return tunnelerr.ErrInvalidToken
// wrapped in anything else; callers compare with errors.Is.
type AuthLookup interface {
	Lookup(ctx context.Context, token string) (User, error)
}

// Request is the subset of an Init frame the controller needs.
type Request struct {
	Token              string
	RequestedSubdomain string
	HeartbeatTTL       time.Duration
}

// Admitted is the successful output of Admit.
type Admitted struct {
	User      User
	Plan      plan.Limits
	PlanName  string
	Subdomain string
}

const (
	maxSubdomainAttempts = 10
	defaultMemberTTLFree = 30 * 24 * time.Hour
)

// Controller runs the seven-step admission order against a Directory,
// a plan.Table and an AuthLookup.
type Controller struct {
	dir          directory.Directory
	auth         AuthLookup
	plans        plan.Table
	heartbeatTTL time.Duration
	nodeAddr     string
	internalPort int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	randSeq  func() int // overridable for deterministic tests
}

// New builds a Controller. heartbeatTTL is the TTL given to route
// records on admission (spec's heartbeat interval, not 2x it — the
// session's own heartbeat loop is what refreshes it). nodeAddr and
// internalPort identify this edge in the RouteRecords it writes, so
// peers can forward to it over the node-to-node proxy.
func New(dir directory.Directory, auth AuthLookup, plans plan.Table, heartbeatTTL time.Duration, nodeAddr string, internalPort int) *Controller {
	return &Controller{
		dir:          dir,
		auth:         auth,
		plans:        plans,
		heartbeatTTL: heartbeatTTL,
		nodeAddr:     nodeAddr,
		internalPort: internalPort,
		limiters:     make(map[string]*rate.Limiter),
		randSeq:      defaultRandSeq,
	}
}

// Admit runs the seven-step order. A rejection returns an error
// satisfying errors.Is against one of tunnelerr's admission-path
// sentinels; a directory failure is returned wrapped as it came, and
// running out of subdomain generation attempts returns an error with
// no sentinel. On any failure no route or user-tunnel entry is left
// behind (steps 6-7 roll back on later failure).
func (c *Controller) Admit(ctx context.Context, req Request) (Admitted, error) {
	// 1. Authenticate.
	user, err := c.auth.Lookup(ctx, req.Token)
	if err != nil {
		return Admitted{}, fmt.Errorf("%w", tunnelerr.ErrInvalidToken)
	}

	// 2. Effective plan.
	planName := effectivePlan(user)
	limits, ok := c.plans.Limits(planName)
	if !ok {
		limits, _ = c.plans.Limits(plan.Free)
		planName = plan.Free
	}

	// 3. Tunnel-creation rate limit.
	if !c.limiterFor(user.UserID, limits.TunnelCreationRate).Allow() {
		return Admitted{}, fmt.Errorf("%w", tunnelerr.ErrRateLimited)
	}

	// 4. Bandwidth cap.
	used, err := c.dir.GetUsage(ctx, user.UserID)
	if err != nil {
		return Admitted{}, fmt.Errorf("checking usage: %w", err)
	}
	if used >= limits.MonthlyBandwidthBytes {
		return Admitted{}, fmt.Errorf("%w", tunnelerr.ErrBandwidthExhausted)
	}

	// 5. Subdomain resolution.
	subdomain, err := c.resolveSubdomain(ctx, req.RequestedSubdomain, user, limits)
	if err != nil {
		return Admitted{}, err
	}

	// 6. Register route.
	routeTTL := req.HeartbeatTTL
	if routeTTL <= 0 {
		routeTTL = c.heartbeatTTL
	}
	rec := directory.RouteRecord{NodeAddr: c.nodeAddr, InternalPort: c.internalPort, UserID: user.UserID}
	if err := c.dir.PutRoute(ctx, subdomain, rec, routeTTL); err != nil {
		return Admitted{}, fmt.Errorf("registering route: %w", err)
	}

	// 7. Register user-tunnel, atomically.
	memberTTL := limits.MemberTTL
	if memberTTL == 0 {
		memberTTL = defaultMemberTTLFree
	}
	count, admitted, err := c.dir.AddUserTunnel(ctx, user.UserID, subdomain, memberTTL, limits.MaxConcurrent)
	if err != nil {
		_ = c.dir.DeleteRoute(ctx, subdomain)
		return Admitted{}, fmt.Errorf("registering user tunnel: %w", err)
	}
	if !admitted {
		_ = c.dir.DeleteRoute(ctx, subdomain)
		return Admitted{}, fmt.Errorf("%w (max %d, have %d): %s",
			tunnelerr.ErrConcurrencyLimit, limits.MaxConcurrent, count, c.plans.UpgradeMessage(planName))
	}

	return Admitted{User: user, Plan: limits, PlanName: planName, Subdomain: subdomain}, nil
}

// Rollback undoes the route and user-tunnel registration from a
// successful Admit whose InitAck failed to send, per spec §4.3's
// final sentence.
func (c *Controller) Rollback(ctx context.Context, a Admitted) {
	_ = c.dir.DeleteRoute(ctx, a.Subdomain)
	_ = c.dir.RemoveUserTunnel(ctx, a.User.UserID, a.Subdomain)
}

func effectivePlan(u User) string {
	if u.PlanExpiresAt == nil || u.PlanExpiresAt.After(time.Now()) {
		return u.Plan
	}
	return plan.Free
}

func (c *Controller) limiterFor(userID string, rl plan.RateLimit) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[userID]
	if !ok {
		every := rl.Window / time.Duration(rl.N)
		l = rate.NewLimiter(rate.Every(every), rl.N)
		c.limiters[userID] = l
	}
	return l
}

func (c *Controller) resolveSubdomain(ctx context.Context, requested string, user User, limits plan.Limits) (string, error) {
	if requested != "" {
		if !limits.MayRequestSubdomain {
			return "", fmt.Errorf("%w", tunnelerr.ErrSubdomainNotAllowed)
		}
		res := blocklist.Check(requested)
		if !res.Allowed {
			return "", fmt.Errorf("%w: %s", tunnelerr.ErrSubdomainBlocked, res.Message())
		}
		if owner, found, err := c.dir.GetReservedOwner(ctx, requested); err != nil {
			return "", fmt.Errorf("checking reservation: %w", err)
		} else if found && owner != user.UserID {
			return "", fmt.Errorf("%w", tunnelerr.ErrSubdomainTaken)
		}
		if rec, found, err := c.dir.GetRoute(ctx, requested); err != nil {
			return "", fmt.Errorf("checking existing route: %w", err)
		} else if found && rec.UserID != user.UserID {
			return "", fmt.Errorf("%w", tunnelerr.ErrSubdomainTaken)
		}
		return requested, nil
	}

	for attempt := 0; attempt < maxSubdomainAttempts; attempt++ {
		candidate := generateSubdomain(c.randSeq)
		if _, found, err := c.dir.GetRoute(ctx, candidate); err != nil {
			return "", fmt.Errorf("checking generated subdomain: %w", err)
		} else if !found {
			return candidate, nil
		}
	}
	return "", errors.New("exhausted subdomain generation attempts")
}
