// Package directory is the shared, TTL'd key/value store coordinating
// routes and per-user quotas across edge nodes (spec §4.2). It exposes
// one interface with two implementations: a Redis-backed store for a
// real multi-edge deployment, and an in-memory store (a mutex-guarded
// map, after the teacher's idiom) for single-node runs and tests.
//
// Key prefixes match spec §6: route:, usage:, node:, user_tunnels:,
// plus reserved: for persistent subdomain reservations.
package directory

import (
	"context"
	"time"
)

// RouteRecord is the directory's record of which edge node a subdomain
// is currently attached to.
type RouteRecord struct {
	NodeAddr     string
	InternalPort int
	UserID       string
}

// Directory is the collaborator interface the admission controller,
// tunnel session and public ingress depend on. All routes carry a TTL
// <= 2x the heartbeat interval so a crashed edge self-evicts (spec §4.2).
type Directory interface {
	// PutRoute is an idempotent write that (re)sets the TTL.
	PutRoute(ctx context.Context, subdomain string, rec RouteRecord, ttl time.Duration) error
	// GetRoute returns the record and whether it existed.
	GetRoute(ctx context.Context, subdomain string) (RouteRecord, bool, error)
	// RefreshRoute resets the TTL; it reports false if the key did not exist.
	RefreshRoute(ctx context.Context, subdomain string, ttl time.Duration) (bool, error)
	DeleteRoute(ctx context.Context, subdomain string) error

	// AddUserTunnel atomically prunes expired members, counts the
	// remainder, and adds subdomain only if count < max. It reports the
	// count *after* the operation and whether the member was admitted.
	AddUserTunnel(ctx context.Context, userID, subdomain string, memberTTL time.Duration, max int) (count int, admitted bool, err error)
	RemoveUserTunnel(ctx context.Context, userID, subdomain string) error
	CountUserTunnels(ctx context.Context, userID string) (int, error)

	IncrUsage(ctx context.Context, userID string, bytes int64, ttl time.Duration) (newTotal int64, err error)
	GetUsage(ctx context.Context, userID string) (int64, error)

	// GetReservedOwner looks up a persistent subdomain reservation,
	// independent of any currently-live route.
	GetReservedOwner(ctx context.Context, subdomain string) (userID string, found bool, err error)
	PutReservedOwner(ctx context.Context, subdomain, userID string) error

	Close() error
}
