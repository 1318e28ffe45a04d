package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dvaar/tunnel/internal/tunnelerr"
)

// Redis is a Directory backed by github.com/redis/go-redis/v9, giving
// the shared-state coordination a single edge-local Memory instance
// cannot: routes and quotas visible to every edge in the fleet.
type Redis struct {
	client *redis.Client

	addUserTunnelScript *redis.Script
	incrUsageScript     *redis.Script
}

// NewRedis wraps an already-configured redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:              client,
		addUserTunnelScript: redis.NewScript(addUserTunnelLua),
		incrUsageScript:     redis.NewScript(incrUsageLua),
	}
}

func routeKey(sub string) string        { return "route:" + sub }
func usageKey(user string) string       { return "usage:" + user }
func userTunnelsKey(user string) string { return "user_tunnels:" + user }
func reservedKey(sub string) string     { return "reserved:" + sub }

func (r *Redis) PutRoute(ctx context.Context, subdomain string, rec RouteRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling route record: %w", err)
	}
	if err := r.client.Set(ctx, routeKey(subdomain), data, ttl).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

func (r *Redis) GetRoute(ctx context.Context, subdomain string) (RouteRecord, bool, error) {
	data, err := r.client.Get(ctx, routeKey(subdomain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RouteRecord{}, false, nil
	}
	if err != nil {
		return RouteRecord{}, false, wrapRedisErr(err)
	}
	var rec RouteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RouteRecord{}, false, fmt.Errorf("unmarshalling route record: %w", err)
	}
	return rec, true, nil
}

func (r *Redis) RefreshRoute(ctx context.Context, subdomain string, ttl time.Duration) (bool, error) {
	ok, err := r.client.Expire(ctx, routeKey(subdomain), ttl).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return ok, nil
}

func (r *Redis) DeleteRoute(ctx context.Context, subdomain string) error {
	if err := r.client.Del(ctx, routeKey(subdomain)).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// addUserTunnelLua atomically prunes expired members from the sorted
// set (score = unix expiry), counts what remains, and admits the new
// member only if under max. This is the one operation spec §4.2/§9
// requires real atomicity for.
const addUserTunnelLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local member = ARGV[2]
local expireAt = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now)
local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, expireAt, member)
  redis.call('PEXPIRE', key, 1000 * (expireAt - now + 60))
  return {count + 1, 1}
end
return {count, 0}
`

func (r *Redis) AddUserTunnel(ctx context.Context, userID, subdomain string, memberTTL time.Duration, max int) (int, bool, error) {
	now := time.Now()
	res, err := r.addUserTunnelScript.Run(ctx, r.client, []string{userTunnelsKey(userID)},
		now.Unix(), subdomain, now.Add(memberTTL).Unix(), max,
	).Result()
	if err != nil {
		return 0, false, wrapRedisErr(err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, false, fmt.Errorf("unexpected add_user_tunnel script result: %#v", res)
	}
	count, _ := pair[0].(int64)
	admitted, _ := pair[1].(int64)
	return int(count), admitted == 1, nil
}

func (r *Redis) RemoveUserTunnel(ctx context.Context, userID, subdomain string) error {
	if err := r.client.ZRem(ctx, userTunnelsKey(userID), subdomain).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

func (r *Redis) CountUserTunnels(ctx context.Context, userID string) (int, error) {
	now := time.Now().Unix()
	key := userTunnelsKey(userID)
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprint(now)).Err(); err != nil {
		return 0, wrapRedisErr(err)
	}
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return int(n), nil
}

// incrUsageLua increments the usage counter and, only if the key has
// no TTL yet, applies one (spec's 30-day sliding-from-first-usage
// policy, per the Open Question in spec §9).
const incrUsageLua = `
local key = KEYS[1]
local bytes = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local total = redis.call('INCRBY', key, bytes)
local pttl = redis.call('PTTL', key)
if pttl == -1 then
  redis.call('EXPIRE', key, ttl)
end
return total
`

func (r *Redis) IncrUsage(ctx context.Context, userID string, bytes int64, ttl time.Duration) (int64, error) {
	res, err := r.incrUsageScript.Run(ctx, r.client, []string{usageKey(userID)}, bytes, int64(ttl.Seconds())).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	total, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected incr_usage script result: %#v", res)
	}
	return total, nil
}

func (r *Redis) GetUsage(ctx context.Context, userID string) (int64, error) {
	total, err := r.client.Get(ctx, usageKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return total, nil
}

func (r *Redis) GetReservedOwner(ctx context.Context, subdomain string) (string, bool, error) {
	owner, err := r.client.Get(ctx, reservedKey(subdomain)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err)
	}
	return owner, true, nil
}

func (r *Redis) PutReservedOwner(ctx context.Context, subdomain, userID string) error {
	if err := r.client.Set(ctx, reservedKey(subdomain), userID, 0).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// wrapRedisErr classifies a go-redis error as transient (network/pool
// exhaustion, worth retrying) or permanent, per spec §7's directory
// error taxonomy.
func wrapRedisErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", tunnelerr.ErrDirectoryTransient, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", tunnelerr.ErrDirectoryTransient, err)
	}
	return fmt.Errorf("%w: %v", tunnelerr.ErrDirectoryPermanent, err)
}
