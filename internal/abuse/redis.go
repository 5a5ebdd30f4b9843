package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript runs the whole dual-axis check-and-record atomically on the
// server. Window expiry is the key TTL.
//
// KEYS[1] origin key, KEYS[2] identity key
// ARGV[1] origin limit, ARGV[2] identity limit, ARGV[3] window ms,
// ARGV[4] "1" to use the origin axis, ARGV[5] "1" to use the identity axis
//
// Returns {0, axis, pttl} on denial (axis 1 = origin, 2 = identity), or
// {1, originCount, originPTTL, identityCount, identityPTTL} on admission.
var admitScript = redis.NewScript(`
local window = tonumber(ARGV[3])
local use_origin = ARGV[4] == '1'
local use_identity = ARGV[5] == '1'

if use_origin then
  local count = tonumber(redis.call('GET', KEYS[1]) or '0')
  if count >= tonumber(ARGV[1]) then
    return {0, 1, redis.call('PTTL', KEYS[1])}
  end
end

if use_identity then
  local count = tonumber(redis.call('GET', KEYS[2]) or '0')
  if count >= tonumber(ARGV[2]) then
    return {0, 2, redis.call('PTTL', KEYS[2])}
  end
end

local function hit(key)
  local n = redis.call('INCR', key)
  if n == 1 then
    redis.call('PEXPIRE', key, window)
  end
  return n
end

local origin_count, origin_ttl = 0, 0
if use_origin then
  origin_count = hit(KEYS[1])
  origin_ttl = redis.call('PTTL', KEYS[1])
end
local identity_count, identity_ttl = 0, 0
if use_identity then
  identity_count = hit(KEYS[2])
  identity_ttl = redis.call('PTTL', KEYS[2])
end

return {1, origin_count, origin_ttl, identity_count, identity_ttl}
`)

// RedisLimiter is the dual-axis limiter backed by Redis, for deployments
// where several processes must share one set of counters. Redis key expiry
// replaces the sweep.
type RedisLimiter struct {
	client *redis.Client
	config *Config
	now    func() time.Time
	prefix string
}

// NewRedisLimiter connects to redisURL and creates a shared limiter.
func NewRedisLimiter(redisURL string, config *Config, opts ...Option) (*RedisLimiter, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, config, opts...), nil
}

// NewRedisLimiterWithClient creates a limiter from an existing Redis client.
func NewRedisLimiterWithClient(client *redis.Client, config *Config, opts ...Option) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	o := buildOptions(opts)

	return &RedisLimiter{
		client: client,
		config: config,
		now:    o.now,
		prefix: "abuse:",
	}
}

func (r *RedisLimiter) key(axis Axis, key string) string {
	return r.prefix + string(axis) + ":" + key
}

// Admit implements Gate with the same ordering rules as Limiter.CheckAndRecord.
func (r *RedisLimiter) Admit(ctx context.Context, origin, identity string) (Decision, error) {
	if !r.config.Enabled {
		return Decision{Allowed: true}, nil
	}

	useOrigin := origin != "" && !r.config.ExemptOrigins[origin] && r.config.OriginLimit > 0
	useIdentity := r.config.IdentityLimit > 0

	keys := []string{r.key(AxisOrigin, origin), r.key(AxisIdentity, IdentityKey(identity))}
	res, err := admitScript.Run(ctx, r.client, keys,
		r.config.OriginLimit, r.config.IdentityLimit, r.config.Window.Milliseconds(),
		flag(useOrigin), flag(useIdentity),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run admit script: %w", err)
	}

	if len(res) < 3 {
		return Decision{}, fmt.Errorf("unexpected admit script reply: %v", res)
	}

	now := r.now()
	if res[0] == 0 {
		axis, limit := AxisOrigin, r.config.OriginLimit
		if res[1] == 2 {
			axis, limit = AxisIdentity, r.config.IdentityLimit
		}
		resetAt := now.Add(ttl(res[2]))
		return denial(axis, limit, &Entry{Count: limit, ResetAt: resetAt}, now), nil
	}

	decision := Decision{Allowed: true, Remaining: -1}
	if useOrigin {
		decision = tighter(decision, AxisOrigin, r.config.OriginLimit,
			&Entry{Count: int(res[1]), ResetAt: now.Add(ttl(res[2]))})
	}
	if useIdentity {
		decision = tighter(decision, AxisIdentity, r.config.IdentityLimit,
			&Entry{Count: int(res[3]), ResetAt: now.Add(ttl(res[4]))})
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}

// Clear implements Gate.
func (r *RedisLimiter) Clear(ctx context.Context, axis Axis, key string) error {
	if axis == AxisIdentity {
		key = IdentityKey(key)
	}
	if err := r.client.Del(ctx, r.key(axis, key)).Err(); err != nil {
		return fmt.Errorf("clear %s key: %w", axis, err)
	}
	return nil
}

// Lookup returns the live entry of key on axis.
func (r *RedisLimiter) Lookup(ctx context.Context, axis Axis, key string) (Entry, bool, error) {
	if axis == AxisIdentity {
		key = IdentityKey(key)
	}
	k := r.key(axis, key)

	count, err := r.client.Get(ctx, k).Int()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s key: %w", axis, err)
	}
	pttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s ttl: %w", axis, err)
	}
	return Entry{Count: count, ResetAt: r.now().Add(pttl)}, true, nil
}

// Stop implements Gate. Redis expiry needs no background work.
func (r *RedisLimiter) Stop() {}

// Close closes the Redis connection
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

func ttl(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
