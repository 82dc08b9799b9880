package staffauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	otpOriginPrefix = "sow" // origin window counters
	otpLedgerPrefix = "sol" // per-identity issuance ledger
)

// otpRateLimiter budgets one-time-code issuance across two layers.
//
// The origin layer is a fixed window per source address: cheap, keyed only
// by the counter and its TTL.
//
// The identity layer is accounted against a durable ledger (a Redis sorted
// set of issuance timestamps, trimmed to 24h) so cooldown, hourly and daily
// caps survive process restarts. An in-process cache fronts only the
// cooldown check; it is a non-authoritative fast path and every allow
// decision still consults the ledger.
type otpRateLimiter struct {
	redis *redis.Client
	cfg   RateLimitConfig
	fast  *gocache.Cache
	now   func() time.Time
}

func newOTPRateLimiter(redisClient *redis.Client, cfg RateLimitConfig) *otpRateLimiter {
	return &otpRateLimiter{
		redis: redisClient,
		cfg:   cfg,
		fast:  gocache.New(cfg.IdentityCooldown, cfg.CacheSweep),
		now:   time.Now,
	}
}

func (l *otpRateLimiter) originKey(origin string) string {
	return otpOriginPrefix + ":" + origin
}

func (l *otpRateLimiter) ledgerKey(ref IdentityRef) string {
	return otpLedgerPrefix + ":e:" + ref.email
}

// CheckOrigin enforces the fixed per-address window. An empty origin (no
// address on the context) is not counted.
func (l *otpRateLimiter) CheckOrigin(ctx context.Context, origin string) error {
	if origin == "" {
		return nil
	}
	key := l.originKey(origin)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return storeErr(err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.OriginWindow).Err(); err != nil {
			return storeErr(err)
		}
	}

	if count > int64(l.cfg.OriginMax) {
		retry := l.cfg.OriginWindow
		if ttl, err := l.redis.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retry = ttl
		}
		return &RateLimitError{Scope: "origin", RetryAfter: retry}
	}
	return nil
}

// CheckIdentity enforces cooldown, hourly and daily budgets for a known
// principal. The caller skips this layer entirely for identities it could
// not resolve; that pass-through is deliberate, the origin layer still holds.
func (l *otpRateLimiter) CheckIdentity(ctx context.Context, ref IdentityRef) error {
	if !ref.valid() {
		return errors.New("staffauth: invalid identity ref")
	}
	now := l.now()

	// Fast path: a hit here means we recorded an issuance for this identity
	// within the cooldown on this instance. A miss proves nothing.
	if v, ok := l.fast.Get(l.ledgerKey(ref)); ok {
		if last, ok := v.(time.Time); ok {
			if elapsed := now.Sub(last); elapsed < l.cfg.IdentityCooldown {
				return &RateLimitError{Scope: "cooldown", RetryAfter: l.cfg.IdentityCooldown - elapsed}
			}
		}
	}

	key := l.ledgerKey(ref)

	// Most recent issuance for the cooldown check.
	latest, err := l.redis.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storeErr(err)
	}
	if len(latest) == 1 {
		last := time.UnixMilli(int64(latest[0].Score))
		if elapsed := now.Sub(last); elapsed < l.cfg.IdentityCooldown {
			return &RateLimitError{Scope: "cooldown", RetryAfter: l.cfg.IdentityCooldown - elapsed}
		}
	}

	hourAgo := strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10)
	dayAgo := strconv.FormatInt(now.Add(-24*time.Hour).UnixMilli(), 10)
	nowStr := strconv.FormatInt(now.UnixMilli(), 10)

	hourly, err := l.redis.ZCount(ctx, key, hourAgo, nowStr).Result()
	if err != nil {
		return storeErr(err)
	}
	if hourly >= int64(l.cfg.HourlyMax) {
		return &RateLimitError{Scope: "hourly", RetryAfter: l.retryAfter(ctx, key, hourAgo, time.Hour, now)}
	}

	daily, err := l.redis.ZCount(ctx, key, dayAgo, nowStr).Result()
	if err != nil {
		return storeErr(err)
	}
	if daily >= int64(l.cfg.DailyMax) {
		return &RateLimitError{Scope: "daily", RetryAfter: l.retryAfter(ctx, key, dayAgo, 24*time.Hour, now)}
	}

	return nil
}

// retryAfter finds when the oldest entry inside the violated window ages
// out. Falls back to the full window on any read problem.
func (l *otpRateLimiter) retryAfter(ctx context.Context, key, windowStart string, window time.Duration, now time.Time) time.Duration {
	entries, err := l.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: windowStart, Max: "+inf", Count: 1,
	}).Result()
	if err != nil || len(entries) == 0 {
		return window
	}
	oldest := time.UnixMilli(int64(entries[0].Score))
	retry := oldest.Add(window).Sub(now)
	if retry <= 0 {
		retry = time.Second
	}
	return retry
}

// RecordIssue appends an accepted issuance to the identity ledger and trims
// entries older than the daily window. Called only after a code was actually
// issued; denied requests leave no ledger trace.
func (l *otpRateLimiter) RecordIssue(ctx context.Context, ref IdentityRef, origin, endpoint string) error {
	if !ref.valid() {
		return errors.New("staffauth: invalid identity ref")
	}
	now := l.now()
	key := l.ledgerKey(ref)

	member := fmt.Sprintf("%s|%s|%s", uuid.NewString(), endpoint, origin)
	cutoff := strconv.FormatInt(now.Add(-24*time.Hour).UnixMilli(), 10)

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		pipe.Expire(ctx, key, 24*time.Hour)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	l.fast.Set(key, now, l.cfg.IdentityCooldown)
	return nil
}
