package trustcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/trustcore/internal/rate"
)

// RateLimiter throttles requests with a sliding window per
// (rule, client IP, user-agent hash, path) bucket.
//
// It fails open: when the store is unreachable the request is allowed and the
// failure is logged. Throttling is purely defensive, and failing closed would
// turn a store outage into a full outage. Token and MFA verification fail
// closed; keep the asymmetry.
type RateLimiter struct {
	*core
	cfg       RateLimitConfig
	rules     rate.Table
	limiter   *rate.Limiter
	retention time.Duration
}

// CheckRateLimit records the request against its bucket and decides whether it
// may proceed. Denied requests are recorded too.
func (l *RateLimiter) CheckRateLimit(ctx context.Context, rc RequestContext) RateLimitResult {
	if !l.cfg.Enabled {
		return RateLimitResult{Allowed: true, Unlimited: true}
	}
	rule, ok := l.rules.Match(rc.Method, rc.Path)
	if !ok {
		return RateLimitResult{Allowed: true, Unlimited: true}
	}

	key := rate.BucketKey(rule.Name, rc.IP, rc.UserAgent, rc.Path)
	d, err := l.limiter.Hit(ctx, key, rule)
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		l.metricInc(MetricRateLimitFailOpen)
		l.logf("rate limit store unavailable, allowing request rule=%s: %v", rule.Name, err)
		return RateLimitResult{
			Allowed:   true,
			Unlimited: true,
			Degraded:  true,
			Rule:      rule.Name,
			Limit:     rule.MaxRequests,
			Remaining: rule.MaxRequests,
		}
	}

	res := RateLimitResult{
		Allowed:    d.Allowed,
		Rule:       rule.Name,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetTime:  d.ResetTime,
		RetryAfter: d.RetryAfter,
	}
	if d.Allowed {
		l.metricInc(MetricRateLimitAllowed)
		return res
	}

	l.metricInc(MetricRateLimitHit)
	l.emitAudit(ctx, auditRecord{
		action:       auditRateLimitExceeded,
		resourceType: resourceRateLimit,
		resourceID:   rule.Name,
		ip:           rc.IP,
		reason:       "limit_exceeded",
	}, func() map[string]string {
		return map[string]string{
			"rule":        rule.Name,
			"count":       strconv.Itoa(d.Count + 1),
			"limit":       strconv.Itoa(d.Limit),
			"fingerprint": key,
			"retry_after": strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10),
		}
	})
	return res
}

// ApplyRateLimit wraps CheckRateLimit into a ready 429 response when denied.
func (l *RateLimiter) ApplyRateLimit(ctx context.Context, rc RequestContext) RateLimitDecision {
	res := l.CheckRateLimit(ctx, rc)
	if res.Allowed {
		return RateLimitDecision{Allowed: true, Result: res}
	}
	return RateLimitDecision{
		Allowed:  false,
		Result:   res,
		Response: newRateLimitResponse(res),
	}
}

// ResetRateLimit forgets every recorded hit of the request's bucket.
func (l *RateLimiter) ResetRateLimit(ctx context.Context, rc RequestContext) error {
	rule, ok := l.rules.Match(rc.Method, rc.Path)
	if !ok {
		return nil
	}
	if err := l.limiter.Reset(ctx, rate.BucketKey(rule.Name, rc.IP, rc.UserAgent, rc.Path)); err != nil {
		return l.storeFailure("reset rate limit", err)
	}
	return nil
}

// CleanupExpiredRecords deletes hit records older than the retention horizon,
// whatever their rule.
func (l *RateLimiter) CleanupExpiredRecords(ctx context.Context) (int64, error) {
	n, err := l.limiter.Sweep(ctx, l.retention)
	if err != nil {
		return 0, l.storeFailure("delete rate limit records", err)
	}
	return n, nil
}
