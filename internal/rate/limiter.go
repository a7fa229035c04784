package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

// Decision is the outcome of one sliding-window evaluation.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Count is the number of hits already inside the window when this one arrived.
	Count      int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Decide applies rule to a window observed at now. The hit being evaluated is
// not part of w.
func Decide(rule Rule, w store.RateWindow, now time.Time) Decision {
	d := Decision{
		Allowed: w.Count < rule.MaxRequests,
		Limit:   rule.MaxRequests,
		Count:   w.Count,
	}

	oldest := w.Oldest
	if w.Count == 0 || oldest.IsZero() {
		oldest = now
	}
	d.ResetTime = oldest.Add(rule.Window)

	if d.Allowed {
		d.Remaining = rule.MaxRequests - w.Count - 1
		return d
	}

	wait := d.ResetTime.Sub(now)
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	d.RetryAfter = secs * time.Second
	return d
}

// Limiter evaluates sliding windows against a RateLimitStore.
type Limiter struct {
	store store.RateLimitStore
	now   func() time.Time
}

// New creates a [Limiter]. now supplies the current time for every evaluation.
func New(s store.RateLimitStore, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: s, now: now}
}

// Hit records one attempt against key under rule and returns the decision.
// A denied decision is returned together with ErrRateLimited.
func (l *Limiter) Hit(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.now()
	w, err := l.store.RecordHit(ctx, key, now, now.Add(-rule.Window))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d := Decide(rule, w, now)
	if !d.Allowed {
		return d, ErrRateLimited
	}
	return d, nil
}

// Reset clears every recorded hit for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.ResetHits(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep deletes hits older than retention.
func (l *Limiter) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := l.store.DeleteHitsBefore(ctx, l.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
