package trustcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/singleflight"
)

// Refresher coalesces concurrent renewals of the same renewal credential in
// this process onto one rotation. It is not a distributed lock: across
// instances only the store's atomic rotation decides the winner, and losers
// get ErrRefreshRevoked.
type Refresher struct {
	tokens *TokenManager
	group  singleflight.Group
}

// Refresh rotates token, or joins a rotation of the same token already in
// flight. shared reports whether the result was delivered to more than one
// caller. The rotation itself is not cancelled when ctx ends; only this
// caller's wait is.
func (r *Refresher) Refresh(ctx context.Context, token, ip, userAgent string) (result *RefreshResult, shared bool, err error) {
	if r == nil || r.tokens == nil {
		return nil, false, ErrEngineNotReady
	}

	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])

	ch := r.group.DoChan(key, func() (any, error) {
		return r.tokens.RefreshAccessToken(context.WithoutCancel(ctx), token, ip, userAgent)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.tokens.metricInc(MetricRefreshDeduplicated)
		}
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		out := *res.Val.(*RefreshResult)
		return &out, res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
