// Package trustcore is an authentication trust core: paired access and renewal
// credentials with rotating renewal families, TOTP multi-factor verification
// with single-use backup codes, and sliding-window request rate limiting.
//
// The services are safe to call from multiple goroutines after initialization
// through [Builder.Build]. They keep no state between calls; sessions, renewal
// records, MFA secrets and rate-limit hits live in the configured store
// (store/redisstore or store/sqlstore), so several processes can share one store.
//
// # Architecture boundaries
//
// trustcore is the public surface. It exposes [Engine], [Builder], [Config], the
// services ([TokenManager], [MFAService], [RateLimiter], [Refresher], [Janitor])
// and value types. Signing lives in jwt/, OTP math and rule matching under
// internal/, persistence under store/.
//
// # Failure policy
//
// Credential and MFA verification fail closed with [ErrStoreUnavailable] when the
// store is unreachable. The rate limiter fails open.
//
// # Rotation
//
// Every renewal revokes the presented family and records a new one in one atomic
// store operation. Within a process, [Refresher] coalesces concurrent renewals of
// the same credential; across processes the store decides and the loser gets
// [ErrRefreshRevoked].
package trustcore
