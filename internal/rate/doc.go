// Package rate holds the sliding-window primitives behind the request rate limiter and
// the MFA attempt limiter: the ordered rule table, bucket key derivation, and the
// allow/deny arithmetic over a store-reported window.
//
// # Window semantics
//
// Sliding window: a bucket's count is the number of recorded hits with
// timestamp >= now-window. Every evaluated request is recorded, including denied
// ones, so a sustained offender keeps the window closed. Keys look like
//
//	rule:ip:xxhash(user-agent):path
//
// # What this package must NOT do
//
//   - Decide fail-open versus fail-closed. Store errors are returned wrapped in
//     ErrStoreUnavailable and the caller picks the policy.
//   - Hold counters in memory. All state lives in the store.
package rate
