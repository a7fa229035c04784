// Package store defines the Persistent Store contract used by the trust core:
// the records it owns (sessions, renewal-credential records, MFA secrets and
// rate-limit hits) and the interfaces an implementation must satisfy.
//
// # Ownership
//
// Every record type is owned exclusively by the store. Services read a record,
// act on it and drop it within a single operation; nothing is cached between
// calls, so several processes can share one store without diverging.
//
// # Atomicity
//
// Implementations must make RotateRenewal, ConsumeBackupCode, AdvanceTOTPStep
// and RecordHit atomic with respect to concurrent callers. See the method
// docs for the exact guarantees.
//
// Implementations: [github.com/MrEthical07/trustcore/store/redisstore] and
// [github.com/MrEthical07/trustcore/store/sqlstore].
package store
