// Package redisstore implements the trust-core store on Redis.
//
// # Key layout
//
//	{p}:sess:{id}      hash    session fields
//	{p}:usess:{user}   set     session ids of a user
//	{p}:sessexp        zset    active sessions by expiry (ms)
//	{p}:sessoff        zset    deactivated sessions by deactivation time (ms)
//	{p}:rt:{fid}       hash    renewal record
//	{p}:urt:{user}     set     family ids of a user
//	{p}:rtexp          zset    renewal records by expiry (ms)
//	{p}:mfa:{user}     hash    MFA secret and flags
//	{p}:mfabc:{user}   list    hex SHA-256 of unused backup codes
//	{p}:rl:{bucket}    zset    rate-limit hits scored by timestamp (ms)
//
// Rotation, deactivation, the sliding-window read-then-record and the cleanup
// sweeps are Lua scripts. Scripts build some keys from prefixes passed in ARGV,
// so the store expects a single-node or single-slot deployment.
//
// # What this package must NOT do
//
//   - Import the trustcore root package.
//   - Store plaintext backup codes.
package redisstore
