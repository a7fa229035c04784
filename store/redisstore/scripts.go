package redisstore

import "github.com/redis/go-redis/v9"

const (
	rotateStatusNotFound int64 = 0
	rotateStatusConflict int64 = 1
	rotateStatusRotated  int64 = 2
)

const touchSessionScript = `
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("HSET", KEYS[1], "expires_at", ARGV[3])
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
end
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// KEYS: user session set, expiry index, deactivated index
// ARGV: session key prefix, session id filter ("" for all), reason, at
const deactivateSessionsScript = `
local ids
if ARGV[2] ~= "" then
  ids = {ARGV[2]}
else
  ids = redis.call("SMEMBERS", KEYS[1])
end
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  if redis.call("SISMEMBER", KEYS[1], id) == 1 and redis.call("HGET", k, "active") == "1" then
    redis.call("HSET", k, "active", "0", "reason", ARGV[3], "deactivated_at", ARGV[4])
    redis.call("ZREM", KEYS[2], id)
    redis.call("ZADD", KEYS[3], ARGV[4], id)
    n = n + 1
  end
end
return n
`

var deactivateSessionsLua = redis.NewScript(deactivateSessionsScript)

// KEYS: expiry index, deactivated index
// ARGV: session key prefix, now, batch size
const expireSessionsScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  redis.call("ZREM", KEYS[1], id)
  if redis.call("HGET", k, "active") == "1" then
    redis.call("HSET", k, "active", "0", "reason", "expired", "deactivated_at", ARGV[2])
    redis.call("ZADD", KEYS[2], ARGV[2], id)
    n = n + 1
  end
end
return {#ids, n}
`

var expireSessionsLua = redis.NewScript(expireSessionsScript)

// KEYS: deactivated index
// ARGV: session key prefix, user session set prefix, cutoff (exclusive), batch size
const purgeSessionsScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[3], "LIMIT", 0, tonumber(ARGV[4]))
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  local user = redis.call("HGET", k, "user_id")
  if user then
    redis.call("SREM", ARGV[2] .. user, id)
  end
  n = n + redis.call("DEL", k)
  redis.call("ZREM", KEYS[1], id)
end
return {#ids, n}
`

var purgeSessionsLua = redis.NewScript(purgeSessionsScript)

// KEYS: old record, new record, user family set, expiry index
// ARGV: user id, now, new family id, session id, ip, user agent, created at, expires at
const rotateRenewalScript = `
local rec = redis.call("HMGET", KEYS[1], "user_id", "revoked", "expires_at")
if not rec[1] or rec[1] ~= ARGV[1] then
  return 0
end
if rec[2] == "1" then
  return 1
end
if tonumber(rec[3]) <= tonumber(ARGV[2]) then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 1
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2], "revoked_reason", "rotation", "replaced_by", ARGV[3])
redis.call("HSET", KEYS[2],
  "family_id", ARGV[3],
  "user_id", ARGV[1],
  "session_id", ARGV[4],
  "ip", ARGV[5],
  "user_agent", ARGV[6],
  "created_at", ARGV[7],
  "expires_at", ARGV[8],
  "revoked", "0")
redis.call("SADD", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[8], ARGV[3])
return 2
`

var rotateRenewalLua = redis.NewScript(rotateRenewalScript)

// KEYS: user family set
// ARGV: record key prefix, session id filter ("" for all), reason, at
const revokeRenewalsScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, fid in ipairs(ids) do
  local k = ARGV[1] .. fid
  local rec = redis.call("HMGET", k, "session_id", "revoked")
  if not rec[2] then
    redis.call("SREM", KEYS[1], fid)
  elseif rec[2] == "0" and (ARGV[2] == "" or rec[1] == ARGV[2]) then
    redis.call("HSET", k, "revoked", "1", "revoked_at", ARGV[4], "revoked_reason", ARGV[3])
    n = n + 1
  end
end
return n
`

var revokeRenewalsLua = redis.NewScript(revokeRenewalsScript)

// KEYS: expiry index
// ARGV: record key prefix, user family set prefix, now, batch size
const deleteExpiredRenewalsScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[3], "LIMIT", 0, tonumber(ARGV[4]))
local n = 0
for _, fid in ipairs(ids) do
  local k = ARGV[1] .. fid
  local user = redis.call("HGET", k, "user_id")
  if user then
    redis.call("SREM", ARGV[2] .. user, fid)
  end
  n = n + redis.call("DEL", k)
  redis.call("ZREM", KEYS[1], fid)
end
return {#ids, n}
`

var deleteExpiredRenewalsLua = redis.NewScript(deleteExpiredRenewalsScript)

// KEYS: mfa hash, backup code list
// ARGV: updated at, code hashes...
const replaceBackupCodesScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[2])
for i = 2, #ARGV do
  redis.call("RPUSH", KEYS[2], ARGV[i])
end
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return 1
`

var replaceBackupCodesLua = redis.NewScript(replaceBackupCodesScript)

const setMFAEnabledScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "enabled", ARGV[1], "updated_at", ARGV[2])
return 1
`

var setMFAEnabledLua = redis.NewScript(setMFAEnabledScript)

const advanceStepScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local current = tonumber(redis.call("HGET", KEYS[1], "last_step") or "-1")
if tonumber(ARGV[1]) > current then
  redis.call("HSET", KEYS[1], "last_step", ARGV[1])
  return 1
end
return 0
`

var advanceStepLua = redis.NewScript(advanceStepScript)

// KEYS: bucket
// ARGV: window start, now, member, ttl ms
const recordHitScript = `
local count = redis.call("ZCOUNT", KEYS[1], ARGV[1], "+inf")
local oldest = "0"
if count > 0 then
  local first = redis.call("ZRANGEBYSCORE", KEYS[1], ARGV[1], "+inf", "WITHSCORES", "LIMIT", 0, 1)
  oldest = first[2]
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {count, oldest}
`

var recordHitLua = redis.NewScript(recordHitScript)
