package redisstore

import "github.com/redis/go-redis/v9"

// Script status codes. Every script returns {status, ...}.
const (
	statusNotFound = 0
	statusExpired  = 1
	statusMismatch = 2
	statusOK       = 3
	statusUsed     = 4

	statusExhausted = statusExpired
)

// KEYS[1] temporary token hash
// ARGV[1] now (unix millis)
const claimTemporaryScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return {0}
end

local f = redis.call("HMGET", key, "account", "issued", "expires", "attempts", "used")
if f[5] == "1" then
  return {4}
end
if tonumber(f[3]) <= now_ms then
  return {1}
end

redis.call("HSET", key, "used", "1")
return {3, f[1], f[2], f[3], f[4]}
`

// KEYS[1] temporary token hash
// ARGV[1] max attempts
const releaseTemporaryScript = `
local key = KEYS[1]
local max_attempts = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return {0}
end

local attempts = redis.call("HINCRBY", key, "attempts", 1)
if attempts >= max_attempts then
  redis.call("DEL", key)
  return {1, attempts}
end

redis.call("HSET", key, "used", "0")
return {3, attempts}
`

// KEYS[1] refresh session hash
// ARGV[1] presented secret digest (hex)
// ARGV[2] next secret digest (hex)
// ARGV[3] now (unix millis)
const rotateRefreshScript = `
local key = KEYS[1]
local presented = ARGV[1]
local next_hash = ARGV[2]
local now_ms = tonumber(ARGV[3])

if redis.call("EXISTS", key) == 0 then
  return {0}
end

local f = redis.call("HMGET", key, "account", "hash", "issued", "expires")
if tonumber(f[4]) <= now_ms then
  return {1}
end

if f[2] ~= presented then
  redis.call("DEL", key)
  return {2}
end

redis.call("HSET", key, "hash", next_hash)
return {3, f[1], f[3], f[4]}
`

var (
	claimTemporaryLua   = redis.NewScript(claimTemporaryScript)
	releaseTemporaryLua = redis.NewScript(releaseTemporaryScript)
	rotateRefreshLua    = redis.NewScript(rotateRefreshScript)
)
