package redisstore

import "github.com/redis/go-redis/v9"

const (
	statusTerminated int64 = 0
	statusStored     int64 = 1
)

// KEYS[1] access zset, KEYS[2] epoch
// ARGV[1] expected epoch, ARGV[2] member, ARGV[3] expiry ms, ARGV[4] now ms,
// ARGV[5] cap (0 = none)
const appendAccessScript = `
local epoch = redis.call("GET", KEYS[2]) or "0"
if epoch ~= ARGV[1] then
  return 0
end

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[4])
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[2])

local max = tonumber(ARGV[5])
if max > 0 then
  local excess = redis.call("ZCARD", KEYS[1]) - max
  if excess > 0 then
    -- equal expiries order by member, so skip the new entry explicitly
    local victims = redis.call("ZRANGE", KEYS[1], 0, excess)
    for _, m in ipairs(victims) do
      if excess == 0 then
        break
      end
      if m ~= ARGV[2] then
        redis.call("ZREM", KEYS[1], m)
        excess = excess - 1
      end
    end
  end
end

local last = redis.call("ZRANGE", KEYS[1], -1, -1, "WITHSCORES")
if last[2] then
  redis.call("PEXPIREAT", KEYS[1], string.format("%d", tonumber(last[2])))
end
return 1
`

var appendAccessLua = redis.NewScript(appendAccessScript)

// KEYS[1] refresh blob, KEYS[2] epoch
// ARGV[1] expected epoch, ARGV[2] blob, ARGV[3] ttl ms
const replaceRefreshScript = `
local epoch = redis.call("GET", KEYS[2]) or "0"
if epoch ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var replaceRefreshLua = redis.NewScript(replaceRefreshScript)

// KEYS[1] access zset, KEYS[2] refresh blob, KEYS[3] epoch
const terminateScript = `
local epoch = redis.call("INCR", KEYS[3])
redis.call("DEL", KEYS[1], KEYS[2])
return epoch
`

var terminateLua = redis.NewScript(terminateScript)
