package redis

const (
	// ingestDailyScript atomically replaces per-app records for a day and
	// indexes the date for the device
	ingestDailyScript = `
local usage_key = KEYS[1]     -- detoxmine:usage:daily:{deviceID}:{date}
local index_key = KEYS[2]     -- detoxmine:usage:dates:{deviceID}

local date = ARGV[1]
local ttl_seconds = tonumber(ARGV[2])

redis.call('DEL', usage_key)

local written = 0
for i = 3, #ARGV, 2 do
  redis.call('HSET', usage_key, ARGV[i], ARGV[i + 1])
  written = written + 1
end

if ttl_seconds > 0 then
  redis.call('EXPIRE', usage_key, ttl_seconds)
end

redis.call('SADD', index_key, date)

return written
`

	// launchSettingsScript publishes a settings request to the device agent
	// and remembers it so an agent that reconnects can pick it up
	launchSettingsScript = `
local channel = KEYS[1]       -- detoxmine:device:{deviceID}:commands
local pending_key = KEYS[2]   -- detoxmine:device:{deviceID}:pending_command

local command = ARGV[1]
local ttl_seconds = tonumber(ARGV[2])

redis.call('SET', pending_key, command, 'EX', ttl_seconds)

return redis.call('PUBLISH', channel, command)
`
)
