package redis

import "github.com/redis/go-redis/v9"

// enqueueScript inserts a row unless the id exists. Scheduled rows are
// scored by run_after, falling back to created_at.
//
// KEYS: job, scheduled, processing, owned
// ARGV: id, worker, score, now, field/value pairs...
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
if ARGV[2] == '' then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
else
	redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
	redis.call('SADD', KEYS[4], ARGV[1])
end
return 1
`)

// claimScript assigns due scheduled rows, then stale processing rows, to a
// worker and returns their pre-claim HGETALL snapshots.
//
// KEYS: scheduled, processing, owned, worker
// ARGV: worker, limit, now, cutoff, prefix
var claimScript = redis.NewScript(`
local worker = ARGV[1]
local limit = tonumber(ARGV[2])
local now = ARGV[3]
local prefix = ARGV[5]
local claimed = {}

local function claim(id)
	local key = prefix .. 'job:' .. id
	claimed[#claimed + 1] = redis.call('HGETALL', key)
	local previous = redis.call('HGET', key, 'worker_id')
	if previous and previous ~= '' then
		redis.call('SREM', prefix .. 'owned:' .. previous, id)
	end
	redis.call('HSET', key, 'worker_id', worker, 'status', 'processing', 'updated_at', now)
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], now, id)
	redis.call('SADD', KEYS[3], id)
end

for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, limit)) do
	claim(id)
end
if #claimed < limit then
	local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[4], 'LIMIT', 0, limit - #claimed)
	for _, id in ipairs(stale) do
		claim(id)
	end
end
if #claimed > 0 and redis.call('EXISTS', KEYS[4]) == 1 then
	redis.call('HSET', KEYS[4], 'last_seen_at', now)
end
return claimed
`)

// refreshScript bumps updated_at on rows owned by the worker.
//
// KEYS: processing, worker
// ARGV: worker, now, prefix, ids...
var refreshScript = redis.NewScript(`
for i = 4, #ARGV do
	local key = ARGV[3] .. 'job:' .. ARGV[i]
	if redis.call('HGET', key, 'worker_id') == ARGV[1] then
		redis.call('HSET', key, 'updated_at', ARGV[2])
		redis.call('ZADD', KEYS[1], ARGV[2], ARGV[i])
	end
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	redis.call('HSET', KEYS[2], 'last_seen_at', ARGV[2])
end
return 1
`)

// deleteScript removes a row when its owner matches ('' = unowned).
//
// KEYS: job, scheduled, processing, errored, owned
// ARGV: worker, id
var deleteScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'worker_id')
if not owner or owner ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('SREM', KEYS[4], ARGV[2])
if ARGV[1] ~= '' then
	redis.call('SREM', KEYS[5], ARGV[2])
end
return 1
`)

// backoffScript releases an owned row to run again later.
//
// KEYS: job, scheduled, processing, owned
// ARGV: worker, id, attempt, run_after, now
var backoffScript = redis.NewScript(`
if ARGV[1] == '' or redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1],
	'worker_id', '', 'status', 'scheduled', 'retry_attempts', ARGV[3],
	'run_after', ARGV[4], 'updated_at', ARGV[5])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
redis.call('SREM', KEYS[4], ARGV[2])
return 1
`)

// errorScript moves an owned row into errored.
//
// KEYS: job, processing, errored, owned
// ARGV: worker, id, latest_error, now
var errorScript = redis.NewScript(`
if ARGV[1] == '' or redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1],
	'worker_id', '', 'status', 'errored', 'run_after', '',
	'latest_error', ARGV[3], 'updated_at', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('SREM', KEYS[4], ARGV[2])
return 1
`)

// retryScript moves an errored row back to scheduled.
//
// KEYS: job, scheduled, errored
// ARGV: id, now
var retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'errored' then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', 'scheduled', 'retry_attempts', 0, 'latest_error', '',
	'run_after', '', 'updated_at', ARGV[2])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// deregisterScript releases every row a worker owns and removes it.
//
// KEYS: owned, scheduled, processing, workers, worker
// ARGV: worker, prefix, now
var deregisterScript = redis.NewScript(`
local released = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	local key = ARGV[2] .. 'job:' .. id
	if redis.call('HGET', key, 'worker_id') == ARGV[1] then
		local score = redis.call('HGET', key, 'run_after')
		if not score or score == '' then
			score = redis.call('HGET', key, 'created_at')
		end
		redis.call('HSET', key, 'worker_id', '', 'status', 'scheduled', 'updated_at', ARGV[3])
		redis.call('ZREM', KEYS[3], id)
		redis.call('ZADD', KEYS[2], score, id)
		released = released + 1
	end
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('DEL', KEYS[5])
return released
`)
