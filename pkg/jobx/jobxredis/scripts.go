package jobxredis

import "github.com/redis/go-redis/v9"

// dequeueScript pops the lowest score, skipping ids whose data expired or
// whose status is no longer pending, and claims the first live one.
//
// KEYS[1] queue, KEYS[2] processing
// ARGV[1] status prefix, ARGV[2] data prefix, ARGV[3] ttl seconds
var dequeueScript = redis.NewScript(`
while true do
    local popped = redis.call('ZPOPMIN', KEYS[1])
    if #popped == 0 then
        return false
    end
    local id = popped[1]
    local data = redis.call('GET', ARGV[2] .. id)
    local status = redis.call('GET', ARGV[1] .. id)
    if data and (not status or status == 'pending') then
        redis.call('SADD', KEYS[2], id)
        redis.call('EXPIRE', KEYS[2], ARGV[3])
        redis.call('SET', ARGV[1] .. id, 'running', 'EX', ARGV[3])
        return {id, data}
    end
end
`)

// Results of transitionScript.
const (
	transitionApplied  = 1
	transitionRepeated = 0
	transitionMissing  = -1
	transitionConflict = -2
)

// transitionScript moves a job into a terminal status unless it is already
// terminal. Repeating the same terminal status is a no-op.
//
// KEYS[1] status key, KEYS[2] queue, KEYS[3] processing
// ARGV[1] target status, ARGV[2] ttl seconds, ARGV[3] job id
var transitionScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
    return -1
end
if cur == 'completed' or cur == 'failed' or cur == 'cancelled' then
    if cur == ARGV[1] then
        return 0
    end
    return -2
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('SREM', KEYS[3], ARGV[3])
return 1
`)
