package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultQueueKey is the sorted set holding pending jobs
const DefaultQueueKey = "provisioning:jobs"

// claimScript pops the earliest member whose score is at or below ARGV[1]
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript pushes the lock's expiry out only while it still carries our
// token
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisQueue is a durable Queue backed by a sorted set scored by due time in
// milliseconds. Claims are atomic, so any number of processes may poll it.
type RedisQueue struct {
	rdb   redis.UniversalClient
	key   string
	clock clock.Clock
}

func NewRedisQueue(rdb redis.UniversalClient, key string, clk clock.Clock) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RedisQueue{rdb: rdb, key: key, clock: clk}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err()
}

func (q *RedisQueue) Next(ctx context.Context) (*Job, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	raw, err := claimScript.Run(ctx, q.rdb, []string{q.key}, now).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job := &Job{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Len returns the number of queued jobs, due or not
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}

// RedisLocker implements Locker with SET NX PX and an owner token. A held
// lock is extended every third of its TTL, so the TTL only bounds how long a
// crashed worker can keep a tenant locked.
type RedisLocker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, prefix: "lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	k := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(k, token, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			// The job context may already be cancelled by shutdown
			if err := releaseScript.Run(context.Background(), l.rdb, []string{k}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", k).Msg("Failed to release lock, it expires with its TTL")
			}
		})
	}
	return unlock, true, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := extendScript.Run(context.Background(), l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
			switch {
			case err != nil:
				log.Warn().Err(err).Str("key", key).Msg("Failed to extend lock")
			case n == 0:
				log.Error().Str("key", key).Msg("Lock expired while its job was still running")
				return
			}
		}
	}
}
