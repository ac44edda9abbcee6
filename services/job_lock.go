package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yeremiapane/settlement-engine/utils"
)

// JobLock keeps two replicas from running the same scheduled job at once.
type JobLock interface {
	// Acquire returns ok == false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalJobLock is used with a single replica; the cron chain already skips
// overlapping runs inside the process.
type LocalJobLock struct{}

func (LocalJobLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

const jobLockPrefix = "settlement:job-lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisJobLock struct {
	client *redis.Client
}

func NewRedisJobLock(client *redis.Client) *RedisJobLock {
	return &RedisJobLock{client: client}
}

func (l *RedisJobLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	redisKey := jobLockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The job context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			utils.ErrorLogger.Printf("Failed to release job lock %s: %v", key, err)
		}
	}
	return release, true, nil
}
