package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CreateKeys remembers which task an Idempotency-Key created. A key is
// claimed before the create runs and bound to the new task id once it
// commits, so a repeated request can be answered with that task.
type CreateKeys interface {
	// Claim records key as in flight. When the key is already known it
	// returns false with the bound task id, or "" while the first request is
	// still running.
	Claim(ctx context.Context, key string) (taskID string, claimed bool, err error)
	Bind(ctx context.Context, key, taskID string) error
	Release(ctx context.Context, key string) error
}

// pending marks a claimed key whose create has not committed yet.
const pending = "-"

// RedisCreateKeys keeps Idempotency-Keys in Redis so all instances agree on
// which creates already ran.
type RedisCreateKeys struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCreateKeys creates the key store using the provided Redis client
// and TTL.
func NewRedisCreateKeys(client *redis.Client, ttl time.Duration) *RedisCreateKeys {
	return &RedisCreateKeys{client: client, ttl: ttl}
}

func (r *RedisCreateKeys) key(key string) string {
	return fmt.Sprintf("idem:tasks:create:%s", key)
}

func (r *RedisCreateKeys) Claim(ctx context.Context, key string) (string, bool, error) {
	k := r.key(key)
	added, err := r.client.SetNX(ctx, k, pending, r.ttl).Result()
	if err != nil || added {
		return "", added, err
	}
	id, err := r.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls; try once more.
		added, err = r.client.SetNX(ctx, k, pending, r.ttl).Result()
		return "", added, err
	case err != nil:
		return "", false, err
	case id == pending:
		return "", false, nil
	}
	return id, false, nil
}

// Bind points a claimed key at the task it created, keeping the claim's TTL.
// A claim that already expired stays gone.
func (r *RedisCreateKeys) Bind(ctx context.Context, key, taskID string) error {
	err := r.client.SetArgs(ctx, r.key(key), taskID, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Release forgets a key so a failed request can be retried with it.
func (r *RedisCreateKeys) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
