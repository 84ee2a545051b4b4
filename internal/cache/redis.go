package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the cache with a redis instance shared with the write-behind
// queue. Redis errors are treated as cache misses, never surfaced.
type Redis struct {
	client *redis.Client
}

func ConnectRedis(addr, password string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}

	log.Println("Connected to Redis")
	return &Redis{client: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("Redis get %s failed: %v", key, err)
		return "", false
	}
	return value, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("Redis set %s failed: %v", key, err)
	}
}
