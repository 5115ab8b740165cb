package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"eventpix-backend/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens the Redis connection used by the durable job queue and
// the report rate limiter.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Connected to Redis (%s:%s, db=%d)", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	return client, nil
}
