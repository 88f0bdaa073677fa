package config

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Redis is optional here: with REDIS_ADDRESS unset, or after REDIS_MAX_ATTEMPTS
// failures (default 5), it returns an error and callers use in-process locking.
func ConnectRedisWithRetry(ctx context.Context) error {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		return errors.New("REDIS_ADDRESS not set")
	}
	maxAttempts := intFromEnv("REDIS_MAX_ATTEMPTS", 5)

	var (
		attempt int
		lastErr error
	)
	for attempt < maxAttempts {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0, // use default DB
			PoolSize: 20,
		})
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return nil
		}
		_ = client.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, lastErr, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

func CloseRedis() {
	if rdb != nil {
		_ = rdb.Close()
	}
}
