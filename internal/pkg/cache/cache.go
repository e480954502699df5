package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MealPay/internal/pkg/config"
)

// Separate logical databases keep retry jobs and replay markers apart.
const (
	SeenDatabaseOffset = 1
)

// NewClient connects to the Redis/Dragonfly cache server. A failed ping is
// logged, not fatal; callers that need Redis fail on first use.
func NewClient(ctx context.Context, cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pong, err := client.Ping(pingCtx).Result(); err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to cache: %s", pong)
	}
	return client
}

// NewSeenStorage returns the fiber storage used by the replay guard to
// remember processed event ids.
func NewSeenStorage(cfg config.CacheConfig) fiber.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.DB + SeenDatabaseOffset,
		Reset:    false,
	})
}
