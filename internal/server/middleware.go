package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// UserHeader carries the authenticated user id set by the upstream gateway.
const UserHeader = "X-User-ID"

const ownerKey = "owner"

// RequireUser rejects requests without a user id and stores it for handlers.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := strings.TrimSpace(c.Get(UserHeader))
		if owner == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+UserHeader+" header")
		}
		c.Locals(ownerKey, owner)
		return c.Next()
	}
}

func ownerOf(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey).(string)
	return owner
}

// SyncLimiter caps sync calls per user and endpoint to max a minute.
func SyncLimiter(max int, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "sync:" + ownerOf(c) + ":" + c.Path()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many sync requests. Please wait before syncing again.",
				"retry_after": "1 minute",
			})
		},
		Storage: storage,
	})
}

const limiterPrefix = "docketra:limiter:"

// RedisStorage implements fiber.Storage on Redis under a key prefix.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Get returns nil without error for a missing key, as fiber.Storage requires.
func (r *RedisStorage) Get(key string) ([]byte, error) {
	val, err := r.client.Get(context.Background(), limiterPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (r *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	return r.client.Set(context.Background(), limiterPrefix+key, val, exp).Err()
}

func (r *RedisStorage) Delete(key string) error {
	return r.client.Del(context.Background(), limiterPrefix+key).Err()
}

// Reset removes only limiter keys; the database is shared with the run log.
func (r *RedisStorage) Reset() error {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, limiterPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close leaves the client open; its owner closes it.
func (r *RedisStorage) Close() error {
	return nil
}
