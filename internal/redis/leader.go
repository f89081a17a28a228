package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the leader key's TTL only when this instance still
// owns it (atomic check avoids races with a competing instance).
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Elector is a Redis SETNX leader election: at most one scanner instance
// runs scan cycles at a time.
type Elector struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewElector creates an elector for the given lock key.
func NewElector(client *redis.Client, key, instanceID string, ttl time.Duration, logger *slog.Logger) *Elector {
	return &Elector{
		client:     client,
		key:        key,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

// AcquireOrRenew attempts to become (or stay) leader; returns true if this
// instance holds the lock after the call.
func (e *Elector) AcquireOrRenew(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		e.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		e.logger.Info("acquired scan leadership", slog.String("instance_id", e.instanceID))
		return true
	}

	result, err := renewScript.Run(ctx, e.client, []string{e.key}, e.instanceID, e.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Resign releases the lock if this instance owns it, letting another
// instance take over immediately on shutdown.
func (e *Elector) Resign(ctx context.Context) {
	released := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := released.Run(ctx, e.client, []string{e.key}, e.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("leader resign", slog.String("error", err.Error()))
	}
}
