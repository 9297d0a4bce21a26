package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Elector decides which sweeper instance may run a sweep. Exactly one holder
// exists per TTL window; everyone else stands by.
type Elector interface {
	// AcquireOrRenew returns true when this instance is the current leader.
	AcquireOrRenew(ctx context.Context) (bool, error)
	// Resign releases leadership if this instance holds it.
	Resign(ctx context.Context) error
}

type elector struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewElector returns a SETNX-based leader elector. instanceID must be unique
// per process (a UUID suffix works).
func NewElector(client *redis.Client, key, instanceID string, ttl time.Duration) Elector {
	return &elector{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

func (e *elector) AcquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader election SetNX: %w", err)
	}
	if ok {
		return true, nil
	}

	// Key already set. Renew only if we own it; the check-and-expire must be
	// atomic or a dying leader's key could be renewed by its successor's race.
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, e.client,
		[]string{e.key},
		e.instanceID,
		e.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("leader renewal: %w", err)
	}
	return result == 1, nil
}

func (e *elector) Resign(ctx context.Context) error {
	resignScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := resignScript.Run(ctx, e.client, []string{e.key}, e.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("leader resign: %w", err)
	}
	return nil
}
