package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marlonvidal/timekeep/internal/domain"
)

// activeKey is the single well-known key holding the running timer. Using one
// key makes the single-active invariant structural: a SET transfers ownership
// atomically, there is nothing to scan or reconcile.
const activeKey = "timer:active"

// TimerStore is the durable record of the one running timer.
//
// GetActive returns (nil, nil) when no timer is persisted. Bytes that do not
// decode come back as *domain.CorruptTimerRecordError so recovery can discard
// them rather than fail.
type TimerStore interface {
	GetActive(ctx context.Context) (*domain.TimerRecord, error)
	Save(ctx context.Context, rec *domain.TimerRecord) error
	// Delete removes the record only if it is currently owned by taskID.
	Delete(ctx context.Context, taskID string) error
	// Clear removes the record unconditionally (recovery discard path).
	Clear(ctx context.Context) error
}

type timerStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTimerStore creates a Redis-backed TimerStore. recordTTL caps how long an
// unrefreshed record survives; staleness policy proper is enforced by
// recovery, the TTL is only a safety net and should be set well above the
// staleness threshold.
func NewTimerStore(client *redis.Client, recordTTL time.Duration) TimerStore {
	return &timerStore{client: client, ttl: recordTTL}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *timerStore) GetActive(ctx context.Context) (*domain.TimerRecord, error) {
	data, err := s.client.Get(ctx, activeKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get active timer: %w", err)
	}
	var rec domain.TimerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &domain.CorruptTimerRecordError{Reason: err.Error()}
	}
	return &rec, nil
}

func (s *timerStore) Save(ctx context.Context, rec *domain.TimerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal timer record: %w", err)
	}
	if err := s.client.Set(ctx, activeKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save timer for %s: %w", rec.TaskID, err)
	}
	return nil
}

// Delete uses a Lua script so the ownership check and the DEL are atomic: a
// peer that took over the key between our read and our delete keeps its timer.
func (s *timerStore) Delete(ctx context.Context, taskID string) error {
	script := redis.NewScript(`
		local raw = redis.call("get", KEYS[1])
		if not raw then return 0 end
		local ok, rec = pcall(cjson.decode, raw)
		if ok and rec.task_id == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := script.Run(ctx, s.client, []string{activeKey}, taskID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete timer for %s: %w", taskID, err)
	}
	return nil
}

func (s *timerStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, activeKey).Err(); err != nil {
		return fmt.Errorf("redis clear timer: %w", err)
	}
	return nil
}
