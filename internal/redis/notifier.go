package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventChannel = "timer:events"

// EventType labels a timer broadcast.
type EventType string

const (
	EventStarted EventType = "STARTED"
	EventStopped EventType = "STOPPED"
)

// Event is the fire-and-forget message published when the shared timer record
// changed. It carries no state: receivers reload the store and re-validate,
// they never trust the message body.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Notifier broadcasts timer changes to sibling instances and delivers theirs.
// There is no ordering guarantee beyond the store's own atomicity, and no
// echo suppression: an instance may receive its own events and must tolerate
// the resulting redundant reload.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events to handler until ctx is cancelled. It blocks;
	// run it in its own goroutine.
	Subscribe(ctx context.Context, handler func(Event))
}

type notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewNotifier creates a Redis pub/sub backed Notifier.
func NewNotifier(client *redis.Client, logger *slog.Logger) Notifier {
	return &notifier{client: client, logger: logger}
}

func (n *notifier) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal timer event: %w", err)
	}
	if err := n.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("redis publish timer event: %w", err)
	}
	return nil
}

func (n *notifier) Subscribe(ctx context.Context, handler func(Event)) {
	for {
		if err := n.receive(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Error("timer event subscription lost, reconnecting",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (n *notifier) receive(ctx context.Context, handler func(Event)) error {
	sub := n.client.Subscribe(ctx, eventChannel)
	defer func() { _ = sub.Close() }()

	// Force the subscription handshake so connection errors surface here
	// instead of as a silently empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", eventChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription channel closed")
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.logger.Warn("malformed timer event, ignoring",
					slog.String("payload", msg.Payload),
					slog.String("error", err.Error()),
				)
				continue
			}
			handler(ev)
		}
	}
}

// NoopNotifier is the degraded mode when no broadcast backend is configured.
// Instances then reconcile only on their own recovery passes, which is an
// accepted staleness window, not a failure.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, Event) error   { return nil }
func (NoopNotifier) Subscribe(context.Context, func(Event)) {}
