package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
)

// Publisher publishes domain events.
type Publisher interface {
	// Publish returns the transport's message id.
	Publish(ctx context.Context, event Event) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewPublisher creates a Publisher that appends to stream.
func NewPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = StreamEvents
	}
	return &RedisPublisher{client: client, stream: stream}
}

// Publish adds the event with XADD and an auto-generated message id.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) (string, error) {
	start := time.Now()

	values, err := event.ToMap()
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	metrics.EventsPublished.WithLabelValues("redis").Inc()
	logging.Debug().
		Str("component", "publisher").
		Str("stream", p.stream).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("msg_id", messageID).
		Dur("duration", time.Since(start)).
		Msg("event published")
	return messageID, nil
}

// DispatchFunc handles one event in process.
type DispatchFunc func(ctx context.Context, event Event) error

// LocalPublisher dispatches events synchronously in the calling goroutine. It is used
// when Redis is not configured and as the fallback of BreakerPublisher.
type LocalPublisher struct {
	dispatch DispatchFunc
}

func NewLocalPublisher(dispatch DispatchFunc) *LocalPublisher {
	return &LocalPublisher{dispatch: dispatch}
}

func (p *LocalPublisher) Publish(ctx context.Context, event Event) (string, error) {
	if p.dispatch == nil {
		return "", fmt.Errorf("local publisher has no dispatcher")
	}
	// The request may already be done; side effects of a committed mutation still run.
	if err := p.dispatch(context.WithoutCancel(ctx), event); err != nil {
		return "", fmt.Errorf("dispatch %s: %w", event.Type, err)
	}
	metrics.EventsPublished.WithLabelValues("local").Inc()
	return "local-" + event.ID, nil
}
