// Package pubsub fans room lifecycle events out to whoever is watching a
// room, over Redis so multiple API instances stay in sync. Delivery is
// best-effort: a publish failure is logged and swallowed rather than
// failing the state change that triggered it.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukepan/splitrooms/internal/utils"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Event is one of the fixed room lifecycle events fanned out to subscribers.
type Event string

const (
	EventMemberJoined Event = "member-joined"
	EventMemberLeft   Event = "member-left"
	EventRoomUpdated  Event = "room-updated"
	EventRoomClosed   Event = "room-closed"
	EventTeamsDivided Event = "teams-divided"
)

// Message is the (event, payload) envelope delivered to a room's channel.
type Message struct {
	Event   Event       `json:"event"`
	Payload interface{} `json:"payload"`
}

func channelName(roomCode string) string { return "room-" + roomCode }

// Publisher fans an event out to every subscriber of a room.
type Publisher interface {
	Publish(ctx context.Context, roomCode string, event Event, payload interface{})
}

// Subscription is a live feed of messages for one room.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Subscriber opens a Subscription to a room's event channel.
type Subscriber interface {
	Subscribe(ctx context.Context, roomCode string) (Subscription, error)
}

var pubLatency metric.Float64Histogram

// RedisPublisher fans events out over Redis Pub/Sub, channel "room-<code>".
type RedisPublisher struct {
	client *redis.Client
	logger *utils.Logger
}

// NewRedisPublisher connects to Redis and verifies it is reachable.
func NewRedisPublisher(dsn string, logger *utils.Logger) (*RedisPublisher, error) {
	var err error
	pubLatency, err = otel.Meter("pubsub").Float64Histogram("pubsub.publish.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create pubsub.publish.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, span := otel.Tracer("pubsub").Start(context.Background(), "pubsub.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping redis")
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisPublisher{client: client, logger: logger}, nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// Publish marshals and publishes event/payload to roomCode's channel.
// Failures are logged, not returned: callers should never need to handle
// a broken fan-out as a reason to fail the request that triggered it.
func (p *RedisPublisher) Publish(ctx context.Context, roomCode string, event Event, payload interface{}) {
	start := time.Now()
	ctx, span := otel.Tracer("pubsub").Start(ctx, "pubsub.publish", trace.WithAttributes(
		attribute.String("pubsub.channel", channelName(roomCode)),
		attribute.String("pubsub.event", string(event)),
	))
	defer func() {
		pubLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("pubsub.event", string(event))))
		span.End()
	}()

	data, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		span.RecordError(err)
		p.logger.Error(ctx, "pubsub: failed to marshal event %s for room %s: %v", event, roomCode, err)
		return
	}
	if err := p.client.Publish(ctx, channelName(roomCode), data).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.Error(ctx, "pubsub: failed to publish event %s for room %s: %v", event, roomCode, err)
	}
}

// Subscribe opens a live subscription to roomCode's channel.
func (p *RedisPublisher) Subscribe(ctx context.Context, roomCode string) (Subscription, error) {
	rs := p.client.Subscribe(ctx, channelName(roomCode))
	if _, err := rs.Receive(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", roomCode, err)
	}
	return &redisSubscription{rs: rs, out: decodeLoop(rs, p.logger)}, nil
}

type redisSubscription struct {
	rs  *redis.PubSub
	out <-chan Message
}

func (s *redisSubscription) Channel() <-chan Message { return s.out }
func (s *redisSubscription) Close() error            { return s.rs.Close() }

func decodeLoop(rs *redis.PubSub, logger *utils.Logger) <-chan Message {
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		for raw := range rs.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				logger.Error(context.Background(), "pubsub: failed to decode message on %s: %v", raw.Channel, err)
				continue
			}
			out <- msg
		}
	}()
	return out
}
