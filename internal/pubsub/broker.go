package pubsub

import (
	"context"
	"sync"
)

// Broker is an in-process Publisher/Subscriber: no network hop, no
// cross-node fan-out. The room service tests use it in place of
// RedisPublisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewBroker returns an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]chan Message)}
}

// Publish fans the event out to every current subscriber of roomCode. A
// subscriber that isn't keeping up has the message dropped rather than
// blocking the publisher.
func (b *Broker) Publish(ctx context.Context, roomCode string, event Event, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg := Message{Event: event, Payload: payload}
	for _, ch := range b.subs[roomCode] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe opens a live subscription to roomCode's in-process feed.
func (b *Broker) Subscribe(ctx context.Context, roomCode string) (Subscription, error) {
	ch := make(chan Message, 16)
	b.mu.Lock()
	b.subs[roomCode] = append(b.subs[roomCode], ch)
	b.mu.Unlock()
	return &brokerSubscription{broker: b, roomCode: roomCode, ch: ch}, nil
}

type brokerSubscription struct {
	broker   *Broker
	roomCode string
	ch       chan Message
}

func (s *brokerSubscription) Channel() <-chan Message { return s.ch }

func (s *brokerSubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	subs := s.broker.subs[s.roomCode]
	for i, ch := range subs {
		if ch == s.ch {
			s.broker.subs[s.roomCode] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}
