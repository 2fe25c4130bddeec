package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukepan/splitrooms/internal/pubsub"
)

// Room relays one room code's pubsub feed to its currently registered
// WebSocket clients.
type Room struct {
	code string
	sub  pubsub.Subscription

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
}

func newRoom(ctx context.Context, code string, subscriber pubsub.Subscriber, logger *slog.Logger) (*Room, error) {
	sub, err := subscriber.Subscribe(ctx, code)
	if err != nil {
		return nil, err
	}

	r := &Room{
		code:       code,
		sub:        sub,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
	go r.loop(logger)
	return r, nil
}

func (r *Room) loop(logger *slog.Logger) {
	feed := r.sub.Channel()
	for {
		select {
		case <-r.done:
			return
		case client := <-r.register:
			r.mu.Lock()
			r.clients[client] = true
			r.mu.Unlock()
		case client := <-r.unregister:
			r.mu.Lock()
			if r.clients[client] {
				delete(r.clients, client)
				close(client.send)
			}
			r.mu.Unlock()
		case msg, ok := <-feed:
			if !ok {
				return
			}
			r.mu.RLock()
			for client := range r.clients {
				select {
				case client.send <- msg:
				default:
					logger.Warn("dropping slow realtime client", "room_code", r.code)
				}
			}
			r.mu.RUnlock()
		}
	}
}

func (r *Room) clientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Room) close() {
	close(r.done)
	r.sub.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for client := range r.clients {
		close(client.send)
	}
	r.clients = nil
}
