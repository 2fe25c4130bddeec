// Package realtime pushes room lifecycle events out to WebSocket clients.
// It is the concrete transport behind the Publisher contract: a Hub owns
// one Room per active room code, each Room subscribes to the pubsub feed
// for its channel and fans the decoded event out to its registered
// Clients. Rooms with no clients and no activity are evicted on a timer,
// the same LRU-style cleanup the teacher ran for idle chat rooms.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukepan/splitrooms/internal/pubsub"
)

// Hub manages the set of active per-room feeds.
type Hub struct {
	subscriber pubsub.Subscriber
	logger     *slog.Logger

	mu           sync.RWMutex
	rooms        map[string]*Room
	lastActivity map[string]time.Time

	evictInterval time.Duration
	idleThreshold time.Duration

	cancel context.CancelFunc
}

// NewHub builds a Hub that opens subscriptions through subscriber.
func NewHub(subscriber pubsub.Subscriber, logger *slog.Logger) *Hub {
	return &Hub{
		subscriber:    subscriber,
		logger:        logger,
		rooms:         make(map[string]*Room),
		lastActivity:  make(map[string]time.Time),
		evictInterval: time.Minute,
		idleThreshold: 10 * time.Minute,
	}
}

// Start runs the eviction loop until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	ticker := time.NewTicker(h.evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.stopAll()
			return
		case <-ticker.C:
			h.evictCold()
		}
	}
}

// Stop cancels the eviction loop and tears down every room.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for code, room := range h.rooms {
		room.close()
		delete(h.rooms, code)
		delete(h.lastActivity, code)
	}
}

// Join registers client on roomCode's feed, starting the feed's
// subscription if this is the first client for that room.
func (h *Hub) Join(ctx context.Context, roomCode string, client *Client) error {
	h.mu.Lock()
	room, ok := h.rooms[roomCode]
	if !ok {
		r, err := newRoom(ctx, roomCode, h.subscriber, h.logger)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		room = r
		h.rooms[roomCode] = room
	}
	h.lastActivity[roomCode] = time.Now()
	h.mu.Unlock()

	room.register <- client
	return nil
}

// Leave unregisters client from roomCode's feed.
func (h *Hub) Leave(roomCode string, client *Client) {
	h.mu.RLock()
	room, ok := h.rooms[roomCode]
	h.mu.RUnlock()
	if !ok {
		return
	}
	room.unregister <- client

	h.mu.Lock()
	h.lastActivity[roomCode] = time.Now()
	h.mu.Unlock()
}

func (h *Hub) evictCold() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for code, room := range h.rooms {
		if now.Sub(h.lastActivity[code]) < h.idleThreshold {
			continue
		}
		if room.clientCount() > 0 {
			continue
		}
		h.logger.Debug("evicting cold room feed", "room_code", code)
		room.close()
		delete(h.rooms, code)
		delete(h.lastActivity, code)
	}
}
