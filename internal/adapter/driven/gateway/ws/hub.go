package ws

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub keeps track of every live watcher so they can be counted and closed
// together on shutdown.
type Hub struct {
	mu         sync.Mutex
	clients    map[Client]bool
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client_id", client.ID()).Str("call_id", client.CallID().String()).Int("count", n).Msg("Watcher registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Debug().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Watcher unregistered")
			}
			h.mu.Unlock()
		}
	}
}

// Register reports false if the hub has stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Count returns the number of registered watchers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
