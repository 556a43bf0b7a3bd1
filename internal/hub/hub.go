package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/config"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// ErrBroadcastDropped is returned when the broadcast queue is full.
var ErrBroadcastDropped = errors.New("broadcast queue full")

// Hub owns every live websocket client of this instance.
type Hub struct {
	clients    map[string]*Client // connID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	mu         sync.RWMutex
	config     config.WebSocketConfig
	done       chan struct{}
}

type broadcastMessage struct {
	data    []byte
	exclude map[string]struct{}
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		config:     cfg,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.clients[client.ID]; ok && existing == client {
				delete(h.clients, client.ID)
			}
			h.mu.Unlock()
			client.closeSend()
			l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID, client := range h.clients {
				if _, skip := msg.exclude[connID]; skip {
					continue
				}
				if err := client.sendRaw(msg.data); err != nil {
					l.Debug().Str(log.FieldConnID, connID).Msg("broadcast dropped for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.closeSend()
	}
}

// Broadcast queues message for every client except the given connection
// ids. It never blocks; when the queue is full the message is dropped.
func (h *Hub) Broadcast(message interface{}, excludeConnIDs ...string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	exclude := make(map[string]struct{}, len(excludeConnIDs))
	for _, id := range excludeConnIDs {
		exclude[id] = struct{}{}
	}

	select {
	case h.broadcast <- &broadcastMessage{data: data, exclude: exclude}:
	case <-h.done:
	default:
		return ErrBroadcastDropped
	}
	return nil
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
