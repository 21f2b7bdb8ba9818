package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Hub maintains the set of connected admin UIs and broadcasts maintenance
// progress events to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages for all connected clients.
	Broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 16),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the Hub's message processing loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Int("total_clients", len(h.clients)).Msg("Admin client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Info().Int("total_clients", len(h.clients)).Msg("Admin client disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Notify broadcasts a progress event. It satisfies the services'
// ProgressNotifier interface and never blocks the operation emitting the
// event.
func (h *Hub) Notify(action string, payload any) {
	raw, err := json.Marshal(Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to encode progress event")
		return
	}
	select {
	case h.Broadcast <- raw:
	default:
		log.Warn().Str("action", action).Msg("Progress event dropped, broadcast channel full")
	}
}
