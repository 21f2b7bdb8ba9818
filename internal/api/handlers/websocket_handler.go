package handlers

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	ws "github.com/Gt5678ax/FoxDesk-sub001/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin UI is served from the same origin in production; cross-origin
	// access control happens at the router's CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades admin connections onto the progress hub.
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Serve upgrades the HTTP connection and attaches it to the hub.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	client := ws.NewClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump()
}
