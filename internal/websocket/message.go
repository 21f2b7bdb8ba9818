package websocket

// Message defines the structure for websocket progress events.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}
