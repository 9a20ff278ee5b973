package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/model"
)

const pingInterval = 30 * time.Second

// Client is one browser watching a compose form.
type Client struct {
	FormID string
	Conn   *websocket.Conn
	Send   chan []byte

	pong chan []byte
}

// Hub fans form progress out to subscribed clients.
type Hub struct {
	// Clients grouped by form ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	count      chan countRequest
	done       chan struct{}
}

// BroadcastMessage is a payload for every subscriber of one form.
type BroadcastMessage struct {
	FormID  string
	Message []byte
}

type countRequest struct {
	formID string
	reply  chan int
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		count:      make(chan countRequest),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.clients[client.FormID] == nil {
				h.clients[client.FormID] = make(map[*Client]bool)
			}
			h.clients[client.FormID][client] = true
			fiberlog.Debugf("[WS] client subscribed to form %s", client.FormID)

		case client := <-h.unregister:
			h.remove(client)
			fiberlog.Debugf("[WS] client left form %s", client.FormID)

		case msg := <-h.broadcast:
			for client := range h.clients[msg.FormID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer; drop it rather than stall the hub.
					h.remove(client)
				}
			}

		case req := <-h.count:
			req.reply <- len(h.clients[req.formID])
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.FormID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.FormID)
	}
}

// Register adds a new client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns how many clients watch formID.
func (h *Hub) Subscribers(formID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{formID: formID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// VariationReady announces audio for one variation.
func (h *Hub) VariationReady(formID string, songIndex int, variationID, audioURL string) {
	h.publish(formID, model.WSVariationMessage{
		Type:        model.WSMessageTypeVariation,
		FormID:      formID,
		SongIndex:   songIndex,
		VariationID: variationID,
		AudioURL:    audioURL,
	})
}

// FormReady announces that the form reached variations_ready.
func (h *Hub) FormReady(formID string, songIndex int) {
	h.publish(formID, model.WSReadyMessage{
		Type:      model.WSMessageTypeReady,
		FormID:    formID,
		SongIndex: songIndex,
	})
}

// publish never blocks the caller; webhook handlers must not wait on browsers.
func (h *Hub) publish(formID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		fiberlog.Errorf("[WS] marshal message: %v", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{FormID: formID, Message: data}:
	default:
		fiberlog.Warnf("[WS] broadcast queue full, dropping update for form %s", formID)
	}
}

// HandleConnection serves one websocket until the client disconnects.
func (h *Hub) HandleConnection(c *websocket.Conn, formID string) {
	client := &Client{
		FormID: formID,
		Conn:   c,
		Send:   make(chan []byte, 64),
		pong:   make(chan []byte, 1),
	}

	if !h.Register(client) {
		return
	}
	fiberlog.Debugf("[WS] form %s has %d watcher(s)", formID, h.Subscribers(formID))

	// The connection goes back to the pool when this handler returns, so the
	// writer must be gone by then.
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(c, client, stop, pingInterval)
	}()
	defer func() {
		close(stop)
		h.Unregister(client)
		<-writerDone
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fiberlog.Warnf("[WS] read error on form %s: %v", formID, err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.pong <- pong:
			default:
			}
		}
	}
}

// frameWriter is the write side of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// writePump owns all writes to one connection. It returns when stop is
// closed, when the hub closes client.Send, or on the first write error.
func writePump(w frameWriter, client *Client, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case message, ok := <-client.Send:
			if !ok {
				w.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-client.pong:
			if err := w.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := w.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
