package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// EventHub pushes store mutation events to connected UI clients so the
// profile list refreshes without polling. Clients are write-only; their
// inbound stream is drained purely to detect disconnects.
type EventHub struct {
	clients        map[eventClient]bool
	broadcast      chan interface{}
	register       chan eventClient
	unregister     chan eventClient
	allowedOrigins []string
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// eventClient allows for both real clients and mock clients.
type eventClient interface {
	getSendChannel() chan []byte
	close()
}

// hubClient is a live websocket connection in the hub.
type hubClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *hubClient) getSendChannel() chan []byte { return c.send }

func (c *hubClient) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewEventHub creates a hub. allowedOrigins restricts websocket
// upgrades; empty means same-host origins only.
func NewEventHub(allowedOrigins []string) *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:        make(map[eventClient]bool),
		broadcast:      make(chan interface{}, 256),
		register:       make(chan eventClient),
		unregister:     make(chan eventClient),
		allowedOrigins: allowedOrigins,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("events: client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("events: client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			// Full lock: the default branch may delete from the map.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("ERROR: events: failed to marshal message: %v", err)
				h.mu.Unlock()
				continue
			}
			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Client can't keep up; disconnect it.
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			log.Println("events: hub stopping...")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[eventClient]bool)
	h.mu.Unlock()
}

// Broadcast queues a message for every connected client. Drops when the
// hub is saturated; UI refresh events are not precious.
func (h *EventHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("WARNING: events: broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *EventHub) Register(client eventClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *EventHub) Unregister(client eventClient) {
	h.unregister <- client
}

// ServeHTTP handles websocket upgrade requests.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Printf("ERROR: events: websocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends queued messages to the websocket connection.
func (c *hubClient) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			log.Printf("ERROR: events: websocket write failed: %v", err)
			return
		}
	}
}

// readPump drains inbound messages to detect disconnections.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockEventClient is a mock client for testing.
type MockEventClient struct {
	SendChan chan []byte
}

func (m *MockEventClient) getSendChannel() chan []byte { return m.SendChan }

func (m *MockEventClient) close() {}
