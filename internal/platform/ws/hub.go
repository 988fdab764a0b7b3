// Package ws pushes queue-board changes to connected displays and patient
// apps. It is an optional channel: the pull endpoints remain authoritative,
// and clients are expected to poll if the socket drops.
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Event is a queue-changed notification for one doctor's board on one date.
type Event struct {
	Type      string          `json:"type"` // checked_in, transitioned, doctor_checked_in
	DoctorID  string          `json:"doctor_id"`
	Date      string          `json:"date"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BoardTopic names the broadcast topic for a (doctor, date) queue board.
func BoardTopic(doctorID, date string) string {
	return fmt.Sprintf("queue:%s:%s", doctorID, date)
}

type client struct {
	topic string
	send  chan []byte
}

// Hub fans queue events out to the clients watching each board.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.topic] == nil {
		h.clients[c.topic] = make(map[*client]struct{})
	}
	h.clients[c.topic][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers, ok := h.clients[c.topic]
	if !ok {
		return
	}
	if _, ok := subscribers[c]; !ok {
		return
	}
	delete(subscribers, c)
	if len(subscribers) == 0 {
		delete(h.clients, c.topic)
	}
	close(c.send)
}

// Broadcast sends the event to every client watching its board. A slow
// client's buffer being full drops the event for that client rather than
// blocking the queue mutation path.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[BoardTopic(event.DoctorID, event.Date)] {
		select {
		case c.send <- data:
		default:
		}
	}
}

// WatcherCount returns how many clients watch the given board.
func (h *Hub) WatcherCount(doctorID, date string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[BoardTopic(doctorID, date)])
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy enforced at the HTTP layer
	},
}

// Handler upgrades board-watch requests to websocket connections.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleBoard subscribes the connection to a single (doctor, date) board.
// doctorID comes from the route, date from the query string.
func (h *Handler) HandleBoard(c echo.Context) error {
	doctorID := c.Param("doctorID")
	date := c.QueryParam("date")
	if doctorID == "" || date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor and date are required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{
		topic: BoardTopic(doctorID, date),
		send:  make(chan []byte, 64),
	}
	h.hub.register(cl)

	go h.writePump(cl, conn)
	go h.readPump(cl, conn)

	return nil
}

// readPump discards inbound frames; it exists to notice the close.
func (h *Handler) readPump(cl *client, conn *gorillaws.Conn) {
	defer func() {
		h.hub.unregister(cl)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(cl *client, conn *gorillaws.Conn) {
	defer conn.Close()
	for message := range cl.send {
		if err := conn.WriteMessage(gorillaws.TextMessage, message); err != nil {
			return
		}
	}
}
