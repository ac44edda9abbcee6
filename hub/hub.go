package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yeremiapane/settlement-engine/utils"
)

// Event types
const (
	EventSettlementBatch   = "settlement_batch"
	EventSettlementConfirm = "settlement_confirm"
	EventAdjustmentConfirm = "adjustment_confirm"
	EventRefund            = "refund"
	EventIndexFailed       = "index_failed"
)

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Publisher is what services depend on; the hub is one implementation.
type Publisher interface {
	Broadcast(msg Message)
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type client struct {
	conn   *websocket.Conn
	userID uint
	send   chan []byte
}

// Hub holds the operator dashboard connections. Each connection has its own
// writer goroutine so a slow reader never blocks Broadcast.
type Hub struct {
	clients    map[*websocket.Conn]*client
	mutex      sync.Mutex
	writeWait  time.Duration
	sendBuffer int
}

func New() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		writeWait:  writeWait,
		sendBuffer: sendBuffer,
	}
}

func (h *Hub) Register(conn *websocket.Conn, userID uint) {
	c := &client{conn: conn, userID: userID, send: make(chan []byte, h.sendBuffer)}
	h.mutex.Lock()
	h.clients[conn] = c
	h.mutex.Unlock()
	go h.writePump(c)
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.drop(conn)
}

// drop must be called with the mutex held.
func (h *Hub) drop(conn *websocket.Conn) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	conn.Close()
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. A client whose queue is full is dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.Printf("Error marshaling hub message: %v", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	utils.InfoLogger.Debugf("Broadcasting %s to %d clients", msg.Event, len(h.clients))
	for conn, c := range h.clients {
		select {
		case c.send <- data:
		default:
			utils.ErrorLogger.Printf("Dropping slow client of user %d on %s", c.userID, msg.Event)
			h.drop(conn)
		}
	}
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			utils.ErrorLogger.Printf("Error sending to user %d: %v", c.userID, err)
			h.Unregister(c.conn)
			return
		}
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Broadcast(Message) {}
