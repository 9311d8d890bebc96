package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"innkeeper/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
	sendBuffer = 64
)

// wsMessage is what subscribers receive.
type wsMessage struct {
	Type      string `json:"type"`
	BookingID int64  `json:"booking_id"`
	Entry     any    `json:"entry,omitempty"`
}

// connection is a single websocket client watching one booking.
type connection struct {
	userID    int64
	bookingID int64
	conn      *websocket.Conn
	send      chan []byte
}

// Hub fans history events out to websocket subscribers. It implements
// events.Publisher so it can sit next to the broker publisher.
type Hub struct {
	mu    sync.RWMutex
	conns map[*connection]struct{}
	log   logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		conns: make(map[*connection]struct{}),
		log:   log,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
}

// Subscribers returns how many clients watch bookingID.
func (h *Hub) Subscribers(bookingID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.conns {
		if c.bookingID == bookingID {
			n++
		}
	}
	return n
}

// Publish forwards history.recorded events to the booking's subscribers.
// Other event types are ignored.
func (h *Hub) Publish(_ context.Context, evt events.Event) error {
	if evt.Type != events.TypeHistoryRecorded {
		return nil
	}
	data, err := json.Marshal(wsMessage{Type: evt.Type, BookingID: evt.BookingID, Entry: evt.Payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.bookingID != evt.BookingID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.WithFields(logrus.Fields{
				"booking_id": c.bookingID,
				"user_id":    c.userID,
			}).Warn("websocket subscriber too slow, dropping history event")
		}
	}
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
	}
	return nil
}

// ServeWS registers conn and runs its read and write loops until the client
// goes away.
func (h *Hub) ServeWS(conn *websocket.Conn, userID, bookingID int64) {
	c := &connection{
		userID:    userID,
		bookingID: bookingID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; clients have nothing to say.
func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("booking_id", c.bookingID).Debug("websocket closed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
