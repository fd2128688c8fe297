package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pumparena/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans room events out to websocket subscribers. Broadcast never
// blocks the caller: a client that cannot keep up has events dropped
// and learns the current state from its next query.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*wsClient]struct{}),
	}
}

type wsClient struct {
	roomID string
	player string
	conn   *websocket.Conn
	send   chan domain.RoomEvent
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Broadcast delivers an event to every subscriber of its room.
func (h *Hub) Broadcast(ev domain.RoomEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[ev.RoomID] {
		select {
		case c.send <- ev:
		default:
			// Slow consumer, drop the event.
		}
	}
}

// Subscribers returns the number of connections watching a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.roomID]
	if !ok {
		clients = make(map[*wsClient]struct{})
		h.rooms[c.roomID] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, c.roomID)
	}
	c.close()
}

// Serve upgrades the request and streams room events until the client
// disconnects. onClose runs exactly once when the connection ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, roomID, player string, onClose func()) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsClient{
		roomID: roomID,
		player: player,
		conn:   conn,
		send:   make(chan domain.RoomEvent, clientBuffer),
	}
	h.register(c)

	go h.writePump(c)
	go func() {
		defer func() {
			h.unregister(c)
			conn.Close()
			if onClose != nil {
				onClose()
			}
		}()
		h.readPump(c)
	}()
	return nil
}

// readPump discards client frames and enforces pong liveness. The
// stream is one-way; inputs arrive over HTTP.
func (h *Hub) readPump(c *wsClient) {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error",
					slog.String("room", c.roomID),
					slog.String("player", c.player),
					slog.Any("error", err),
				)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
