package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
)

// client is one websocket connection of a room.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Room groups the connections editing one document.
type Room struct {
	id      protocol.DocumentID
	clients map[*client]struct{}
	mu      sync.Mutex
}

// Hub relays edits between the clients of a document. The first client to
// load a document gets the stored snapshot; every later edit is composed
// into it and forwarded to the other clients of the room.
type Hub struct {
	store    *Store
	config   Config
	upgrader websocket.Upgrader
	logger   log.Log

	rooms  map[protocol.DocumentID]*Room
	mu     sync.Mutex
	closed bool
}

// NewHub creates a hub serving documents from store.
func NewHub(store *Store, config Config, logger log.Log) *Hub {
	return &Hub{
		store:  store,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(log.String("component", "relay_hub")),
		rooms:  make(map[protocol.DocumentID]*Room),
	}
}

// ServeHTTP upgrades /ws?doc=ID requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, err := protocol.ParseDocumentID(r.URL.Query().Get(protocol.QueryParam))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", log.Error(err))
		return
	}
	if h.config.MaxMessageSize > 0 {
		conn.SetReadLimit(h.config.MaxMessageSize)
	}

	c := &client{id: uuid.NewString(), conn: conn}
	room, err := h.join(roomID, c)
	if err != nil {
		_ = conn.Close()
		return
	}

	h.logger.Info("Client joined",
		log.String("client_id", c.id),
		log.Int64("document_id", int64(roomID)),
		log.String("remote_addr", conn.RemoteAddr().String()))

	h.serve(c, room)
}

// Clients returns the number of connections in the room of id.
func (h *Hub) Clients(id protocol.DocumentID) int {
	h.mu.Lock()
	room, ok := h.rooms[id]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.clients)
}

// Close disconnects every client with a going-away frame.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[protocol.DocumentID]*Room)
	h.mu.Unlock()

	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	for _, room := range rooms {
		room.mu.Lock()
		for c := range room.clients {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = c.conn.Close()
			delete(room.clients, c)
		}
		room.mu.Unlock()
	}
}

func (h *Hub) join(id protocol.DocumentID, c *client) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrServerClosed
	}

	room, ok := h.rooms[id]
	if !ok {
		room = &Room{id: id, clients: make(map[*client]struct{})}
		h.rooms[id] = room
	}
	room.mu.Lock()
	room.clients[c] = struct{}{}
	room.mu.Unlock()
	return room, nil
}

func (h *Hub) leave(room *Room, c *client) {
	room.mu.Lock()
	delete(room.clients, c)
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if empty {
		h.mu.Lock()
		if current, ok := h.rooms[room.id]; ok && current == room {
			room.mu.Lock()
			if len(room.clients) == 0 {
				delete(h.rooms, room.id)
			}
			room.mu.Unlock()
		}
		h.mu.Unlock()
	}
}

func (h *Hub) serve(c *client, room *Room) {
	defer func() {
		h.leave(room, c)
		_ = c.conn.Close()
		h.logger.Info("Client left", log.String("client_id", c.id), log.Int64("document_id", int64(room.id)))
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Read failed", log.String("client_id", c.id), log.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("Discarding message", log.String("client_id", c.id), log.Error(err))
			continue
		}

		switch m := msg.(type) {
		case protocol.Load:
			if m.DocumentID != room.id {
				h.logger.Debug("Discarding load of another document", log.String("client_id", c.id), log.Int64("target", int64(m.DocumentID)))
				continue
			}
			doc := h.store.Open(room.id)
			reply, err := protocol.Encode(protocol.Initial{Title: doc.Title, Content: doc.Content})
			if err != nil {
				h.logger.Error("Failed to encode snapshot", log.Error(err))
				continue
			}
			if err = c.write(reply, h.config.WriteTimeout); err != nil {
				h.logger.Debug("Write failed", log.String("client_id", c.id), log.Error(err))
				return
			}

		case protocol.Edit:
			if m.DocumentID != room.id {
				h.logger.Debug("Discarding edit of another document", log.String("client_id", c.id), log.Int64("target", int64(m.DocumentID)))
				continue
			}
			if err = h.store.Apply(room.id, m.Delta); err != nil {
				h.logger.Debug("Discarding edit", log.String("client_id", c.id), log.Error(err))
				continue
			}
			h.broadcast(room, c, data)

		default:
			h.logger.Debug("Ignoring message", log.String("type", msg.Type().String()))
		}
	}
}

// broadcast sends data to every client of room except the sender.
func (h *Hub) broadcast(room *Room, sender *client, data []byte) {
	room.mu.Lock()
	defer room.mu.Unlock()
	for c := range room.clients {
		if c == sender {
			continue
		}
		if err := c.write(data, h.config.WriteTimeout); err != nil {
			h.logger.Debug("Dropping client", log.String("client_id", c.id), log.Error(err))
			_ = c.conn.Close()
			delete(room.clients, c)
		}
	}
}
