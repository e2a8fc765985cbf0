package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Event names pushed to clients.
const (
	evConnected     = "connected"
	evError         = "error"
	evBoardUpdated  = "board:updated"
	evCardCreated   = "card:created"
	evCardUpdated   = "card:updated"
	evCardDeleted   = "card:deleted"
	evCardMoved     = "card:moved"
	evMemberAdded   = "board:member-added"
	evMemberUpdated = "board:member-updated"
	evMemberRemoved = "board:member-removed"
	evUserJoined    = "board:user-joined"
	evUserLeft      = "board:user-left"
	evPresence      = "board:presence"
	evCursorUpdated = "cursor:updated"
	evNotification  = "notification:new"
)

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

const clientQueue = 64

// client is one live connection. Sends never block: a full queue drops the frame.
type client struct {
	id        string
	userID    int64
	username  string
	avatarURL string
	transport string
	out       chan []byte
	cursor    *rate.Limiter

	mu      sync.Mutex
	boardID int64
}

func (c *client) board() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

func (c *client) send(msg []byte) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// relayMessage addresses a frame to a board room or a user channel.
type relayMessage struct {
	BoardID int64           `json:"boardId,omitempty"`
	UserID  int64           `json:"userId,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Event   string          `json:"event"`
	Frame   json.RawMessage `json:"frame"`
}

// relay carries frames between instances. Every instance, the publisher
// included, delivers what it receives to its local connections.
type relay interface {
	publish(ctx context.Context, m relayMessage) error
}

// Hub owns board rooms and per-user channels for this instance.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[int64]map[*client]struct{}
	users   map[int64]map[*client]struct{}
	relay   relay
	log     *slog.Logger
	metrics *metrics

	cursorRate  rate.Limit
	cursorBurst int
}

func NewHub(log *slog.Logger, m *metrics, cursorRate float64, cursorBurst int) *Hub {
	return &Hub{
		rooms:       make(map[int64]map[*client]struct{}),
		users:       make(map[int64]map[*client]struct{}),
		log:         log,
		metrics:     m,
		cursorRate:  rate.Limit(cursorRate),
		cursorBurst: cursorBurst,
	}
}

func (h *Hub) useRelay(r relay) { h.relay = r }

// connect registers a connection on the user's private channel.
func (h *Hub) connect(u User, transport string) *client {
	c := &client{
		id:        uuid.NewString(),
		userID:    u.ID,
		username:  u.Username,
		avatarURL: u.AvatarURL,
		transport: transport,
		out:       make(chan []byte, clientQueue),
		cursor:    rate.NewLimiter(h.cursorRate, h.cursorBurst),
	}
	h.mu.Lock()
	if h.users[u.ID] == nil {
		h.users[u.ID] = make(map[*client]struct{})
	}
	h.users[u.ID][c] = struct{}{}
	h.mu.Unlock()
	h.metrics.connections.WithLabelValues(transport).Inc()
	return c
}

// disconnect drops the connection from every room and closes its queue.
func (h *Hub) disconnect(c *client) {
	h.mu.Lock()
	h.removeFromRoomLocked(c)
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()
	close(c.out)
	h.metrics.connections.WithLabelValues(c.transport).Dec()
}

// join moves the connection into boardID's room and returns the room it left.
func (h *Hub) join(c *client, boardID int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.removeFromRoomLocked(c)
	if h.rooms[boardID] == nil {
		h.rooms[boardID] = make(map[*client]struct{})
	}
	h.rooms[boardID][c] = struct{}{}
	c.mu.Lock()
	c.boardID = boardID
	c.mu.Unlock()
	return prev
}

func (h *Hub) leave(c *client) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeFromRoomLocked(c)
}

func (h *Hub) removeFromRoomLocked(c *client) int64 {
	c.mu.Lock()
	prev := c.boardID
	c.boardID = 0
	c.mu.Unlock()
	if prev == 0 {
		return 0
	}
	if room, ok := h.rooms[prev]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, prev)
		}
	}
	return prev
}

// BroadcastToBoard fans event out to the board room, skipping the connection
// named by exclude. Delivery is at-most-once.
func (h *Hub) BroadcastToBoard(ctx context.Context, boardID int64, event string, payload any, exclude string) {
	h.dispatch(ctx, relayMessage{BoardID: boardID, Exclude: exclude, Event: event}, payload)
}

// BroadcastToUser targets every connection of one user regardless of room.
func (h *Hub) BroadcastToUser(ctx context.Context, userID int64, event string, payload any) {
	h.dispatch(ctx, relayMessage{UserID: userID, Event: event}, payload)
}

func (h *Hub) dispatch(ctx context.Context, m relayMessage, payload any) {
	raw, err := json.Marshal(frame{Event: m.Event, Data: payload})
	if err != nil {
		h.log.Error("encode event", "event", m.Event, "err", err)
		return
	}
	m.Frame = raw
	h.metrics.broadcasts.WithLabelValues(m.Event).Inc()
	if h.relay != nil {
		err := h.relay.publish(ctx, m)
		if err == nil {
			return
		}
		h.log.Warn("relay publish failed, delivering locally", "event", m.Event, "err", err)
	}
	h.deliver(m)
}

// deliver hands a frame to local connections.
func (h *Hub) deliver(m relayMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var set map[*client]struct{}
	if m.BoardID != 0 {
		set = h.rooms[m.BoardID]
	} else {
		set = h.users[m.UserID]
	}
	for c := range set {
		if m.Exclude != "" && c.id == m.Exclude {
			continue
		}
		if !c.send(m.Frame) {
			h.metrics.dropped.Inc()
		}
	}
	h.log.Debug("event delivered", "event", m.Event, "board", m.BoardID, "user", m.UserID, "conns", len(set))
}

// sendTo writes a frame to one connection only.
func (h *Hub) sendTo(c *client, event string, payload any) {
	raw, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		h.log.Error("encode event", "event", event, "err", err)
		return
	}
	if !c.send(raw) {
		h.metrics.dropped.Inc()
	}
}

// ServeSSE streams a board room to a receive-only client. SSE clients do not
// count towards presence.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, u User, boardID int64) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}

	c := h.connect(u, "sse")
	defer h.disconnect(c)
	h.join(c, boardID)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
