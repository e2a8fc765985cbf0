package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 25 * time.Second
	readTimeout  = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *api) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range a.cfg.CORSOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

// handleWS upgrades an authenticated request and runs the board protocol on it.
func (a *api) handleWS(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		loggerFrom(r.Context()).Warn("websocket upgrade", "err", err)
		return
	}

	c := a.hub.connect(*u, "ws")
	log := loggerFrom(r.Context()).With("conn", c.id, "user", u.ID)
	done := make(chan struct{})
	go a.writePump(conn, c, done)

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		a.leaveBoard(ctx, c)
		a.hub.disconnect(c)
		<-done
	}()

	a.hub.sendTo(c, evConnected, map[string]any{"connectionId": c.id, "userId": u.ID})

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		var in inboundFrame
		if err := json.Unmarshal(msg, &in); err != nil || in.Event == "" {
			a.hub.sendTo(c, evError, map[string]any{"code": "validation_error", "message": "malformed frame"})
			continue
		}
		a.handleFrame(r.Context(), c, in)
	}
}

// writePump owns all writes to conn. It exits when the client queue is closed.
func (a *api) writePump(conn *websocket.Conn, c *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()
	for {
		select {
		case msg, ok := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				drain(conn, c)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(conn, c)
				return
			}
		}
	}
}

// drain closes a broken conn so the read loop unwinds, then discards frames
// until the hub closes the queue.
func drain(conn *websocket.Conn, c *client) {
	_ = conn.Close()
	for range c.out {
	}
}

func (a *api) handleFrame(ctx context.Context, c *client, in inboundFrame) {
	switch in.Event {
	case "board:join":
		var req struct {
			BoardID int64 `json:"boardId"`
		}
		if err := json.Unmarshal(in.Data, &req); err != nil || req.BoardID <= 0 {
			a.hub.sendTo(c, evError, map[string]any{"code": "validation_error", "message": "boardId required"})
			return
		}
		a.joinBoard(ctx, c, req.BoardID)
	case "board:leave":
		var req struct {
			BoardID int64 `json:"boardId"`
		}
		_ = json.Unmarshal(in.Data, &req)
		if cur := c.board(); cur != 0 && (req.BoardID == 0 || req.BoardID == cur) {
			a.leaveBoard(ctx, c)
		}
	case "cursor:move":
		a.relayCursor(ctx, c, in.Data)
	default:
		a.hub.sendTo(c, evError, map[string]any{"code": "validation_error", "message": "unknown event " + in.Event})
	}
}

func (a *api) joinBoard(ctx context.Context, c *client, boardID int64) {
	access, err := a.store.BoardAccess(ctx, boardID, c.userID)
	if err != nil || !access.Allows(RoleViewer) {
		ae := toAPIError(ErrForbidden)
		if err != nil {
			ae = toAPIError(err)
		}
		a.hub.sendTo(c, evError, map[string]any{"code": ae.Code, "message": ae.Message, "boardId": boardID})
		return
	}
	a.seat(ctx, c, boardID)
}

// seat moves an authorized connection into the board room, replies with the
// room's presence and announces the join to everyone else unless the user
// already had a connection there.
func (a *api) seat(ctx context.Context, c *client, boardID int64) {
	log := loggerFrom(ctx)
	before, err := a.presence.ListActive(ctx, boardID)
	if err != nil {
		log.Warn("presence list", "board", boardID, "err", err)
	}
	wasActive := containsUser(before, c.userID)
	prev := a.hub.join(c, boardID)
	seated, err := a.presence.Join(ctx, boardID, c.id, PresenceUser{UserID: c.userID, Username: c.username, AvatarURL: c.avatarURL})
	if err != nil {
		log.Warn("presence join", "board", boardID, "err", err)
	}
	if seated != 0 && seated != boardID {
		prev = seated
	}
	if prev != 0 && prev != boardID {
		a.announceLeft(ctx, prev, c.userID)
	}
	active, err := a.presence.ListActive(ctx, boardID)
	if err != nil {
		log.Warn("presence list", "board", boardID, "err", err)
	}
	a.hub.sendTo(c, evPresence, map[string]any{"boardId": boardID, "users": active})
	if wasActive {
		return
	}
	a.hub.BroadcastToBoard(ctx, boardID, evUserJoined, map[string]any{
		"userId":      c.userID,
		"boardId":     boardID,
		"user":        PresenceUser{UserID: c.userID, Username: c.username, AvatarURL: c.avatarURL},
		"activeUsers": active,
	}, c.id)
}

func (a *api) leaveBoard(ctx context.Context, c *client) {
	boardID := a.hub.leave(c)
	e, ok, err := a.presence.Leave(ctx, c.id)
	if err != nil {
		loggerFrom(ctx).Warn("presence leave", "conn", c.id, "err", err)
	}
	if boardID == 0 && ok {
		boardID = e.BoardID
	}
	if boardID != 0 {
		a.announceLeft(ctx, boardID, c.userID)
	}
}

// announceLeft tells the room a user left, but only once their last
// connection on that board is gone.
func (a *api) announceLeft(ctx context.Context, boardID, userID int64) {
	active, err := a.presence.ListActive(ctx, boardID)
	if err != nil {
		loggerFrom(ctx).Warn("presence list", "board", boardID, "err", err)
		return
	}
	if containsUser(active, userID) {
		return
	}
	a.hub.BroadcastToBoard(ctx, boardID, evUserLeft, map[string]any{
		"userId":      userID,
		"boardId":     boardID,
		"activeUsers": active,
	}, "")
}

// relayCursor forwards a pointer position to the rest of the room. Invalid or
// throttled frames are dropped without a reply.
func (a *api) relayCursor(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.X == nil || req.Y == nil {
		return
	}
	boardID := c.board()
	if boardID == 0 || !c.cursor.Allow() {
		return
	}
	a.hub.BroadcastToBoard(ctx, boardID, evCursorUpdated, map[string]any{
		"userId":   c.userID,
		"username": c.username,
		"boardId":  boardID,
		"x":        *req.X,
		"y":        *req.Y,
	}, c.id)
}
