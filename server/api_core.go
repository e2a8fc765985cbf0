package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type api struct {
	cfg      Config
	store    *Store
	log      *slog.Logger
	metrics  *metrics
	hub      *Hub
	presence Presence
	activity ActivityLog
	reindex  *reindexer
	tokens   *tokenIssuer
	// avatars is nil when object storage is not configured
	avatars avatarStore
	// redis is nil unless a relay/presence backend is configured
	redis *redis.Client

	loginLimit    *keyedLimiter
	registerLimit *keyedLimiter
}

// newAPI wires the single-instance defaults; main swaps in Redis presence,
// the relay and alternative activity backends.
func newAPI(cfg Config, store *Store, log *slog.Logger, m *metrics) *api {
	a := &api{
		cfg:           cfg,
		store:         store,
		log:           log,
		metrics:       m,
		hub:           NewHub(log, m, cfg.CursorRate, cfg.CursorBurst),
		presence:      newMemoryPresence(),
		tokens:        newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		loginLimit:    newKeyedLimiter(30, time.Minute),
		registerLimit: newKeyedLimiter(20, time.Minute),
	}
	if store != nil {
		a.activity = newPostgresActivityLog(store.db)
		a.reindex = newReindexer(store, reindexMode(cfg.ReorderMode), cfg.ReorderTimeout, log)
		a.reindex.onConflict = func(k siblingKind) { m.conflicts.WithLabelValues(k.String()).Inc() }
	}
	return a
}

func parseID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

// pathID reads a positive numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := parseID(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, validationError("bad %s", name)
	}
	return id, nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return validationError("invalid payload: %v", err)
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// fail maps err onto the error taxonomy and writes it. Server-side failures
// are logged with the request's logger.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAPIError(err)
	if ae.Status >= 500 {
		loggerFrom(r.Context()).Error("request failed", "err", err)
	}
	writeJSON(w, ae.Status, map[string]any{"ok": false, "error": ae.Message, "code": ae.Code})
}

// socketID names the real-time connection that issued the request, so its
// own broadcasts can skip it.
func socketID(r *http.Request) string { return r.Header.Get("X-Socket-Id") }

// --- auth ---

func (a *api) sameSite() http.SameSite {
	switch strings.ToLower(a.cfg.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (a *api) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.sameSite(),
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
	})
}

func (a *api) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.sameSite(),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// bearerToken looks at the Authorization header, then the session cookie,
// then the token query parameter used by browsers opening sockets and streams.
func (a *api) bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

type userCtxKey struct{}

func (a *api) currentUser(r *http.Request) (*User, error) {
	if u, ok := r.Context().Value(userCtxKey{}).(*User); ok {
		return u, nil
	}
	tok := a.bearerToken(r)
	if tok == "" {
		return nil, ErrUnauthenticated
	}
	id, err := a.tokens.Parse(tok)
	if err != nil {
		return nil, err
	}
	u, err := a.store.GetUser(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// requireAuth resolves the caller once and carries it in the request context.
func (a *api) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := a.currentUser(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, u)
		ctx = withLogger(ctx, loggerFrom(ctx).With("user", u.ID))
		next(w, r.WithContext(ctx))
	}
}

// authUser is only valid behind requireAuth.
func authUser(r *http.Request) *User {
	u, _ := r.Context().Value(userCtxKey{}).(*User)
	return u
}

// authorize resolves the caller's role on boardID and checks it against required.
func (a *api) authorize(ctx context.Context, boardID, userID int64, required Role) (Access, error) {
	access, err := a.store.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return Access{}, err
	}
	if !access.Allows(required) {
		return access, ErrForbidden
	}
	return access, nil
}

// recordActivity never fails the request that triggered it.
func (a *api) recordActivity(ctx context.Context, e ActivityEntry) {
	if a.activity == nil {
		return
	}
	if _, err := a.activity.Append(ctx, e); err != nil {
		loggerFrom(ctx).Warn("append activity", "action", e.Action, "board", e.BoardID, "err", err)
	}
}

func (a *api) notify(ctx context.Context, userID int64, kind string, data map[string]any) {
	n, err := a.store.CreateNotification(ctx, userID, kind, data)
	if err != nil {
		loggerFrom(ctx).Warn("create notification", "kind", kind, "user", userID, "err", err)
		return
	}
	a.hub.BroadcastToUser(ctx, userID, evNotification, n)
}

// --- logging ---

type loggerCtxKey struct{}

func withLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, log)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

func withLogging(log *slog.Logger, m *metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		sw := &statusWriter{ResponseWriter: w, status: 200}
		r = r.WithContext(withLogger(r.Context(), log.With("req", reqID)))
		start := time.Now()
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		if m != nil {
			m.observeHTTP(r.Method, r.Pattern, sw.status, dur)
		}
		log.Info("http", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur_ms", dur.Milliseconds(), "req", reqID)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }

// Implement http.Flusher if underlying writer supports it (needed for SSE)
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/ready", a.handleReady)
	mux.Handle("GET /metrics", a.metrics.handler())

	mux.HandleFunc("POST /api/auth/register", a.withRateLimit(a.registerLimit, a.handleRegister))
	mux.HandleFunc("POST /api/auth/login", a.withRateLimit(a.loginLimit, a.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/auth/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("PATCH /api/me", a.requireAuth(a.handleUpdateMe))
	mux.HandleFunc("PUT /api/me/avatar", a.requireAuth(a.handleUploadAvatar))

	mux.HandleFunc("GET /api/boards", a.requireAuth(a.handleListBoards))
	mux.HandleFunc("POST /api/boards", a.requireAuth(a.handleCreateBoard))
	mux.HandleFunc("GET /api/boards/{id}", a.requireAuth(a.handleGetBoard))
	mux.HandleFunc("GET /api/boards/{id}/full", a.requireAuth(a.handleGetBoardFull))
	mux.HandleFunc("PATCH /api/boards/{id}", a.requireAuth(a.handleUpdateBoard))
	mux.HandleFunc("DELETE /api/boards/{id}", a.requireAuth(a.handleDeleteBoard))
	mux.HandleFunc("GET /api/boards/{id}/events", a.requireAuth(a.handleBoardEvents))
	mux.HandleFunc("GET /api/boards/{id}/activity", a.requireAuth(a.handleBoardActivity))

	mux.HandleFunc("GET /api/boards/{id}/members", a.requireAuth(a.handleListMembers))
	mux.HandleFunc("POST /api/boards/{id}/members", a.requireAuth(a.handleAddMember))
	mux.HandleFunc("PATCH /api/boards/{id}/members/{uid}", a.requireAuth(a.handleUpdateMember))
	mux.HandleFunc("DELETE /api/boards/{id}/members/{uid}", a.requireAuth(a.handleRemoveMember))

	mux.HandleFunc("GET /api/boards/{id}/lists", a.requireAuth(a.handleListsByBoard))
	mux.HandleFunc("POST /api/boards/{id}/lists", a.requireAuth(a.handleCreateList))
	mux.HandleFunc("PATCH /api/lists/{id}", a.requireAuth(a.handleUpdateList))
	mux.HandleFunc("DELETE /api/lists/{id}", a.requireAuth(a.handleDeleteList))
	mux.HandleFunc("POST /api/lists/reorder", a.requireAuth(a.handleReorderLists))

	mux.HandleFunc("GET /api/lists/{id}/cards", a.requireAuth(a.handleCardsByList))
	mux.HandleFunc("POST /api/lists/{id}/cards", a.requireAuth(a.handleCreateCard))
	mux.HandleFunc("GET /api/cards/{id}", a.requireAuth(a.handleGetCard))
	mux.HandleFunc("PATCH /api/cards/{id}", a.requireAuth(a.handleUpdateCard))
	mux.HandleFunc("DELETE /api/cards/{id}", a.requireAuth(a.handleDeleteCard))
	mux.HandleFunc("POST /api/cards/{id}/move", a.requireAuth(a.handleMoveCard))
	mux.HandleFunc("POST /api/cards/{id}/members", a.requireAuth(a.handleAssignCard))
	mux.HandleFunc("DELETE /api/cards/{id}/members/{uid}", a.requireAuth(a.handleUnassignCard))
	mux.HandleFunc("GET /api/cards/{id}/comments", a.requireAuth(a.handleListComments))
	mux.HandleFunc("POST /api/cards/{id}/comments", a.requireAuth(a.handleAddComment))
	mux.HandleFunc("GET /api/cards/{id}/activity", a.requireAuth(a.handleCardActivity))

	mux.HandleFunc("GET /api/notifications", a.requireAuth(a.handleListNotifications))
	mux.HandleFunc("POST /api/notifications/{id}/read", a.requireAuth(a.handleReadNotification))

	mux.HandleFunc("GET /api/ws", a.handleWS)
}
