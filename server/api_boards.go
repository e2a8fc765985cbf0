package main

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxTitleLen = 512

// cleanTitle trims and bounds a user-supplied title.
func cleanTitle(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxTitleLen {
		return "", validationError("title must be 1..%d characters", maxTitleLen)
	}
	return s, nil
}

func (a *api) handleListBoards(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.BoardsForUser(r.Context(), authUser(r).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	u := authUser(r)
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Background  string `json:"background"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	title, err := cleanTitle(req.Title)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.CreateBoard(r.Context(), u.ID, title, req.Description, req.Background)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b.Role = RoleOwner
	a.recordActivity(r.Context(), ActivityEntry{BoardID: b.ID, ActorID: &u.ID, Action: "board.created", BoardVisible: true,
		Data: map[string]any{"title": b.Title}})
	writeJSON(w, 201, b)
}

func (a *api) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	access, err := a.authorize(r.Context(), id, authUser(r).ID, RoleViewer)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.GetBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b.Role = access.Role()
	writeJSON(w, 200, b)
}

type fullList struct {
	List
	Cards []Card `json:"cards"`
}

// handleGetBoardFull returns the board with its lists and their cards, all in
// position order.
func (a *api) handleGetBoardFull(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	access, err := a.authorize(r.Context(), id, authUser(r).ID, RoleViewer)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.GetBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b.Role = access.Role()
	lists, err := a.store.ListsByBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cards, err := a.store.CardsByBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	members, err := a.store.Members(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]fullList, 0, len(lists))
	for _, l := range lists {
		cs := cards[l.ID]
		if cs == nil {
			cs = []Card{}
		}
		out = append(out, fullList{List: l, Cards: cs})
	}
	writeJSON(w, 200, map[string]any{"board": b, "lists": out, "members": members})
}

func (a *api) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Background  *string `json:"background"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Title != nil {
		t, err := cleanTitle(*req.Title)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		req.Title = &t
	}
	if _, err := a.authorize(r.Context(), id, u.ID, RoleAdmin); err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.UpdateBoard(r.Context(), id, req.Title, req.Description, req.Background)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, b)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: id, ActorID: &u.ID, Action: "board.updated", BoardVisible: true,
		Data: map[string]any{"title": b.Title}})
	a.hub.BroadcastToBoard(r.Context(), id, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": id, "reason": "board-updated", "board": b,
	}, socketID(r))
}

// handleDeleteBoard is owner-only; admins are refused.
func (a *api) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	access, err := a.store.BoardAccess(r.Context(), id, u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !access.IsOwner() {
		a.fail(w, r, ErrForbidden)
		return
	}
	if err := a.store.DeleteBoard(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.activity.DeleteBoard(r.Context(), id); err != nil {
		loggerFrom(r.Context()).Warn("delete board activity", "board", id, "err", err)
	}
	writeJSON(w, 200, map[string]any{"ok": true})
	a.hub.BroadcastToBoard(r.Context(), id, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": id, "reason": "board-deleted",
	}, socketID(r))
}

func (a *api) handleBoardEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	if _, err := a.authorize(r.Context(), id, u.ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	a.hub.ServeSSE(w, r, *u, id)
}
