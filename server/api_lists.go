package main

import (
	"net/http"
)

func (a *api) handleListsByBoard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.store.ListsByBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleCreateList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Title    string `json:"title"`
		Position *int64 `json:"position"`
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
	if req.Position != nil && *req.Position < 0 {
		a.fail(w, r, validationError("position must be >= 0"))
		return
	}
	if _, err := a.authorize(r.Context(), id, u.ID, RoleMember); err != nil {
		a.fail(w, r, err)
		return
	}
	l, err := a.store.CreateList(r.Context(), id, title, req.Position)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 201, l)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: id, ActorID: &u.ID, Action: "list.created", BoardVisible: true,
		Data: map[string]any{"listId": l.ID, "title": l.Title}})
	a.hub.BroadcastToBoard(r.Context(), id, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": id, "reason": "list-created", "list": l,
	}, socketID(r))
}

func (a *api) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Title    *string `json:"title"`
		Archived *bool   `json:"archived"`
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
	boardID, err := a.store.BoardIDByList(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), boardID, u.ID, RoleMember); err != nil {
		a.fail(w, r, err)
		return
	}
	l, err := a.store.UpdateList(r.Context(), id, req.Title, req.Archived)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, l)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, ActorID: &u.ID, Action: "list.updated", BoardVisible: true,
		Data: map[string]any{"listId": l.ID, "title": l.Title, "archived": l.Archived}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": boardID, "reason": "list-updated", "list": l,
	}, socketID(r))
}

func (a *api) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	l, err := a.store.GetList(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), l.BoardID, u.ID, RoleMember); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.store.DeleteList(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
	a.recordActivity(r.Context(), ActivityEntry{BoardID: l.BoardID, ActorID: &u.ID, Action: "list.deleted", BoardVisible: true,
		Data: map[string]any{"listId": id, "title": l.Title}})
	a.hub.BroadcastToBoard(r.Context(), l.BoardID, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": l.BoardID, "reason": "list-deleted", "listId": id,
	}, socketID(r))
}

// handleReorderLists rewrites every list position on the board from the
// client's order. Lists that vanished meanwhile are skipped.
func (a *api) handleReorderLists(w http.ResponseWriter, r *http.Request) {
	u := authUser(r)
	var req struct {
		BoardID int64   `json:"boardId"`
		ListIDs []int64 `json:"listIds"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.BoardID <= 0 {
		a.fail(w, r, validationError("boardId required"))
		return
	}
	plan, err := planListReorder(req.BoardID, req.ListIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), req.BoardID, u.ID, RoleMember); err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.reindex.apply(r.Context(), plan); err != nil {
		a.fail(w, r, err)
		return
	}
	lists, err := a.store.ListsByBoard(r.Context(), req.BoardID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"lists": lists})
	if len(req.ListIDs) == 0 {
		return
	}
	a.recordActivity(r.Context(), ActivityEntry{BoardID: req.BoardID, ActorID: &u.ID, Action: "lists.reordered", BoardVisible: true,
		Data: map[string]any{"listIds": req.ListIDs}})
	a.hub.BroadcastToBoard(r.Context(), req.BoardID, evBoardUpdated, map[string]any{
		"userId": u.ID, "boardId": req.BoardID, "reason": "lists-reordered", "lists": lists,
	}, socketID(r))
}
