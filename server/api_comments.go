package main

import (
	"net/http"
	"strings"
)

const maxCommentLen = 10000

func (a *api) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, _, err := a.cardBoard(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.store.CommentsByCard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, items)
}

// handleAddComment appends; comments are never edited.
func (a *api) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Body string `json:"body"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len(body) > maxCommentLen {
		a.fail(w, r, validationError("comment body must be 1..%d bytes", maxCommentLen))
		return
	}
	boardID, _, err := a.cardBoard(r.Context(), id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.AddComment(r.Context(), id, u.ID, body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 201, c)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &id, ActorID: &u.ID, Action: "comment.added", BoardVisible: true,
		Data: map[string]any{"commentId": c.ID}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardUpdated, map[string]any{"userId": u.ID, "cardId": id, "comment": c}, socketID(r))
}
