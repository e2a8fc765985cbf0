package main

import (
	"net/http"
	"strconv"
)

func pageParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", 0, validationError("limit must be a non-negative integer")
		}
		limit = n
	}
	return q.Get("before"), limit, nil
}

func (a *api) handleBoardActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	before, limit, err := pageParams(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.activity.ListByBoard(r.Context(), id, before, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"activity": items})
}

func (a *api) handleCardActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	before, limit, err := pageParams(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, _, err := a.cardBoard(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.activity.ListByCard(r.Context(), id, before, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"activity": items})
}
