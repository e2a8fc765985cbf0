package main

import (
	"net/http"
	"strings"
)

func (a *api) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.GetBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	members, err := a.store.Members(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ownerId": b.OwnerID, "members": members})
}

func parseAssignableRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.assignable() {
		return "", validationError("role must be admin, member or viewer")
	}
	return role, nil
}

// handleAddMember takes either a userId or an email.
func (a *api) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		UserID int64  `json:"userId"`
		Email  string `json:"email"`
		Role   string `json:"role"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = string(RoleMember)
	}
	role, err := parseAssignableRole(req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), id, u.ID, RoleAdmin); err != nil {
		a.fail(w, r, err)
		return
	}
	var target User
	switch {
	case req.UserID > 0:
		target, err = a.store.GetUser(r.Context(), req.UserID)
	case strings.TrimSpace(req.Email) != "":
		target, err = a.store.UserByEmail(r.Context(), strings.TrimSpace(req.Email))
	default:
		err = validationError("userId or email required")
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.store.GetBoard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if target.ID == b.OwnerID {
		a.fail(w, r, validationError("the owner is already on the board"))
		return
	}
	m, err := a.store.AddMember(r.Context(), id, target.ID, role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 201, m)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: id, ActorID: &u.ID, Action: "member.added", BoardVisible: true,
		Data: map[string]any{"userId": m.UserID, "username": m.Username, "role": m.Role}})
	a.hub.BroadcastToBoard(r.Context(), id, evMemberAdded, map[string]any{"userId": u.ID, "boardId": id, "member": m}, socketID(r))
	a.notify(r.Context(), target.ID, "board.member-added", map[string]any{
		"boardId": id, "boardTitle": b.Title, "role": m.Role, "byUserId": u.ID,
	})
}

func (a *api) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	uid, err := pathID(r, "uid")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Role string `json:"role"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := parseAssignableRole(req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), id, u.ID, RoleAdmin); err != nil {
		a.fail(w, r, err)
		return
	}
	m, err := a.store.UpdateMemberRole(r.Context(), id, uid, role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, m)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: id, ActorID: &u.ID, Action: "member.updated", BoardVisible: true,
		Data: map[string]any{"userId": m.UserID, "role": m.Role}})
	a.hub.BroadcastToBoard(r.Context(), id, evMemberUpdated, map[string]any{"userId": u.ID, "boardId": id, "member": m}, socketID(r))
}

// handleRemoveMember is owner-only; admins are refused.
func (a *api) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	uid, err := pathID(r, "uid")
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
	if err := a.store.RemoveMember(r.Context(), id, uid); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
	a.recordActivity(r.Context(), ActivityEntry{BoardID: id, ActorID: &u.ID, Action: "member.removed", BoardVisible: true,
		Data: map[string]any{"userId": uid}})
	a.hub.BroadcastToBoard(r.Context(), id, evMemberRemoved, map[string]any{"userId": u.ID, "boardId": id, "removedUserId": uid}, socketID(r))
}
