package main

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// cardBoard resolves the board holding a card and checks the caller's role on it.
func (a *api) cardBoard(ctx context.Context, cardID, userID int64, required Role) (int64, int64, error) {
	boardID, listID, err := a.store.BoardAndListByCard(ctx, cardID)
	if err != nil {
		return 0, 0, err
	}
	if _, err := a.authorize(ctx, boardID, userID, required); err != nil {
		return 0, 0, err
	}
	return boardID, listID, nil
}

func (a *api) handleCardsByList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	boardID, err := a.store.BoardIDByList(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), boardID, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.store.CardsByList(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Position    *int64 `json:"position"`
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
	boardID, err := a.store.BoardIDByList(r.Context(), listID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.authorize(r.Context(), boardID, u.ID, RoleMember); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.CreateCard(r.Context(), listID, title, req.Description, req.Position)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 201, c)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &c.ID, ActorID: &u.ID, Action: "card.created", BoardVisible: true,
		Data: map[string]any{"title": c.Title, "listId": listID}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardCreated, map[string]any{"userId": u.ID, "card": c}, socketID(r))
}

func (a *api) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, _, err := a.cardBoard(r.Context(), id, authUser(r).ID, RoleViewer); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.GetCard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	comments, err := a.store.CommentsByCard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"card": c, "comments": comments})
}

// optionalTime distinguishes an absent field from an explicit null.
type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return validationError("dueDate must be RFC3339")
	}
	o.Value = &t
	return nil
}

func validateCardPatch(labels *[]Label, checklist *[]ChecklistItem) error {
	if labels != nil {
		for _, l := range *labels {
			if strings.TrimSpace(l.Color) == "" {
				return validationError("label color required")
			}
		}
	}
	if checklist != nil {
		seen := map[string]bool{}
		for _, it := range *checklist {
			if it.ID == "" || seen[it.ID] {
				return validationError("checklist items need unique ids")
			}
			seen[it.ID] = true
		}
	}
	return nil
}

func (a *api) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		Title       *string          `json:"title"`
		Description *string          `json:"description"`
		Labels      *[]Label         `json:"labels"`
		DueDate     optionalTime     `json:"dueDate"`
		Checklist   *[]ChecklistItem `json:"checklist"`
		Archived    *bool            `json:"archived"`
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
	if err := validateCardPatch(req.Labels, req.Checklist); err != nil {
		a.fail(w, r, err)
		return
	}
	boardID, _, err := a.cardBoard(r.Context(), id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.UpdateCard(r.Context(), id, CardPatch{
		Title:       req.Title,
		Description: req.Description,
		Labels:      req.Labels,
		DueDate:     req.DueDate.Value,
		ClearDue:    req.DueDate.Set && req.DueDate.Value == nil,
		Checklist:   req.Checklist,
		Archived:    req.Archived,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, c)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &c.ID, ActorID: &u.ID, Action: "card.updated", BoardVisible: true,
		Data: map[string]any{"title": c.Title}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardUpdated, map[string]any{"userId": u.ID, "card": c}, socketID(r))
}

func (a *api) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	boardID, listID, err := a.cardBoard(r.Context(), id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.store.DeleteCard(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &id, ActorID: &u.ID, Action: "card.deleted", BoardVisible: true,
		Data: map[string]any{"listId": listID}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardDeleted, map[string]any{"userId": u.ID, "cardId": id, "listId": listID}, socketID(r))
}

// handleMoveCard places a card at position in the target list and rewrites
// both lists' positions from the client's view of them.
func (a *api) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		TargetListID      int64   `json:"targetListId"`
		Position          *int    `json:"position"`
		SourceListCardIDs []int64 `json:"sourceListCardIds"`
		TargetListCardIDs []int64 `json:"targetListCardIds"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.TargetListID <= 0 || req.Position == nil {
		a.fail(w, r, validationError("targetListId and position required"))
		return
	}
	if *req.Position < 0 {
		a.fail(w, r, validationError("position must be >= 0"))
		return
	}
	ctx := r.Context()
	srcBoard, srcListID, err := a.cardBoard(ctx, id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	target, err := a.store.GetList(ctx, req.TargetListID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if target.BoardID != srcBoard {
		if _, err := a.authorize(ctx, target.BoardID, u.ID, RoleMember); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	plan, err := planCardMove(id, srcListID, target.ID, *req.Position, req.SourceListCardIDs, req.TargetListCardIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.reindex.apply(ctx, plan); err != nil {
		a.fail(w, r, err)
		return
	}

	card, err := a.store.GetCard(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	targetCards, err := a.store.CardsByList(ctx, target.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sourceCards := targetCards
	if srcListID != target.ID {
		if sourceCards, err = a.store.CardsByList(ctx, srcListID); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	writeJSON(w, 200, map[string]any{"card": card, "sourceCards": sourceCards, "targetCards": targetCards})

	var fromTitle string
	if srcListID != target.ID {
		if src, err := a.store.GetList(ctx, srcListID); err == nil {
			fromTitle = src.Title
		}
	}
	for _, e := range moveActivity(u.ID, card, srcBoard, srcListID, fromTitle, target) {
		a.recordActivity(ctx, e)
	}
	payload := map[string]any{
		"userId":      u.ID,
		"card":        card,
		"fromListId":  srcListID,
		"toListId":    target.ID,
		"position":    card.Position,
		"sourceCards": sourceCards,
		"targetCards": targetCards,
	}
	a.hub.BroadcastToBoard(ctx, target.BoardID, evCardMoved, payload, socketID(r))
	if srcBoard != target.BoardID {
		a.hub.BroadcastToBoard(ctx, srcBoard, evCardMoved, payload, socketID(r))
	}
}

func (a *api) handleAssignCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u := authUser(r)
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.UserID <= 0 {
		a.fail(w, r, validationError("userId required"))
		return
	}
	boardID, _, err := a.cardBoard(r.Context(), id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assignee, err := a.store.BoardAccess(r.Context(), boardID, req.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if assignee.IsNone() {
		a.fail(w, r, validationError("assignee must be on the board"))
		return
	}
	if err := a.store.AssignCard(r.Context(), id, req.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.GetCard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, c)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &id, ActorID: &u.ID, Action: "card.assigned", BoardVisible: true,
		Data: map[string]any{"userId": req.UserID}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardUpdated, map[string]any{"userId": u.ID, "card": c}, socketID(r))
	if req.UserID != u.ID {
		a.notify(r.Context(), req.UserID, "card.assigned", map[string]any{
			"boardId": boardID, "cardId": id, "cardTitle": c.Title, "byUserId": u.ID,
		})
	}
}

func (a *api) handleUnassignCard(w http.ResponseWriter, r *http.Request) {
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
	boardID, _, err := a.cardBoard(r.Context(), id, u.ID, RoleMember)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.store.UnassignCard(r.Context(), id, uid); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.store.GetCard(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, 200, c)
	a.recordActivity(r.Context(), ActivityEntry{BoardID: boardID, CardID: &id, ActorID: &u.ID, Action: "card.unassigned", BoardVisible: true,
		Data: map[string]any{"userId": uid}})
	a.hub.BroadcastToBoard(r.Context(), boardID, evCardUpdated, map[string]any{"userId": u.ID, "card": c}, socketID(r))
}

// moveActivity builds the feed entries for a finished move. A move between
// boards is recorded on both boards; a reorder inside one list stays off the
// board feed.
func moveActivity(actorID int64, card Card, srcBoard, srcListID int64, fromTitle string, target List) []ActivityEntry {
	cardID := card.ID
	if srcListID == target.ID {
		return []ActivityEntry{{BoardID: target.BoardID, CardID: &cardID, ActorID: &actorID, Action: "card.reordered",
			Data: map[string]any{"listId": target.ID, "position": card.Position}}}
	}
	data := map[string]any{"fromListId": srcListID, "toListId": target.ID, "toList": target.Title, "position": card.Position}
	if fromTitle != "" {
		data["fromList"] = fromTitle
	}
	if srcBoard != target.BoardID {
		data["fromBoardId"] = srcBoard
		data["toBoardId"] = target.BoardID
	}
	entries := []ActivityEntry{{BoardID: target.BoardID, CardID: &cardID, ActorID: &actorID, Action: "card.moved", BoardVisible: true, Data: data}}
	if srcBoard != target.BoardID {
		entries = append(entries, ActivityEntry{BoardID: srcBoard, CardID: &cardID, ActorID: &actorID, Action: "card.moved", BoardVisible: true, Data: data})
	}
	return entries
}
