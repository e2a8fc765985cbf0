package main

import (
	"errors"
	"net/http"
	"strings"
)

// PATCH /api/me { username }
func (a *api) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	me := authUser(r)
	var req struct {
		Username *string `json:"username"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Username == nil {
		a.fail(w, r, validationError("nothing to update"))
		return
	}
	v := strings.TrimSpace(*req.Username)
	if v == "" || len(v) > 64 {
		a.fail(w, r, validationError("username must be 1..64 characters"))
		return
	}
	u, err := a.store.UpdateUser(r.Context(), me.ID, &v, nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": u})
}

// PUT /api/me/avatar (multipart field "avatar")
func (a *api) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	if a.avatars == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "avatar storage not configured", "code": "unavailable"})
		return
	}
	me := authUser(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+(64<<10))
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, validationError("avatar must be at most 2 MiB"))
			return
		}
		a.fail(w, r, validationError("invalid multipart body"))
		return
	}
	file, hdr, err := r.FormFile("avatar")
	if err != nil {
		a.fail(w, r, validationError("avatar field required"))
		return
	}
	defer file.Close()
	if hdr.Size > maxAvatarSize {
		a.fail(w, r, validationError("avatar must be at most 2 MiB"))
		return
	}
	ct := hdr.Header.Get("Content-Type")
	if _, ok := avatarTypes[ct]; !ok {
		a.fail(w, r, validationError("avatar must be png, jpeg, gif or webp"))
		return
	}
	url, err := a.avatars.Put(r.Context(), me.ID, ct, file, hdr.Size)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.store.UpdateUser(r.Context(), me.ID, nil, &url)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": u})
}
