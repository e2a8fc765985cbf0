package main

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
)

func (a *api) issueSession(w http.ResponseWriter, r *http.Request, status int, u User) {
	token, exp, err := a.tokens.Issue(u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.setSessionCookie(w, token, exp)
	writeJSON(w, status, map[string]any{"ok": true, "token": token, "user": u})
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		a.fail(w, r, validationError("invalid email"))
		return
	}
	if len(req.Password) < 8 {
		a.fail(w, r, validationError("password must be at least 8 characters"))
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	u, err := a.store.CreateUser(r.Context(), email, req.Password, username)
	if errors.Is(err, ErrEmailTaken) {
		a.fail(w, r, validationError("email already registered"))
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	loggerFrom(r.Context()).Info("user registered", "user", u.ID)
	a.issueSession(w, r, http.StatusCreated, u)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		a.fail(w, r, validationError("email and password required"))
		return
	}
	u, err := a.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.issueSession(w, r, http.StatusOK, u)
}

// handleLogout only clears the cookie; tokens expire on their own.
func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": authUser(r)})
}
