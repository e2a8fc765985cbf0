package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiterPerKey(t *testing.T) {
	lim := newKeyedLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, lim.allow("10.0.0.1"))
	}
	assert.False(t, lim.allow("10.0.0.1"))
	assert.True(t, lim.allow("10.0.0.2"))
}

func TestWithRateLimit(t *testing.T) {
	a := &api{}
	lim := newKeyedLimiter(1, time.Minute)
	h := a.withRateLimit(lim, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		r.RemoteAddr = "192.0.2.7:5555"
		w := httptest.NewRecorder()
		h(w, r)
		return w
	}
	assert.Equal(t, http.StatusNoContent, do().Code)
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(r))
	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientIP(r))
}
