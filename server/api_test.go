package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) errBody {
	t.Helper()
	var b errBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newTestAPI()
	mux := http.NewServeMux()
	a.routes(mux)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
	}{
		{"no token", http.MethodGet, "/api/boards", ""},
		{"garbage bearer", http.MethodGet, "/api/boards/1/full", "Bearer nope"},
		{"foreign secret", http.MethodPost, "/api/lists/reorder", "Bearer " + mustToken(t, "other-secret")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			b := decodeErr(t, w)
			assert.False(t, b.OK)
			assert.Equal(t, "unauthenticated", b.Code)
		})
	}
}

func mustToken(t *testing.T, secret string) string {
	t.Helper()
	raw, _, err := newTokenIssuer(secret, defaultConfig().TokenTTL).Issue(1)
	require.NoError(t, err)
	return raw
}

func TestBearerTokenSources(t *testing.T) {
	a := newTestAPI()
	r := httptest.NewRequest(http.MethodGet, "/api/ws?token=from-query", nil)
	assert.Equal(t, "from-query", a.bearerToken(r))

	r.AddCookie(&http.Cookie{Name: a.cfg.CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", a.bearerToken(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", a.bearerToken(r))
}

func withTestUser(r *http.Request, id int64) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userCtxKey{}, &User{ID: id, Username: "tester"}))
}

func TestReorderListsRejectsBadPayload(t *testing.T) {
	a := newTestAPI()
	tests := []struct {
		name string
		body string
	}{
		{"missing board", `{"listIds":[1,2]}`},
		{"duplicate ids", `{"boardId":1,"listIds":[1,2,1]}`},
		{"non-positive id", `{"boardId":1,"listIds":[3,-4]}`},
		{"unknown field", `{"boardId":1,"listIds":[1],"force":true}`},
		{"not json", `[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := withTestUser(httptest.NewRequest(http.MethodPost, "/api/lists/reorder", strings.NewReader(tt.body)), 1)
			w := httptest.NewRecorder()
			a.handleReorderLists(w, r)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation_error", decodeErr(t, w).Code)
		})
	}
}

func TestMoveCardRejectsBadPayload(t *testing.T) {
	a := newTestAPI()
	r := withTestUser(httptest.NewRequest(http.MethodPost, "/api/cards/5/move",
		strings.NewReader(`{"targetListId":2,"position":-1}`)), 1)
	r.SetPathValue("id", "5")
	w := httptest.NewRecorder()
	a.handleMoveCard(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeErr(t, w).Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI()
	w := httptest.NewRecorder()
	a.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestWithLoggingRequestID(t *testing.T) {
	m := newMetrics()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, loggerFrom(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	h := withLogging(discardLogger(), m, mux)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.Header.Set("X-Request-Id", "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-Id"))
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{validationError("title required"), 400, "validation_error"},
		{fmt.Errorf("load board: %w", ErrNotFound), 404, "not_found"},
		{ErrForbidden, 403, "forbidden"},
		{errors.Join(ErrUnauthenticated, errors.New("token expired")), 401, "unauthenticated"},
		{fmt.Errorf("assign card positions: %w", ErrPositionConflict), 409, "position_conflict"},
		{errors.New("disk full"), 500, "internal_error"},
	}
	for _, tt := range tests {
		ae := toAPIError(tt.err)
		assert.Equal(t, tt.status, ae.Status, tt.err.Error())
		assert.Equal(t, tt.code, ae.Code, tt.err.Error())
	}
}

type stubAvatars struct{ puts int }

func (s *stubAvatars) Put(context.Context, int64, string, io.Reader, int64) (string, error) {
	s.puts++
	return "http://cdn.example/a.png", nil
}

func avatarRequest(t *testing.T, contentType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="avatar"; filename="me.bin"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("not really an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPut, "/api/me/avatar", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return withTestUser(r, 1)
}

func TestUploadAvatarValidation(t *testing.T) {
	a := newTestAPI()
	w := httptest.NewRecorder()
	a.handleUploadAvatar(w, avatarRequest(t, "image/png"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	stub := &stubAvatars{}
	a.avatars = stub
	w = httptest.NewRecorder()
	a.handleUploadAvatar(w, avatarRequest(t, "application/x-msdownload"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeErr(t, w).Code)
	assert.Zero(t, stub.puts)
}
