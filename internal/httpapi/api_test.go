// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/httpapi"
	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/memstore"
	"github.com/quilljournal/quill/internal/observability"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type api struct {
	t       *testing.T
	handler http.Handler
	store   *memstore.Store
	gate    *auth.Service
	metrics *observability.Metrics
}

type staticGreeter string

func (g staticGreeter) Greeting(_ context.Context, username string) string {
	return "Hii " + username + string(g)
}

func newAPI(t *testing.T, greeter httpapi.Greeter) *api {
	t.Helper()
	store := memstore.New()
	tokens, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour)
	require.NoError(t, err)
	hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Memory: 1024, Threads: 1})
	gate, err := auth.NewAuthService(store.Users(), hasher, tokens)
	require.NoError(t, err)
	coord, err := journal.NewCoordinator(journal.CoordinatorConfig{
		Entries:    store.Entries(),
		Ownership:  store.Ownership(),
		Users:      store.Users(),
		Transactor: store,
	})
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h, err := httpapi.NewRouter(httpapi.Config{
		Auth:    gate,
		Journal: coord,
		Greeter: greeter,
		Metrics: metrics,
	})
	require.NoError(t, err)
	return &api{t: t, handler: h, store: store, gate: gate, metrics: metrics}
}

func (a *api) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *api) signup(username, password string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/public/signup", map[string]string{"username": username, "password": password}, "")
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *api) login(username, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/public/login", map[string]string{"username": username, "password": password}, "")
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		JWT          string `json:"jwt"`
		RefreshToken string `json:"refreshToken"`
		TokenType    string `json:"tokenType"`
	}
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(a.t, "Bearer", resp.TokenType)
	return resp.JWT
}

func (a *api) user(name string) string {
	a.signup(name, "pw-"+name)
	return a.login(name, "pw-"+name)
}

type entryJSON struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	HasAudio bool   `json:"hasAudio"`
}

type errorJSON struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRouter_RequiresServices(t *testing.T) {
	_, err := httpapi.NewRouter(httpapi.Config{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do(http.MethodGet, "/public/health-check", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health-Check", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.HTTPRequests.WithLabelValues("GET", "/public/health-check", "200")))
}

func TestRequestID_Echoed(t *testing.T) {
	a := newAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/public/health-check", nil)
	req.Header.Set(httpapi.RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(httpapi.RequestIDHeader))
}

func TestSignup(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(http.MethodPost, "/public/signup", map[string]string{"username": "alice", "password": "pw1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, []any{"User"}, body["roles"])
	assert.NotContains(t, rec.Body.String(), "argon2")

	rec = a.do(http.MethodPost, "/public/signup", map[string]string{"username": "alice", "password": "other"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/public/signup", map[string]string{"username": "", "password": "pw"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorJSON](t, rec).Error.Details, "username")

	rec = a.do(http.MethodPost, "/public/signup", map[string]string{"username": "1bad", "password": "pw"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/public/signup", "not an object", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_GenericFailure(t *testing.T) {
	a := newAPI(t, nil)
	a.signup("alice", "pw1")

	wrong := a.do(http.MethodPost, "/public/login", map[string]string{"username": "alice", "password": "nope"}, "")
	unknown := a.do(http.MethodPost, "/public/login", map[string]string{"username": "mallory", "password": "nope"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
}

func TestRefreshToken(t *testing.T) {
	a := newAPI(t, nil)
	a.signup("alice", "pw1")

	rec := a.do(http.MethodPost, "/public/login", map[string]string{"username": "alice", "password": "pw1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decode[map[string]string](t, rec)

	rec = a.do(http.MethodPost, "/public/refresh-token", map[string]string{"token": pair["refreshToken"]}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[map[string]string](t, rec)
	assert.NotEmpty(t, fresh["jwt"])

	list := a.do(http.MethodGet, "/journal", nil, fresh["jwt"])
	assert.Equal(t, http.StatusOK, list.Code)

	rec = a.do(http.MethodPost, "/public/refresh-token", map[string]string{"token": pair["jwt"]}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "an access token is not a refresh token")
}

func TestJournal_RequiresBearer(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + token},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/journal", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestJournal_Lifecycle(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")

	rec := a.do(http.MethodGet, "/journal", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = a.do(http.MethodPost, "/journal", map[string]string{"title": "Day 1", "content": "first"}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entryJSON](t, rec)
	assert.Equal(t, "Day 1", created.Title)

	rec = a.do(http.MethodPut, "/journal/id/"+created.ID, map[string]string{"content": "edited"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[entryJSON](t, rec)
	assert.Equal(t, "Day 1", updated.Title)
	assert.Equal(t, "edited", updated.Content)

	rec = a.do(http.MethodGet, "/journal/id/"+created.ID, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "edited", decode[entryJSON](t, rec).Content)

	rec = a.do(http.MethodGet, "/journal", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entryJSON](t, rec), 1)

	rec = a.do(http.MethodDelete, "/journal/id/"+created.ID, nil, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/journal/id/"+created.ID, nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/journal", nil, token)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestJournal_CreateRequiresTitle(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")

	rec := a.do(http.MethodPost, "/journal", map[string]string{"content": "no title"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, a.store.EntryCount())
}

func TestJournal_ForeignEntriesAreNotFound(t *testing.T) {
	a := newAPI(t, nil)
	alice := a.user("alice")
	bob := a.user("bob")

	rec := a.do(http.MethodPost, "/journal", map[string]string{"title": "private"}, alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[entryJSON](t, rec).ID

	foreign := a.do(http.MethodGet, "/journal/id/"+id, nil, bob)
	missing := a.do(http.MethodGet, "/journal/id/"+ulid.Make().String(), nil, bob)
	bogus := a.do(http.MethodGet, "/journal/id/not-an-id", nil, bob)

	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, http.StatusNotFound, bogus.Code)
	assert.JSONEq(t, foreign.Body.String(), missing.Body.String())

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPut, "/journal/id/"+id, map[string]string{"title": "x"}, bob).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/journal/id/"+id, nil, bob).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/journal/id/"+id, nil, alice).Code)
}

func TestJournal_Audio(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")

	rec := a.do(http.MethodPost, "/journal", map[string]string{"title": "spoken"}, token)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[entryJSON](t, rec)
	assert.False(t, created.HasAudio)

	rec = a.do(http.MethodGet, "/journal/id/"+created.ID+"/audio", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := ulid.MustParse(created.ID)
	attached, err := a.store.Entries().AttachAudio(context.Background(), id, 1, []byte("ID3"))
	require.NoError(t, err)
	require.True(t, attached)

	rec = a.do(http.MethodGet, "/journal/id/"+created.ID+"/audio", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ID3", rec.Body.String())
}

func TestUser_ChangePassword(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")

	rec := a.do(http.MethodPut, "/user", map[string]string{"password": "new-secret"}, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	a.login("alice", "new-secret")
	rec = a.do(http.MethodPost, "/public/login", map[string]string{"username": "alice", "password": "pw-alice"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUser_Delete(t *testing.T) {
	a := newAPI(t, nil)
	token := a.user("alice")
	bob := a.user("bob")

	for _, title := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/journal", map[string]string{"title": title}, token).Code)
	}
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/journal", map[string]string{"title": "bob's"}, bob).Code)

	rec := a.do(http.MethodDelete, "/user", nil, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, a.store.EntryCount())

	rec = a.do(http.MethodGet, "/journal", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token of a deleted account")
}

func TestUser_Greeting(t *testing.T) {
	t.Run("without weather", func(t *testing.T) {
		a := newAPI(t, nil)
		token := a.user("alice")
		rec := a.do(http.MethodGet, "/user/greeting", nil, token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Hii alice Weather data not available", rec.Body.String())
	})

	t.Run("with weather", func(t *testing.T) {
		a := newAPI(t, staticGreeter(" Temperature: 30°C"))
		token := a.user("alice")
		rec := a.do(http.MethodGet, "/user/greeting", nil, token)
		assert.Equal(t, "Hii alice Temperature: 30°C", rec.Body.String())
	})
}

func TestAdmin(t *testing.T) {
	a := newAPI(t, nil)
	userToken := a.user("alice")

	_, err := a.gate.BootstrapAdmin(context.Background(), "root", "root-pw")
	require.NoError(t, err)
	adminToken := a.login("root", "root-pw")

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/admin/all-users", nil, userToken).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/admin/all-users", nil, "").Code)

	rec := a.do(http.MethodGet, "/admin/all-users", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = a.do(http.MethodPost, "/admin/create-admin", map[string]string{"username": "ops", "password": "ops-pw"}, userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/admin/create-admin", map[string]string{"username": "ops", "password": "ops-pw"}, adminToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.ElementsMatch(t, []any{"User", "ADMIN"}, decode[map[string]any](t, rec)["roles"])
}
