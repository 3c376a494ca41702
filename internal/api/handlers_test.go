package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omgupta81/Smartbridge/internal/persist"
	"github.com/omgupta81/Smartbridge/internal/session"
	sqlitestore "github.com/omgupta81/Smartbridge/internal/store/sqlite"
	"github.com/omgupta81/Smartbridge/internal/ws"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()

	st, err := sqlitestore.New(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	persister := persist.New(st)
	hub := ws.NewHub(st, persister)
	t.Cleanup(func() {
		persister.Stop()
		st.Close()
	})
	return New(hub, st)
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	handler(w, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return w, decoded
}

func TestHealthHandler(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.HealthHandler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatsHandler(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.StatsHandler, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["active_rooms"])
	assert.Equal(t, float64(0), body["active_clients"])
}

func TestCreateAndGetSession(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.SessionsRouter, http.MethodPost, "/api/sessions",
		CreateSessionRequest{Name: "My Session"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["ok"])

	created := body["session"].(map[string]interface{})
	roomID := created["roomId"].(string)
	require.NotEmpty(t, roomID)
	assert.Equal(t, "My Session", created["name"])

	w, body = doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/"+roomID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	got := body["session"].(map[string]interface{})
	assert.Equal(t, roomID, got["roomId"])
}

func TestCreateSessionDefaultsName(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.SessionsRouter, http.MethodPost, "/api/sessions",
		CreateSessionRequest{Name: "   "})
	require.Equal(t, http.StatusCreated, w.Code)
	created := body["session"].(map[string]interface{})
	assert.Equal(t, "Untitled", created["name"])
}

func TestGetSessionNotFound(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Session not found", body["error"])
}

func TestReplaceAndGetFiles(t *testing.T) {
	a := newTestAPI(t)

	_, body := doJSON(t, a.SessionsRouter, http.MethodPost, "/api/sessions",
		CreateSessionRequest{Name: "demo"})
	roomID := body["session"].(map[string]interface{})["roomId"].(string)

	w, body := doJSON(t, a.SessionsRouter, http.MethodPut, "/api/sessions/"+roomID+"/files",
		ReplaceFilesRequest{Files: []session.File{
			{Name: "main.js", Content: "console.log(1)"},
			{Name: "app.py", Content: "pass"},
		}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	w, body = doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/"+roomID+"/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	files := body["files"].([]interface{})
	require.Len(t, files, 2)

	first := files[0].(map[string]interface{})
	assert.Equal(t, "main.js", first["name"])
	assert.Equal(t, "javascript", first["language"]) // derived from extension
	second := files[1].(map[string]interface{})
	assert.Equal(t, "python", second["language"])

	// The first file mirrors into the legacy code field
	_, body = doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/"+roomID, nil)
	got := body["session"].(map[string]interface{})
	assert.Equal(t, "console.log(1)", got["code"])
}

func TestReplaceFilesRejectsUnnamed(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.SessionsRouter, http.MethodPut, "/api/sessions/r1/files",
		map[string]interface{}{"files": []map[string]string{{"content": "x"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File name is required", body["error"])
}

func TestGetFilesEmptyIsArray(t *testing.T) {
	a := newTestAPI(t)

	_, body := doJSON(t, a.SessionsRouter, http.MethodPost, "/api/sessions",
		CreateSessionRequest{Name: "empty"})
	roomID := body["session"].(map[string]interface{})["roomId"].(string)

	w, body := doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/"+roomID+"/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	files, ok := body["files"].([]interface{})
	require.True(t, ok, "files must be a JSON array, got %T", body["files"])
	assert.Empty(t, files)
}

func TestSaveCode(t *testing.T) {
	a := newTestAPI(t)

	_, body := doJSON(t, a.SessionsRouter, http.MethodPost, "/api/sessions",
		CreateSessionRequest{Name: "demo"})
	roomID := body["session"].(map[string]interface{})["roomId"].(string)

	w, body := doJSON(t, a.SessionsRouter, http.MethodPut, "/api/sessions/"+roomID+"/code",
		SaveCodeRequest{Code: "saved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	_, body = doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/"+roomID, nil)
	got := body["session"].(map[string]interface{})
	assert.Equal(t, "saved", got["code"])
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestAPI(t)

	w, body := doJSON(t, a.SessionsRouter, http.MethodDelete, "/api/sessions/r1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, false, body["ok"])
}

func TestUnknownSubresource(t *testing.T) {
	a := newTestAPI(t)

	w, _ := doJSON(t, a.SessionsRouter, http.MethodGet, "/api/sessions/r1/bogus", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidBody(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte("{bad")))
	w := httptest.NewRecorder()
	a.SessionsRouter(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
