package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
	"github.com/omgupta81/Smartbridge/internal/ws"
)

// HTTP surface for session CRUD. These endpoints talk to the store directly;
// a room's live in-memory state stays with the hub and is served over the
// real-time channel.
type API struct {
	hub   *ws.Hub
	store store.Store
}

func New(hub *ws.Hub, st store.Store) *API {
	return &API{
		hub:   hub,
		store: st,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Error encoding JSON response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{"ok": false, "error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

type CreateSessionRequest struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type SaveCodeRequest struct {
	Code string `json:"code"`
}

type ReplaceFilesRequest struct {
	Files []session.File `json:"files"`
}

// SessionsRouter dispatches /api/sessions and /api/sessions/{roomId}[/...].
func (a *API) SessionsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodPost {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.createSession(w, r)
		return
	}

	parts := strings.Split(path, "/")
	roomID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getSession(w, r, roomID)
		case http.MethodPut:
			a.saveCode(w, r, roomID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "files":
		switch r.Method {
		case http.MethodGet:
			a.getFiles(w, r, roomID)
		case http.MethodPut:
			a.replaceFiles(w, r, roomID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "code":
		if r.Method != http.MethodPut {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.saveCode(w, r, roomID)
	default:
		errorResponse(w, http.StatusNotFound, "Not found")
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Untitled"
	}

	rec := &session.Record{
		RoomID: uuid.NewString(),
		Name:   name,
	}

	if err := a.store.Create(r.Context(), rec); err != nil {
		logrus.WithError(err).Error("createSession failed")
		errorResponse(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	created, err := a.store.Get(r.Context(), rec.RoomID)
	if err != nil {
		logrus.WithError(err).Error("createSession readback failed")
		errorResponse(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]interface{}{"ok": true, "session": created})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request, roomID string) {
	rec, err := a.store.Get(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("getSession failed")
		errorResponse(w, http.StatusInternalServerError, "Server error")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true, "session": rec})
}

func (a *API) getFiles(w http.ResponseWriter, r *http.Request, roomID string) {
	rec, err := a.store.Get(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("getFiles failed")
		errorResponse(w, http.StatusInternalServerError, "Server error")
		return
	}

	files := rec.Files
	if files == nil {
		files = []session.File{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true, "files": files})
}

func (a *API) replaceFiles(w http.ResponseWriter, r *http.Request, roomID string) {
	var req ReplaceFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	for i := range req.Files {
		if req.Files[i].Name == "" {
			errorResponse(w, http.StatusBadRequest, "File name is required")
			return
		}
		if req.Files[i].Language == "" {
			req.Files[i].Language = session.LanguageForName(req.Files[i].Name)
		}
	}

	if err := a.store.ReplaceFiles(r.Context(), roomID, req.Files); err != nil {
		logrus.WithError(err).Error("replaceFiles failed")
		errorResponse(w, http.StatusInternalServerError, "Server error")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *API) saveCode(w http.ResponseWriter, r *http.Request, roomID string) {
	var req SaveCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.store.SaveCode(ctx, roomID, req.Code); err != nil {
		logrus.WithError(err).Error("saveCode failed")
		errorResponse(w, http.StatusInternalServerError, "Server error")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}
