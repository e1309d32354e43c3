// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ravshansbox/rho-sub003/internal/sessionfile"
	"github.com/ravshansbox/rho-sub003/internal/uibroadcast"
)

// SessionsHandler serves the session-file REST surface: list, read, fork,
// and create-new, all backed by the sessionfile package.
type SessionsHandler struct {
	sessionsRoot string
	ui           *uibroadcast.Broadcaster
}

// NewSessionsHandler constructs a SessionsHandler rooted at sessionsRoot.
func NewSessionsHandler(sessionsRoot string, ui *uibroadcast.Broadcaster) *SessionsHandler {
	return &SessionsHandler{sessionsRoot: sessionsRoot, ui: ui}
}

// List handles GET /api/sessions?cwd&offset&limit.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := sessionfile.ListOptions{Cwd: q.Get("cwd")}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}

	result, err := sessionfile.ListSessions(h.sessionsRoot, opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	WriteJSON(w, http.StatusOK, result.Sessions)
}

// Get handles GET /api/sessions/:id.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	path, err := sessionfile.FindSessionFileByID(h.sessionsRoot, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if path == "" {
		WriteError(w, http.StatusNotFound, ErrNotFound, "no session matches id "+id)
		return
	}

	sess, err := sessionfile.ReadSession(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"path":    path,
	})
}

type forkRequest struct {
	EntryID string `json:"entryId"`
}

// Fork handles POST /api/sessions/:id/fork {entryId?}.
func (h *SessionsHandler) Fork(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	path, err := sessionfile.FindSessionFileByID(h.sessionsRoot, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if path == "" {
		WriteError(w, http.StatusNotFound, ErrNotFound, "no session matches id "+id)
		return
	}

	var req forkRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // best-effort; an empty body is valid
	}

	newPath, err := sessionfile.ForkSession(path, h.sessionsRoot, req.EntryID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	if h.ui != nil {
		h.ui.BroadcastUIEvent(uibroadcast.EventSessionsChanged, nil)
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"path": newPath})
}

type newSessionRequest struct {
	Cwd string `json:"cwd"`
}

// New handles POST /api/sessions/new {cwd}.
func (h *SessionsHandler) New(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	path, id, err := sessionfile.NewSessionFile(h.sessionsRoot, req.Cwd)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	if h.ui != nil {
		h.ui.BroadcastUIEvent(uibroadcast.EventSessionsChanged, nil)
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "path": path})
}
