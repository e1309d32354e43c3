// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ravshansbox/rho-sub003/internal/review"
)

// ReviewHandler serves the review-bus REST surface: git-initiated session
// creation, and thin passthroughs onto the durable store.
type ReviewHandler struct {
	bus     *review.Bus
	baseURL string
}

// NewReviewHandler constructs a ReviewHandler. baseURL is prefixed to the
// WebSocket path returned in the created-session response, e.g.
// "ws://127.0.0.1:4590".
func NewReviewHandler(bus *review.Bus, baseURL string) *ReviewHandler {
	return &ReviewHandler{bus: bus, baseURL: baseURL}
}

type fromGitRequest struct {
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// FromGit handles POST /api/review/from-git {files[], message?}.
func (h *ReviewHandler) FromGit(w http.ResponseWriter, r *http.Request) {
	var req fromGitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "files must not be empty")
		return
	}

	sess, err := h.bus.CreateFromPaths(req.Files, req.Message)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	warnings := []string{}
	for _, f := range sess.Files {
		if f.Skipped {
			warnings = append(warnings, "Skipped: "+f.Path+" ("+f.Warning+")")
		}
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       sess.ID,
		"token":    sess.Token,
		"url":      h.baseURL + "/review/" + sess.ID + "/ws?token=" + sess.Token,
		"warnings": warnings,
	})
}

// ListSubmissions handles GET /api/review/submissions?status=&claimedBy=&limit=.
func (h *ReviewHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := review.ListOptions{
		Status:    review.RecordStatus(q.Get("status")),
		ClaimedBy: q.Get("claimedBy"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = limit
	}
	recs, err := h.bus.Store().ListReviewRecords(opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, recs)
}

// GetSubmission handles GET /api/review/submissions/:id.
func (h *ReviewHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.bus.Store().GetReviewRecord(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type claimRequest struct {
	By string `json:"by"`
}

// ClaimSubmission handles POST /api/review/submissions/:id/claim {by}.
func (h *ReviewHandler) ClaimSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "by is required")
		return
	}
	rec, err := h.bus.Store().ClaimReviewRecord(id, req.By)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type resolveRequest struct {
	By string `json:"by"`
}

// ResolveSubmission handles POST /api/review/submissions/:id/resolve {by?}.
func (h *ReviewHandler) ResolveSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resolveRequest
	json.NewDecoder(r.Body).Decode(&req) // by is optional

	rec, err := h.bus.Store().ResolveReviewRecord(id, req.By)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func writeStoreError(w http.ResponseWriter, err error) {
	storeErr, ok := err.(*review.StoreError)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	switch storeErr.Kind {
	case review.ErrNotFound:
		WriteError(w, http.StatusNotFound, ErrNotFound, storeErr.Message)
	case review.ErrConflict:
		WriteError(w, http.StatusConflict, ErrConflict, storeErr.Message)
	case review.ErrInvalidState, review.ErrInvalidInput:
		WriteError(w, http.StatusBadRequest, ErrBadRequest, storeErr.Message)
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternalError, storeErr.Message)
	}
}
