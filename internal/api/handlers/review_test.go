// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravshansbox/rho-sub003/internal/review"
)

type noopEmitter struct{}

func (noopEmitter) BroadcastUIEvent(name string, data interface{}) {}

func newTestReviewBus(t *testing.T) *review.Bus {
	t.Helper()
	store, err := review.NewFileStore(filepath.Join(t.TempDir(), "reviews.jsonl"))
	require.NoError(t, err)
	bus := review.NewBus(store, noopEmitter{}, review.BusConfig{})
	t.Cleanup(bus.Close)
	return bus
}

func TestReviewHandler_FromGitRejectsEmptyFiles(t *testing.T) {
	h := NewReviewHandler(newTestReviewBus(t), "ws://localhost:4590")

	req := httptest.NewRequest("POST", "/api/review/from-git", bytes.NewReader([]byte(`{"files":[]}`)))
	rec := httptest.NewRecorder()
	h.FromGit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewHandler_FromGitCreatesSessionWithURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0644))

	h := NewReviewHandler(newTestReviewBus(t), "ws://localhost:4590")
	body, _ := json.Marshal(map[string]interface{}{"files": []string{path}, "message": "please review"})
	req := httptest.NewRequest("POST", "/api/review/from-git", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.FromGit(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["id"])
	assert.NotEmpty(t, resp["token"])
	assert.Contains(t, resp["url"], "ws://localhost:4590/review/")
}

func TestReviewHandler_GetSubmissionUnknownIsNotFound(t *testing.T) {
	h := NewReviewHandler(newTestReviewBus(t), "")

	req := httptest.NewRequest("GET", "/api/review/submissions/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	h.GetSubmission(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewHandler_ClaimThenConflictingClaim(t *testing.T) {
	bus := newTestReviewBus(t)
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)

	h := NewReviewHandler(bus, "")

	claim := func(by string) int {
		body, _ := json.Marshal(map[string]string{"by": by})
		req := httptest.NewRequest("POST", "/api/review/submissions/"+sess.ID+"/claim", bytes.NewReader(body))
		req = mux.SetURLVars(req, map[string]string{"id": sess.ID})
		rec := httptest.NewRecorder()
		h.ClaimSubmission(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, claim("alice"))
	assert.Equal(t, http.StatusConflict, claim("bob"))
}

func TestReviewHandler_ListSubmissionsFiltersByStatus(t *testing.T) {
	bus := newTestReviewBus(t)
	a, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)
	_, err = bus.CreateFromFiles(nil, "")
	require.NoError(t, err)
	require.NoError(t, bus.Cancel(a.ID))

	h := NewReviewHandler(bus, "")
	req := httptest.NewRequest("GET", "/api/review/submissions?status=open", nil)
	rec := httptest.NewRecorder()
	h.ListSubmissions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	records, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, records, 1)
}
