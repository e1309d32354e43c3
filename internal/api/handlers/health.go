// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"
)

// HealthHandler serves the daemon's own liveness probe.
type HealthHandler struct {
	startedAt time.Time
}

// NewHealthHandler constructs a HealthHandler whose uptime is measured
// from startedAt.
func NewHealthHandler(startedAt time.Time) *HealthHandler {
	return &HealthHandler{startedAt: startedAt}
}

// Healthz handles GET /api/healthz.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}
