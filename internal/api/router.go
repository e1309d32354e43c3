// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api wires the gateway's HTTP/REST surface: the RPC/UI
// WebSockets, the review-bus WebSocket, and the session/git/review REST
// endpoints, behind the teacher's logging/recovery/CORS middleware chain.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ravshansbox/rho-sub003/internal/api/handlers"
	"github.com/ravshansbox/rho-sub003/internal/api/middleware"
	"github.com/ravshansbox/rho-sub003/internal/gateway"
	"github.com/ravshansbox/rho-sub003/internal/review"
	"github.com/ravshansbox/rho-sub003/internal/uibroadcast"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds every collaborator the router wires into handlers.
type Dependencies struct {
	Multiplexer  *gateway.Multiplexer
	ReviewBus    *review.Bus
	UI           *uibroadcast.Broadcaster
	SessionsRoot string
	RepoRoot     string
	StartedAt    time.Time
	BaseURL      string // e.g. "ws://127.0.0.1:4590", used to mint review URLs
}

// NewRouter creates the gateway's HTTP router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	// Browser RPC multiplexer WebSocket.
	r.Handle("/ws", deps.Multiplexer)

	// Review-session WebSocket.
	review.RegisterRoutes(r, deps.ReviewBus)

	// Liveness probe, registered on the root router rather than the /api subrouter.
	health := handlers.NewHealthHandler(deps.StartedAt)
	r.HandleFunc("/api/healthz", health.Healthz).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	sessionsHandler := handlers.NewSessionsHandler(deps.SessionsRoot, deps.UI)
	api.HandleFunc("/sessions", sessionsHandler.List).Methods("GET")
	api.HandleFunc("/sessions/new", sessionsHandler.New).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionsHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}/fork", sessionsHandler.Fork).Methods("POST")

	gitHandler := handlers.NewGitHandler(deps.RepoRoot)
	api.HandleFunc("/git/status", gitHandler.Status).Methods("GET")
	api.HandleFunc("/git/diff", gitHandler.Diff).Methods("GET")

	reviewHandler := handlers.NewReviewHandler(deps.ReviewBus, deps.BaseURL)
	api.HandleFunc("/review/from-git", reviewHandler.FromGit).Methods("POST")
	api.HandleFunc("/review/submissions", reviewHandler.ListSubmissions).Methods("GET")
	api.HandleFunc("/review/submissions/{id}", reviewHandler.GetSubmission).Methods("GET")
	api.HandleFunc("/review/submissions/{id}/claim", reviewHandler.ClaimSubmission).Methods("POST")
	api.HandleFunc("/review/submissions/{id}/resolve", reviewHandler.ResolveSubmission).Methods("POST")

	// Debug/profiling endpoints.
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// Routes are method-restricted, so a CORS preflight (OPTIONS) matches no
	// route and mux answers it without the middleware chain above. Route
	// method mismatches through CORS so preflights get their 200; any other
	// method mismatch still gets 405.
	r.MethodNotAllowedHandler = middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
