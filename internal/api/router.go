// Package api serves the read-only HTTP surface: server status, player
// stats, leaderboard views, and the live event stream.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/ingest"
	"github.com/emerald/deadside-tracker/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux         *http.ServeMux
	store       *storage.Store
	manager     *ingest.Manager
	wsHub       *WebSocketHub
	logger      zerolog.Logger
	minKillsKDR int64
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, manager *ingest.Manager, minKillsKDR int64, logger zerolog.Logger) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		store:       store,
		manager:     manager,
		wsHub:       NewWebSocketHub(logger),
		logger:      logger,
		minKillsKDR: minKillsKDR,
	}

	r.mux.HandleFunc("GET /api/servers", r.handleGetServers)
	r.mux.HandleFunc("GET /api/servers/{id}", r.handleGetServer)
	r.mux.HandleFunc("GET /api/servers/{id}/players/{playerID}", r.handleGetPlayerStats)

	r.mux.HandleFunc("GET /api/stats/leaderboard", r.handleGetLeaderboard)

	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("GET /healthz", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting manager events to WebSocket clients
func (r *Router) StartWebSocketHub() {
	go r.wsHub.Run()

	go func() {
		for event := range r.manager.Events() {
			r.wsHub.Broadcast(event)
		}
	}()
}
