package api

import (
	"encoding/json"
	"net/http"

	"github.com/emerald/deadside-tracker/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleGetServers returns ingestion status for all servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.manager.ServerStatuses())
}

// handleGetServer returns one server's ingestion status
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	status := r.manager.ServerStatus(req.PathValue("id"))
	if status == nil {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetPlayerStats returns one player's stats on one server
func (r *Router) handleGetPlayerStats(w http.ResponseWriter, req *http.Request) {
	serverID := req.PathValue("id")
	playerID := req.PathValue("playerID")

	stats, err := r.store.GetPlayerStats(req.Context(), serverID, playerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetLeaderboard returns a ranked view. Query params: view (kills,
// kdr, streak, longest_streak, weapons, factions) and scope (server ID or
// "all", the default).
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	view := req.URL.Query().Get("view")
	if view == "" {
		view = domain.ViewKills
	}
	scope := req.URL.Query().Get("scope")
	if scope == "" {
		scope = "all"
	}

	entries, err := r.store.Leaderboard(req.Context(), view, scope, r.minKillsKDR)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"view":    view,
		"scope":   scope,
		"entries": entries,
	})
}

// handleHealth is a basic liveness check
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": r.wsHub.ClientCount(),
	})
}
