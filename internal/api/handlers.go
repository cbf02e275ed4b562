package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"tank-arena/internal/audio"
	"tank-arena/internal/game"
)

// StatsSource is the read-only view of the engine the HTTP handlers need.
type StatsSource interface {
	Counts() (players, bullets int)
	Uptime() time.Duration
	Sessions() []game.SessionInfo
}

// RelayStatsSource exposes the audio relay counters.
type RelayStatsSource interface {
	Stats() audio.RelayStats
}

type handlers struct {
	engine StatsSource
	relay  RelayStatsSource
	hub    *Hub
}

// handleHealth reports liveness: player count, uptime and process memory.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	players, bullets := h.engine.Counts()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"players":       players,
		"bullets":       bullets,
		"connections":   h.hub.ClientCount(),
		"uptimeSeconds": int(h.engine.Uptime().Seconds()),
		"memAllocBytes": mem.Alloc,
	})
}

// handleStats reports per-player session info and the audio relay counters.
func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.engine.Sessions(),
		"audio":    h.relay.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
