package main

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Stats     map[string]int    `json:"stats"`
}

var version = "1.0.0"

func (a *app) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(a.startTime).Round(time.Second).String(),
		Version:   version,
		Services:  make(map[string]string),
		Stats:     make(map[string]int),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ledger.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Services["ledger"] = "error: " + err.Error()
	} else {
		status.Services["ledger"] = "healthy"
	}
	status.Services["websocket"] = "healthy"

	players := a.tracker.Stats()
	rooms := a.rooms.Stats()
	status.Stats["activeConnections"] = a.hub.Count()
	status.Stats["totalSessions"] = players.Sessions
	status.Stats["activePlayers"] = players.Active
	status.Stats["idlePlayers"] = players.Idle
	status.Stats["rooms"] = rooms.Rooms
	status.Stats["activeMatches"] = rooms.Matches

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	status.Stats["goroutines"] = runtime.NumGoroutine()
	status.Stats["memoryMB"] = int(m.Alloc / 1024 / 1024)

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rooms := a.rooms.Stats()
	succeeded, failed := a.settler.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":            time.Since(a.startTime).Seconds(),
		"goroutines":        runtime.NumGoroutine(),
		"activeConnections": a.hub.Count(),
		"rooms":             rooms.Rooms,
		"activeMatches":     rooms.Matches,
		"seatedPlayers":     rooms.Members,
		"settlements": map[string]int64{
			"succeeded": succeeded,
			"failed":    failed,
		},
		"memory": map[string]int64{
			"alloc":      int64(m.Alloc),
			"totalAlloc": int64(m.TotalAlloc),
			"sys":        int64(m.Sys),
		},
	})
}
