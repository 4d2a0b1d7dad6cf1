package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"soulbomber-arena/internal/apperr"
	"soulbomber-arena/internal/identity"
)

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(a.log))
	r.Use(LoggingMiddleware(a.log))
	r.Use(CORSMiddleware(a.cfg.Server.AllowedOrigins))

	r.Get("/ws", a.sessions.ServeHTTP)
	r.Get("/health", a.handleHealthCheck)
	r.Get("/metrics", a.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(a.cfg.Server.RequestsPerMin))
		r.Get("/rooms", a.handleRooms)
		r.Get("/rooms/{roomID}", a.handleRoom)
		r.Get("/me/balance", a.handleBalance)
		r.Get("/players/stats", a.handlePlayerStats)
	})
	return r
}

func (a *app) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.rooms.List())
}

func (a *app) handleRoom(w http.ResponseWriter, r *http.Request) {
	view, ok := a.rooms.Get(chi.URLParam(r, "roomID"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *app) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, err := a.verifier.Verify(r.Context(), identity.TokenFromRequest(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.PublicMessage(err))
		return
	}
	balance, err := a.ledger.Balance(r.Context(), user.UID)
	if err != nil {
		a.log.Error().Err(err).Str("uid", user.UID).Msg("Failed to read balance")
		status := http.StatusInternalServerError
		if errors.Is(err, apperr.Unavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, apperr.PublicMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uid": user.UID, "balance": balance})
}

func (a *app) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
