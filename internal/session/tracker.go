package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soulbomber-arena/internal/identity"
)

const (
	StatusActive = "active"
	StatusIdle   = "idle"
)

// UserSession aggregates every live connection of one user.
type UserSession struct {
	UID         string          `json:"uid"`
	Name        string          `json:"name"`
	ConnectedAt time.Time       `json:"connectedAt"`
	LastSeen    time.Time       `json:"lastSeen"`
	Status      string          `json:"status"`
	Connections map[string]bool `json:"connections"`
}

type TrackerStats struct {
	Sessions    int `json:"sessions"`
	Active      int `json:"active"`
	Idle        int `json:"idle"`
	Connections int `json:"connections"`
}

// Tracker counts connections per user so the last close can be told
// apart from a second tab going away.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession

	idleAfter time.Duration
	now       func() time.Time
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewTracker(logger zerolog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		sessions:  make(map[string]*UserSession),
		idleAfter: 2 * time.Minute,
		now:       time.Now,
		log:       logger.With().Str("component", "tracker").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	go t.monitor()
	return t
}

// Register records a new connection and returns the user's connection count.
func (t *Tracker) Register(id identity.Identity, connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if s, ok := t.sessions[id.UID]; ok {
		s.Connections[connID] = true
		s.LastSeen = now
		s.Status = StatusActive
		t.log.Info().Str("uid", id.UID).Str("conn_id", connID).Int("connections", len(s.Connections)).Msg("Player reconnected")
		return len(s.Connections)
	}

	t.sessions[id.UID] = &UserSession{
		UID:         id.UID,
		Name:        id.Name,
		ConnectedAt: now,
		LastSeen:    now,
		Status:      StatusActive,
		Connections: map[string]bool{connID: true},
	}
	t.log.Info().Str("uid", id.UID).Str("conn_id", connID).Msg("Player registered")
	return 1
}

// Unregister drops a connection and returns how many the user has left.
func (t *Tracker) Unregister(uid, connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[uid]
	if !ok {
		return 0
	}
	delete(s.Connections, connID)
	if len(s.Connections) > 0 {
		t.log.Info().Str("uid", uid).Int("remaining", len(s.Connections)).Msg("Player connection closed")
		return len(s.Connections)
	}
	delete(t.sessions, uid)
	t.log.Info().
		Str("uid", uid).
		Dur("session_duration", t.now().Sub(s.ConnectedAt)).
		Msg("Player unregistered")
	return 0
}

func (t *Tracker) Heartbeat(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[uid]; ok {
		s.LastSeen = t.now()
		s.Status = StatusActive
	}
}

func (t *Tracker) Session(uid string) (UserSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[uid]
	if !ok {
		return UserSession{}, false
	}
	cp := *s
	cp.Connections = make(map[string]bool, len(s.Connections))
	for id := range s.Connections {
		cp.Connections[id] = true
	}
	return cp, true
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TrackerStats{Sessions: len(t.sessions)}
	for _, s := range t.sessions {
		switch s.Status {
		case StatusActive:
			st.Active++
		case StatusIdle:
			st.Idle++
		}
		st.Connections += len(s.Connections)
	}
	return st
}

func (t *Tracker) monitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.markIdle()
		}
	}
}

func (t *Tracker) markIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for uid, s := range t.sessions {
		if s.Status == StatusActive && now.Sub(s.LastSeen) > t.idleAfter {
			s.Status = StatusIdle
			t.log.Info().Str("uid", uid).Dur("idle_time", now.Sub(s.LastSeen)).Msg("Player marked as idle")
		}
	}
}

func (t *Tracker) Stop() {
	t.cancel()
}
