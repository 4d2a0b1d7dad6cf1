package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Hub owns the set of live connections and fans events out to them.
// Registration goes through Run; delivery happens under a read lock so a
// connection's send channel is never written after Run closes it.
type Hub struct {
	conns  map[string]*Client
	byUser map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:      make(map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.conns {
				delete(h.conns, id)
				close(c.send)
			}
			h.byUser = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.conns[c.id] = c
			if h.byUser[c.user.UID] == nil {
				h.byUser[c.user.UID] = make(map[string]*Client)
			}
			h.byUser[c.user.UID][c.id] = c
			h.mu.Unlock()
			close(c.registered)
			h.log.Info().Str("conn_id", c.id).Str("uid", c.user.UID).Str("codec", c.codec.Name()).Msg("WebSocket connection registered")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[c.id]; ok {
				delete(h.conns, c.id)
				delete(h.byUser[c.user.UID], c.id)
				if len(h.byUser[c.user.UID]) == 0 {
					delete(h.byUser, c.user.UID)
				}
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Info().Str("conn_id", c.id).Str("uid", c.user.UID).Msg("WebSocket connection unregistered")
		}
	}
}

// add registers c and waits until it can receive events. It reports false
// once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
	case <-h.done:
		return false
	}
	<-c.registered
	return true
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) ToUsers(uids []string, event string, payload any) {
	enc := newFrameCache(event, payload)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range uids {
		for _, c := range h.byUser[uid] {
			h.deliver(c, enc)
		}
	}
}

func (h *Hub) ToLobby(event string, payload any, skip func(uid string) bool) {
	enc := newFrameCache(event, payload)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for uid, clients := range h.byUser {
		if skip != nil && skip(uid) {
			continue
		}
		for _, c := range clients {
			h.deliver(c, enc)
		}
	}
}

// sendTo delivers to a single connection if it is still registered.
func (h *Hub) sendTo(c *Client, event string, payload any) {
	enc := newFrameCache(event, payload)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conns[c.id] == c {
		h.deliver(c, enc)
	}
}

func (h *Hub) deliver(c *Client, enc *frameCache) {
	data, err := enc.frame(c.codec)
	if err != nil {
		h.log.Error().Err(err).Str("event", enc.event).Msg("Failed to encode message")
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("conn_id", c.id).Str("event", enc.event).Msg("Connection buffer full, dropping message")
	}
}

// frameCache encodes an event at most once per codec.
type frameCache struct {
	event   string
	payload any
	mu      sync.Mutex
	frames  map[string][]byte
}

func newFrameCache(event string, payload any) *frameCache {
	return &frameCache{event: event, payload: payload, frames: make(map[string][]byte, 2)}
}

func (f *frameCache) frame(codec Codec) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.frames[codec.Name()]; ok {
		return data, nil
	}
	data, err := codec.Encode(f.event, f.payload)
	if err != nil {
		return nil, err
	}
	f.frames[codec.Name()] = data
	return data, nil
}
