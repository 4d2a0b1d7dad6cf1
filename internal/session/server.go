// Package session speaks the websocket protocol: it authenticates
// connections, decodes client events, validates them and routes them to
// the room directory, and delivers room events back to users.
package session

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"soulbomber-arena/internal/apperr"
	"soulbomber-arena/internal/game"
	"soulbomber-arena/internal/identity"
	"soulbomber-arena/internal/room"
)

// Rooms is the part of the room directory the protocol drives.
type Rooms interface {
	Create(ctx context.Context, p room.Player, name string) (room.View, error)
	Join(ctx context.Context, roomID string, p room.Player) (room.View, error)
	Leave(ctx context.Context, roomID, uid string) error
	ToggleReady(ctx context.Context, roomID, uid string) (room.View, error)
	Start(ctx context.Context, roomID, uid string) error
	Move(ctx context.Context, roomID, uid string, dir game.Direction) error
	PlaceBomb(ctx context.Context, roomID, uid string) error
	Sync(ctx context.Context, roomID, uid string) (game.Snapshot, error)
	Disconnect(ctx context.Context, uid string)
	List() []room.Summary
}

type Config struct {
	EventsPerSecond float64
	EventBurst      int
	SendBuffer      int
	MaxMessageSize  int64
	AllowedOrigins  []string
	// CallTimeout bounds each call into a room.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventsPerSecond: 30,
		EventBurst:      60,
		SendBuffer:      256,
		MaxMessageSize:  4096,
		AllowedOrigins:  []string{"*"},
		CallTimeout:     5 * time.Second,
	}
}

type Server struct {
	cfg      Config
	hub      *Hub
	rooms    Rooms
	verifier identity.Verifier
	tracker  *Tracker
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(cfg Config, hub *Hub, rooms Rooms, verifier identity.Verifier, tracker *Tracker, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		rooms:    rooms,
		verifier: verifier,
		tracker:  tracker,
		log:      logger.With().Str("component", "session").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{SubprotocolMsgpack, SubprotocolJSON},
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeHTTP authenticates the request and upgrades it to a websocket.
// Unauthenticated requests are refused before the upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := s.verifier.Verify(r.Context(), identity.TokenFromRequest(r))
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket authentication failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	codec := codecFor(conn.Subprotocol())
	c := &Client{
		id:         uuid.NewString(),
		user:       user,
		conn:       conn,
		codec:      codec,
		send:       make(chan []byte, s.cfg.SendBuffer),
		limiter:    rate.NewLimiter(rate.Limit(s.cfg.EventsPerSecond), s.cfg.EventBurst),
		registered: make(chan struct{}),
		srv:        s,
	}
	c.log = s.log.With().Str("conn_id", c.id).Str("uid", user.UID).Logger()

	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.tracker.Register(user, c.id)
	c.sendMessage(EventSessionReady, readyPayload{UID: user.UID, Name: user.Name, PhotoURL: user.PhotoURL})

	go c.writePump()
	go c.readPump()
}

// closed runs after a connection is gone. The room directory only hears
// about it when the user's last connection closes.
func (s *Server) closed(c *Client) {
	if s.tracker.Unregister(c.user.UID, c.id) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	s.rooms.Disconnect(ctx, c.user.UID)
}

func (c *Client) handleMessage(message []byte) {
	event, data, err := c.codec.Decode(message)
	if err != nil {
		c.sendError(apperr.Wrap(err, apperr.CodeInvalidInput, "malformed message"))
		return
	}
	if !c.limiter.Allow() {
		c.log.Warn().Str("event", event).Msg("Rate limit exceeded")
		c.sendError(apperr.New(apperr.CodeInvalidInput, "too many messages"))
		return
	}
	c.log.Debug().Str("event", event).Msg("WebSocket event received")

	ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.CallTimeout)
	defer cancel()

	if err := c.dispatch(ctx, event, data); err != nil {
		if event == EventGameSync {
			c.sendMessage(EventSyncError, errorPayload{Message: apperr.PublicMessage(err), Code: apperr.CodeOf(err)})
			return
		}
		c.sendError(err)
	}
}

func (c *Client) dispatch(ctx context.Context, event string, data []byte) error {
	rooms := c.srv.rooms
	uid := c.user.UID

	switch event {
	case EventRoomCreate:
		var p createPayload
		if err := c.decode(data, &p); err != nil {
			return err
		}
		name := SanitizeString(p.RoomName)
		if name != "" {
			if err := ValidateRoomName(name); err != nil {
				return err
			}
		}
		view, err := rooms.Create(ctx, c.player(), name)
		if err != nil {
			return err
		}
		c.sendMessage(EventRoomJoined, view)

	case EventRoomJoin:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		view, err := rooms.Join(ctx, p.RoomID, c.player())
		if err != nil {
			return err
		}
		c.sendMessage(EventRoomJoined, view)

	case EventRoomLeave:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		if err := rooms.Leave(ctx, p.RoomID, uid); err != nil {
			return err
		}
		c.sendMessage(EventRoomLeft, roomPayload{RoomID: p.RoomID})

	case EventRoomReady:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		_, err = rooms.ToggleReady(ctx, p.RoomID, uid)
		return err

	case EventRoomStart:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		return rooms.Start(ctx, p.RoomID, uid)

	case EventGameMove:
		var p movePayload
		if err := c.decode(data, &p); err != nil {
			return err
		}
		if err := ValidateRoomID(p.RoomID); err != nil {
			return err
		}
		dir, err := game.ParseDirection(p.Direction)
		if err != nil {
			return err
		}
		return rooms.Move(ctx, p.RoomID, uid, dir)

	case EventGameBomb:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		return rooms.PlaceBomb(ctx, p.RoomID, uid)

	case EventGameSync:
		p, err := c.roomPayload(data)
		if err != nil {
			return err
		}
		snap, err := rooms.Sync(ctx, p.RoomID, uid)
		if err != nil {
			return err
		}
		c.sendMessage(EventGameState, snap)

	case EventRoomsList:
		c.sendMessage(EventRoomsList, rooms.List())

	case EventPing:
		c.srv.tracker.Heartbeat(uid)
		c.sendMessage(EventPong, pongPayload{Time: time.Now().UnixMilli()})

	default:
		return apperr.New(apperr.CodeInvalidInput, "unknown event: "+event)
	}
	return nil
}

func (c *Client) decode(data []byte, v any) error {
	if err := c.codec.Unmarshal(data, v); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid payload format")
	}
	return nil
}

func (c *Client) roomPayload(data []byte) (roomPayload, error) {
	var p roomPayload
	if err := c.decode(data, &p); err != nil {
		return p, err
	}
	return p, ValidateRoomID(p.RoomID)
}

func (c *Client) player() room.Player {
	return room.Player{UID: c.user.UID, Name: c.user.Name, PhotoURL: c.user.PhotoURL}
}

func (c *Client) sendError(err error) {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		c.log.Error().Err(err).Msg("Request failed")
	}
	c.sendMessage(EventRoomError, errorPayload{Message: apperr.PublicMessage(err), Code: apperr.CodeOf(err)})
}
