package session

import "soulbomber-arena/internal/room"

// Client to server events.
const (
	EventRoomCreate = "room:create"
	EventRoomJoin   = "room:join"
	EventRoomLeave  = "room:leave"
	EventRoomReady  = "room:ready"
	EventRoomStart  = "room:start"
	EventGameMove   = "game:move"
	EventGameBomb   = "game:bomb"
	EventGameSync   = "game:sync"
	EventRoomsList  = room.EventRoomsList // also pushed by the server
	EventPing       = "ping"
)

// Server to client events not emitted by rooms.
const (
	EventRoomJoined   = "room:joined"
	EventRoomLeft     = "room:left"
	EventRoomError    = "room:error"
	EventSyncError    = "game:sync_error"
	EventSessionReady = "session:ready"
	EventPong         = "pong"
	EventGameState    = room.EventGameState
)

type createPayload struct {
	RoomName string `json:"roomName"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type movePayload struct {
	RoomID    string `json:"roomId"`
	Direction string `json:"direction"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type readyPayload struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

type pongPayload struct {
	Time int64 `json:"time"`
}
