package room

import (
	"time"

	"soulbomber-arena/internal/apperr"
	"soulbomber-arena/internal/game"
)

// Outbound events emitted by rooms.
const (
	EventRoomsList   = "rooms:list"
	EventRoomUpdated = "room:updated"
	EventGameStart   = "game:start"
	EventGameState   = "game:state"
	EventGameOver    = "game:over"
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
)

// Player is a room member as shown to clients.
type Player struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
	Ready    bool   `json:"isReady"`
	Host     bool   `json:"isHost"`

	connected bool
}

type View struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	HostUID    string    `json:"hostUid"`
	Players    []Player  `json:"players"`
	Status     Status    `json:"status"`
	MaxPlayers int       `json:"maxPlayers"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	HostUID     string    `json:"hostUid"`
	HostName    string    `json:"hostName"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (v View) Summary() Summary {
	s := Summary{
		ID:          v.ID,
		Name:        v.Name,
		HostUID:     v.HostUID,
		PlayerCount: len(v.Players),
		MaxPlayers:  v.MaxPlayers,
		Status:      v.Status,
		CreatedAt:   v.CreatedAt,
	}
	for _, p := range v.Players {
		if p.Host {
			s.HostName = p.Name
		}
	}
	return s
}

// GameOver is the payload announcing a match result.
type GameOver struct {
	MatchID      string      `json:"matchId"`
	WinnerUID    string      `json:"winnerUid"`
	WinnerName   string      `json:"winnerName"`
	Reason       game.Reason `json:"reason"`
	Reward       int64       `json:"reward"`
	RefundedUIDs []string    `json:"refundedUids"`
}

var (
	ErrRoomNotFound     = apperr.New(apperr.CodeNotFound, "room not found")
	ErrRoomNotWaiting   = apperr.New(apperr.CodeConflict, "room is not accepting players")
	ErrRoomFull         = apperr.New(apperr.CodeConflict, "room is full")
	ErrAlreadyMember    = apperr.New(apperr.CodeConflict, "already a member of this room")
	ErrInAnotherRoom    = apperr.New(apperr.CodeConflict, "already a member of another room")
	ErrNotMember        = apperr.New(apperr.CodeForbidden, "not a member of this room")
	ErrNotHost          = apperr.New(apperr.CodeForbidden, "only the host can start the match")
	ErrHostReady        = apperr.New(apperr.CodeInvalidInput, "the host does not toggle ready")
	ErrNotEnoughPlayers = apperr.New(apperr.CodeConflict, "at least two players are required")
	ErrPlayersNotReady  = apperr.New(apperr.CodeConflict, "every player must be ready")
	ErrNoMatch          = apperr.New(apperr.CodeNotFound, "no match in progress for this room")
)
