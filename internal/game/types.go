package game

import (
	"time"

	"soulbomber-arena/internal/apperr"
	"soulbomber-arena/internal/clock"
)

// Cell is the terrain kind of a grid square.
type Cell int

const (
	Empty Cell = iota
	Wall
	Block
)

type ItemKind string

const (
	ItemLife  ItemKind = "life"
	ItemRange ItemKind = "range"
	ItemBomb  ItemKind = "bomb"
)

type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

var directions = map[Direction]Position{
	Up:    {Row: -1, Col: 0},
	Down:  {Row: 1, Col: 0},
	Left:  {Row: 0, Col: -1},
	Right: {Row: 0, Col: 1},
}

// ParseDirection validates a client-supplied direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if _, ok := directions[d]; !ok {
		return "", apperr.New(apperr.CodeInvalidInput, "invalid direction: "+s)
	}
	return d, nil
}

type Status string

const (
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Reason explains how a match ended.
type Reason string

const (
	ReasonLastStanding  Reason = "last_standing"
	ReasonAllEliminated Reason = "all_eliminated"
	ReasonDisconnect    Reason = "disconnect"
	ReasonTimeout       Reason = "timeout"
	ReasonDraw          Reason = "draw"
)

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Position) add(d Position, n int) Position {
	return Position{Row: p.Row + d.Row*n, Col: p.Col + d.Col*n}
}

// Entrant is a room member taking part in a match.
type Entrant struct {
	UID      string
	Name     string
	PhotoURL string
}

type Player struct {
	UID        string
	Name       string
	PhotoURL   string
	Color      string
	Position   Position
	Alive      bool
	Lives      int
	BombRange  int
	MaxBombs   int
	LastMoveAt time.Time
}

type Bomb struct {
	ID        string
	OwnerUID  string
	Position  Position
	Range     int
	ExpiresAt time.Time
	timer     clock.Timer
}

type Explosion struct {
	ID        string
	BombID    string
	Cells     []Position
	ExpiresAt time.Time
}

type Item struct {
	ID       string
	Position Position
	Kind     ItemKind
}

// Result is the outcome of a finished match.
type Result struct {
	MatchID      string
	RoomID       string
	WinnerUID    string
	WinnerName   string
	Reason       Reason
	Draw         bool
	Participants []string
	// Survivors holds the players alive when the match ended.
	Survivors []string
}

// Rules holds the tunable constants of a match.
type Rules struct {
	Rows              int
	Cols              int
	BlockChance       float64
	SafeRadius        int
	StartLives        int
	MaxLives          int
	StartRange        int
	MaxRange          int
	StartBombs        int
	MaxBombs          int
	BombItemBonus     int
	MoveCooldown      time.Duration
	Fuse              time.Duration
	ExplosionDuration time.Duration
	MatchDuration     time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Rows:              13,
		Cols:              15,
		BlockChance:       0.45,
		SafeRadius:        2,
		StartLives:        3,
		MaxLives:          5,
		StartRange:        2,
		MaxRange:          6,
		StartBombs:        1,
		MaxBombs:          7,
		BombItemBonus:     2,
		MoveCooldown:      120 * time.Millisecond,
		Fuse:              2500 * time.Millisecond,
		ExplosionDuration: 500 * time.Millisecond,
		MatchDuration:     3 * time.Minute,
	}
}

var palette = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f1c40f",
	"#9b59b6", "#e67e22", "#1abc9c", "#ecf0f1",
}

var (
	ErrNotPlaying     = apperr.New(apperr.CodeConflict, "match is not in progress")
	ErrNotParticipant = apperr.New(apperr.CodeForbidden, "not a participant in this match")
	ErrPlayerDead     = apperr.New(apperr.CodeConflict, "player is eliminated")
	ErrMoveCooldown   = apperr.New(apperr.CodeConflict, "moving too fast")
	ErrOutOfBounds    = apperr.New(apperr.CodeInvalidInput, "target cell is out of bounds")
	ErrCellBlocked    = apperr.New(apperr.CodeConflict, "target cell is blocked")
	ErrBombInTheWay   = apperr.New(apperr.CodeConflict, "a bomb occupies the target cell")
	ErrBombLimit      = apperr.New(apperr.CodeConflict, "bomb limit reached")
	ErrCellHasBomb    = apperr.New(apperr.CodeConflict, "a bomb is already on this cell")
)
