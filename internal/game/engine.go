// Package game holds the authoritative rules of a match: terrain
// generation, movement, bombs and chain reactions, items and the win
// condition.
//
// A Match is not safe for concurrent use. Its owner must serialize every
// call, including the timer callbacks delivered through the Scheduler.
package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"soulbomber-arena/internal/clock"
)

// Observer receives match events. Both methods are called synchronously
// from inside the Match.
type Observer interface {
	StateChanged(m *Match)
	MatchFinished(m *Match, res Result)
}

type Config struct {
	ID        string
	RoomID    string
	Rules     Rules
	Layout    Layout
	Entrants  []Entrant
	Scheduler clock.Scheduler
	Observer  Observer
	Logger    zerolog.Logger
}

type Match struct {
	id     string
	roomID string
	rules  Rules
	sched  clock.Scheduler
	obs    Observer
	log    zerolog.Logger

	board      Board
	hidden     map[Position]ItemKind
	players    map[string]*Player
	order      []string
	bombs      []*Bomb
	explosions []*Explosion
	items      []*Item

	status     Status
	winnerUID  string
	result     *Result
	startedAt  time.Time
	endsAt     time.Time
	matchTimer clock.Timer

	// depth tracks nested detonations so the outcome is decided once the
	// whole chain has resolved.
	depth       int
	chainDeaths bool
}

// New places the entrants on their spawn points. The match clock does not
// run until Start.
func New(cfg Config) *Match {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := &Match{
		id:      id,
		roomID:  cfg.RoomID,
		rules:   cfg.Rules,
		sched:   cfg.Scheduler,
		obs:     cfg.Observer,
		log:     cfg.Logger.With().Str("match_id", id).Logger(),
		board:   cfg.Layout.Board,
		hidden:  cfg.Layout.Hidden,
		players: make(map[string]*Player, len(cfg.Entrants)),
		status:  StatusPlaying,
	}
	if m.hidden == nil {
		m.hidden = make(map[Position]ItemKind)
	}
	spawns := SpawnPoints(m.board.Rows(), m.board.Cols())
	for i, e := range cfg.Entrants {
		m.players[e.UID] = &Player{
			UID:       e.UID,
			Name:      e.Name,
			PhotoURL:  e.PhotoURL,
			Color:     palette[i%len(palette)],
			Position:  spawns[i%len(spawns)],
			Alive:     true,
			Lives:     m.rules.StartLives,
			BombRange: m.rules.StartRange,
			MaxBombs:  m.rules.StartBombs,
		}
		m.order = append(m.order, e.UID)
	}
	return m
}

// Start arms the match-duration timer.
func (m *Match) Start() {
	m.startedAt = m.sched.Now()
	m.endsAt = m.startedAt.Add(m.rules.MatchDuration)
	m.matchTimer = m.sched.AfterFunc(m.rules.MatchDuration, m.Timeout)
	m.log.Info().Int("players", len(m.order)).Dur("duration", m.rules.MatchDuration).Msg("Match started")
}

func (m *Match) ID() string { return m.id }

func (m *Match) RoomID() string { return m.roomID }

func (m *Match) Status() Status { return m.status }

func (m *Match) Participants() []string {
	return append([]string(nil), m.order...)
}

// Result returns the outcome once the match is finished.
func (m *Match) Result() (Result, bool) {
	if m.result == nil {
		return Result{}, false
	}
	return *m.result, true
}

// Player returns a copy of a participant's state.
func (m *Match) Player(uid string) (Player, bool) {
	p, ok := m.players[uid]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

func (m *Match) Bombs() []Bomb {
	out := make([]Bomb, 0, len(m.bombs))
	for _, b := range m.bombs {
		out = append(out, *b)
	}
	return out
}

func (m *Match) Explosions() []Explosion {
	out := make([]Explosion, 0, len(m.explosions))
	for _, e := range m.explosions {
		out = append(out, *e)
	}
	return out
}

func (m *Match) Items() []Item {
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	return out
}

// Move steps a player one cell. Rejected moves leave the state untouched.
func (m *Match) Move(uid string, dir Direction) error {
	p, err := m.actor(uid)
	if err != nil {
		return err
	}
	delta, ok := directions[dir]
	if !ok {
		_, err := ParseDirection(string(dir))
		return err
	}
	now := m.sched.Now()
	if !p.LastMoveAt.IsZero() && now.Sub(p.LastMoveAt) < m.rules.MoveCooldown {
		return ErrMoveCooldown
	}
	target := p.Position.add(delta, 1)
	if !m.board.In(target) {
		return ErrOutOfBounds
	}
	if m.board.At(target) != Empty {
		return ErrCellBlocked
	}
	if m.bombAt(target) != nil {
		return ErrBombInTheWay
	}

	p.Position = target
	p.LastMoveAt = now
	m.pickUp(p)
	m.changed()
	return nil
}

func (m *Match) pickUp(p *Player) {
	for i, it := range m.items {
		if it.Position != p.Position {
			continue
		}
		switch it.Kind {
		case ItemLife:
			p.Lives = min(p.Lives+1, m.rules.MaxLives)
		case ItemRange:
			p.BombRange = min(p.BombRange+1, m.rules.MaxRange)
		case ItemBomb:
			p.MaxBombs = min(p.MaxBombs+m.rules.BombItemBonus, m.rules.MaxBombs)
		}
		m.items = append(m.items[:i], m.items[i+1:]...)
		m.log.Debug().Str("uid", p.UID).Str("item", string(it.Kind)).Msg("Item collected")
		return
	}
}

// PlaceBomb drops a bomb on the player's cell and arms its fuse.
func (m *Match) PlaceBomb(uid string) error {
	p, err := m.actor(uid)
	if err != nil {
		return err
	}
	if m.bombAt(p.Position) != nil {
		return ErrCellHasBomb
	}
	owned := 0
	for _, b := range m.bombs {
		if b.OwnerUID == uid {
			owned++
		}
	}
	if owned >= p.MaxBombs {
		return ErrBombLimit
	}

	b := &Bomb{
		ID:        uuid.NewString(),
		OwnerUID:  uid,
		Position:  p.Position,
		Range:     p.BombRange,
		ExpiresAt: m.sched.Now().Add(m.rules.Fuse),
	}
	id := b.ID
	b.timer = m.sched.AfterFunc(m.rules.Fuse, func() { m.Detonate(id) })
	m.bombs = append(m.bombs, b)
	m.changed()
	return nil
}

// Detonate explodes a bomb and every bomb caught in its blast. Unknown ids
// are ignored, so a fuse that fires after a chain already consumed the
// bomb is harmless.
func (m *Match) Detonate(bombID string) {
	if m.status != StatusPlaying {
		return
	}
	idx := -1
	for i, b := range m.bombs {
		if b.ID == bombID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	b := m.bombs[idx]
	m.bombs = append(m.bombs[:idx], m.bombs[idx+1:]...)
	if b.timer != nil {
		b.timer.Stop()
	}

	m.depth++
	cells := m.blast(b.Position, b.Range)
	hit := make(map[Position]bool, len(cells))
	for _, c := range cells {
		hit[c] = true
		if m.board.At(c) != Block {
			continue
		}
		m.board.Set(c, Empty)
		if kind, ok := m.hidden[c]; ok {
			delete(m.hidden, c)
			m.items = append(m.items, &Item{ID: uuid.NewString(), Position: c, Kind: kind})
		}
	}

	var chained []string
	for _, other := range m.bombs {
		if hit[other.Position] {
			chained = append(chained, other.ID)
		}
	}
	for _, id := range chained {
		m.Detonate(id)
	}

	for _, uid := range m.order {
		p := m.players[uid]
		if !p.Alive || !hit[p.Position] {
			continue
		}
		p.Lives--
		if p.Lives <= 0 {
			p.Lives = 0
			p.Alive = false
			m.chainDeaths = true
			m.log.Info().Str("uid", uid).Str("bomb_id", b.ID).Msg("Player eliminated")
		}
	}

	exp := &Explosion{
		ID:        uuid.NewString(),
		BombID:    b.ID,
		Cells:     cells,
		ExpiresAt: m.sched.Now().Add(m.rules.ExplosionDuration),
	}
	m.explosions = append(m.explosions, exp)
	expID := exp.ID
	m.sched.AfterFunc(m.rules.ExplosionDuration, func() { m.expireExplosion(expID) })

	m.depth--
	if m.depth > 0 {
		return
	}
	var res *Result
	if m.chainDeaths {
		m.chainDeaths = false
		res = m.evaluate(ReasonLastStanding)
	}
	m.changed()
	if res != nil {
		m.finished(*res)
	}
}

// blast casts four rays from center. A ray stops before a wall, includes
// the first block it meets and stops there, and passes through open floor.
// The center is always the first cell.
func (m *Match) blast(center Position, reach int) []Position {
	cells := []Position{center}
	for _, dir := range []Direction{Up, Down, Left, Right} {
		delta := directions[dir]
		for step := 1; step <= reach; step++ {
			c := center.add(delta, step)
			if !m.board.In(c) || m.board.At(c) == Wall {
				break
			}
			cells = append(cells, c)
			if m.board.At(c) == Block {
				break
			}
		}
	}
	return cells
}

func (m *Match) expireExplosion(id string) {
	for i, e := range m.explosions {
		if e.ID == id {
			m.explosions = append(m.explosions[:i], m.explosions[i+1:]...)
			if m.status == StatusPlaying {
				m.changed()
			}
			return
		}
	}
}

// Eliminate removes a participant whose session was lost and re-checks the
// win condition. It reports whether the player was alive.
func (m *Match) Eliminate(uid string) bool {
	if m.status != StatusPlaying {
		return false
	}
	p, ok := m.players[uid]
	if !ok || !p.Alive {
		return false
	}
	p.Alive = false
	m.log.Info().Str("uid", uid).Msg("Player eliminated by disconnect")

	res := m.evaluate(ReasonDisconnect)
	m.changed()
	if res != nil {
		m.finished(*res)
	}
	return true
}

// Timeout resolves the match when its duration elapses. The single alive
// player with the most lives wins; a tie at the top is a draw.
func (m *Match) Timeout() {
	if m.status != StatusPlaying {
		return
	}
	best, leaders := -1, []string(nil)
	for _, uid := range m.order {
		p := m.players[uid]
		if !p.Alive {
			continue
		}
		switch {
		case p.Lives > best:
			best, leaders = p.Lives, []string{uid}
		case p.Lives == best:
			leaders = append(leaders, uid)
		}
	}

	var res Result
	if len(leaders) == 1 {
		res = m.finish(leaders[0], ReasonTimeout, false)
	} else {
		res = m.finish("", ReasonDraw, true)
	}
	m.changed()
	m.finished(res)
}

// Stop cancels every pending timer without producing an outcome. Used when
// the owning room goes away.
func (m *Match) Stop() {
	m.stopTimers()
	m.status = StatusFinished
}

func (m *Match) evaluate(cause Reason) *Result {
	var alive []string
	for _, uid := range m.order {
		if m.players[uid].Alive {
			alive = append(alive, uid)
		}
	}
	var res Result
	switch len(alive) {
	case 0:
		res = m.finish("", ReasonAllEliminated, false)
	case 1:
		res = m.finish(alive[0], cause, false)
	default:
		return nil
	}
	return &res
}

func (m *Match) finish(winner string, reason Reason, draw bool) Result {
	m.status = StatusFinished
	m.winnerUID = winner
	m.stopTimers()

	res := Result{
		MatchID:      m.id,
		RoomID:       m.roomID,
		WinnerUID:    winner,
		Reason:       reason,
		Draw:         draw,
		Participants: append([]string(nil), m.order...),
	}
	if p, ok := m.players[winner]; ok {
		res.WinnerName = p.Name
	}
	for _, uid := range m.order {
		if m.players[uid].Alive {
			res.Survivors = append(res.Survivors, uid)
		}
	}
	m.result = &res
	m.log.Info().
		Str("winner", winner).
		Str("reason", string(reason)).
		Bool("draw", draw).
		Strs("survivors", res.Survivors).
		Msg("Match finished")
	return res
}

func (m *Match) stopTimers() {
	if m.matchTimer != nil {
		m.matchTimer.Stop()
	}
	for _, b := range m.bombs {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
}

func (m *Match) actor(uid string) (*Player, error) {
	if m.status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	p, ok := m.players[uid]
	if !ok {
		return nil, ErrNotParticipant
	}
	if !p.Alive {
		return nil, ErrPlayerDead
	}
	return p, nil
}

func (m *Match) bombAt(p Position) *Bomb {
	for _, b := range m.bombs {
		if b.Position == p {
			return b
		}
	}
	return nil
}

func (m *Match) changed() {
	if m.obs != nil {
		m.obs.StateChanged(m)
	}
}

func (m *Match) finished(res Result) {
	if m.obs != nil {
		m.obs.MatchFinished(m, res)
	}
}
