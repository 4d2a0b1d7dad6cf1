package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"soulbomber-arena/internal/clock"
	"soulbomber-arena/internal/game"
)

// Room owns its membership and its match. All state below the inbox is
// touched only by the run goroutine.
type Room struct {
	id         string
	name       string
	createdAt  time.Time
	maxPlayers int
	dir        *Directory
	log        zerolog.Logger
	sched      clock.Scheduler

	players []*Player
	status  Status
	match   *game.Match
	cleanup clock.Timer
	closed  bool

	inbox chan func()
	done  chan struct{}
	view  atomic.Pointer[View]
}

func newRoom(d *Directory, name string, host Player) *Room {
	r := &Room{
		id:         uuid.NewString(),
		name:       name,
		createdAt:  d.sched.Now(),
		maxPlayers: d.cfg.MaxPlayers,
		dir:        d,
		status:     StatusWaiting,
		inbox:      make(chan func(), 64),
		done:       make(chan struct{}),
	}
	r.log = d.log.With().Str("room_id", r.id).Logger()
	r.sched = inboxScheduler{base: d.sched, room: r}

	host.Host = true
	host.Ready = false
	host.connected = true
	r.players = []*Player{&host}
	r.publish()
	return r
}

func (r *Room) run() {
	defer close(r.done)
	for fn := range r.inbox {
		fn()
		if r.closed {
			return
		}
	}
}

// call runs fn on the room goroutine and waits for its result.
func (r *Room) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- func() { reply <- fn() }:
	case <-r.done:
		return ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit is call for operations whose effect must be reported faithfully.
// ctx only bounds the wait for an inbox slot; once fn is queued its result
// is always awaited.
func (r *Room) commit(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- func() { reply <- fn() }:
	case <-r.done:
		return ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomNotFound
		}
	}
}

// post queues fn without waiting. Dropped once the room is closed.
func (r *Room) post(fn func()) {
	select {
	case r.inbox <- fn:
	case <-r.done:
	}
}

// inboxScheduler delivers timer callbacks through the room's inbox.
type inboxScheduler struct {
	base clock.Scheduler
	room *Room
}

func (s inboxScheduler) Now() time.Time { return s.base.Now() }

func (s inboxScheduler) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return s.base.AfterFunc(d, func() { s.room.post(fn) })
}

func (r *Room) join(p Player) (View, error) {
	if r.status != StatusWaiting {
		return View{}, ErrRoomNotWaiting
	}
	if r.member(p.UID) != nil {
		return View{}, ErrAlreadyMember
	}
	if len(r.players) >= r.maxPlayers {
		return View{}, ErrRoomFull
	}
	p.Host = false
	p.Ready = false
	p.connected = true
	r.players = append(r.players, &p)
	r.log.Info().Str("uid", p.UID).Int("players", len(r.players)).Msg("Player joined")
	return r.changed(), nil
}

func (r *Room) leave(uid string) error {
	if r.member(uid) == nil {
		return ErrNotMember
	}
	if r.match != nil {
		r.match.Eliminate(uid)
	}
	r.remove(uid)
	r.log.Info().Str("uid", uid).Int("players", len(r.players)).Msg("Player left")
	r.afterRemoval()
	return nil
}

func (r *Room) toggleReady(uid string) (View, error) {
	if r.status != StatusWaiting {
		return View{}, ErrRoomNotWaiting
	}
	p := r.member(uid)
	if p == nil {
		return View{}, ErrNotMember
	}
	if p.Host {
		return View{}, ErrHostReady
	}
	p.Ready = !p.Ready
	return r.changed(), nil
}

func (r *Room) start(uid string) error {
	if r.status != StatusWaiting {
		return ErrRoomNotWaiting
	}
	p := r.member(uid)
	if p == nil {
		return ErrNotMember
	}
	if !p.Host {
		return ErrNotHost
	}
	if len(r.players) < 2 {
		return ErrNotEnoughPlayers
	}
	for _, other := range r.players {
		if !other.Host && !other.Ready {
			return ErrPlayersNotReady
		}
	}

	rules := r.dir.cfg.Rules
	layout, err := game.Generate(rules, len(r.players), r.dir.newRand())
	if err != nil {
		return err
	}
	entrants := make([]game.Entrant, 0, len(r.players))
	for _, pl := range r.players {
		entrants = append(entrants, game.Entrant{UID: pl.UID, Name: pl.Name, PhotoURL: pl.PhotoURL})
	}
	r.match = game.New(game.Config{
		RoomID:    r.id,
		Rules:     rules,
		Layout:    layout,
		Entrants:  entrants,
		Scheduler: r.sched,
		Observer:  observer{r},
		Logger:    r.log,
	})
	r.status = StatusPlaying
	r.match.Start()
	r.publish()

	r.dir.out.ToUsers(r.uids(), EventGameStart, r.match.Snapshot())
	r.dir.broadcastList()
	return nil
}

func (r *Room) activeMatch(uid string) (*game.Match, error) {
	if r.member(uid) == nil {
		return nil, ErrNotMember
	}
	if r.match == nil || r.match.Status() != game.StatusPlaying {
		return nil, ErrNoMatch
	}
	return r.match, nil
}

func (r *Room) move(uid string, dir game.Direction) error {
	m, err := r.activeMatch(uid)
	if err != nil {
		return err
	}
	return m.Move(uid, dir)
}

func (r *Room) placeBomb(uid string) error {
	m, err := r.activeMatch(uid)
	if err != nil {
		return err
	}
	return m.PlaceBomb(uid)
}

func (r *Room) sync(uid string) (game.Snapshot, error) {
	m, err := r.activeMatch(uid)
	if err != nil {
		return game.Snapshot{}, err
	}
	r.member(uid).connected = true
	return m.Snapshot(), nil
}

// disconnect handles the loss of a member's last session. A waiting room
// treats it as leaving; a running match eliminates the player and keeps
// the seat until the room resets.
func (r *Room) disconnect(uid string) {
	p := r.member(uid)
	if p == nil {
		return
	}
	if r.status == StatusWaiting {
		r.remove(uid)
		r.log.Info().Str("uid", uid).Msg("Player disconnected from lobby")
		r.afterRemoval()
		return
	}
	p.connected = false
	if r.match != nil {
		r.match.Eliminate(uid)
	}
}

// reset returns the room to the lobby after a match. Members whose
// session is gone are dropped.
func (r *Room) reset(matchID string) {
	if r.match == nil || r.match.ID() != matchID {
		return
	}
	r.match.Stop()
	r.match = nil
	r.cleanup = nil
	r.status = StatusWaiting

	var gone []string
	for _, p := range r.players {
		p.Ready = false
		if !p.connected {
			gone = append(gone, p.UID)
		}
	}
	for _, uid := range gone {
		r.remove(uid)
	}
	r.log.Info().Str("match_id", matchID).Int("pruned", len(gone)).Msg("Room reset")
	r.afterRemoval()
}

func (r *Room) remove(uid string) {
	for i, p := range r.players {
		if p.UID != uid {
			continue
		}
		r.players = append(r.players[:i], r.players[i+1:]...)
		if p.Host && len(r.players) > 0 {
			r.players[0].Host = true
			r.players[0].Ready = false
		}
		r.dir.release(uid, r.id)
		return
	}
}

// afterRemoval closes an empty room or announces the new membership.
func (r *Room) afterRemoval() {
	if len(r.players) == 0 {
		r.close()
		r.dir.drop(r)
		r.log.Info().Msg("Room destroyed")
	} else {
		r.changed()
	}
	r.dir.broadcastList()
}

func (r *Room) close() {
	if r.match != nil {
		r.match.Stop()
	}
	if r.cleanup != nil {
		r.cleanup.Stop()
	}
	r.closed = true
	r.publish()
}

// changed publishes the room and pushes it to its members.
func (r *Room) changed() View {
	v := r.publish()
	r.dir.out.ToUsers(r.uids(), EventRoomUpdated, v)
	return v
}

func (r *Room) publish() View {
	v := View{
		ID:         r.id,
		Name:       r.name,
		Players:    make([]Player, 0, len(r.players)),
		Status:     r.status,
		MaxPlayers: r.maxPlayers,
		CreatedAt:  r.createdAt,
	}
	for _, p := range r.players {
		v.Players = append(v.Players, *p)
		if p.Host {
			v.HostUID = p.UID
		}
	}
	r.view.Store(&v)
	return v
}

func (r *Room) member(uid string) *Player {
	for _, p := range r.players {
		if p.UID == uid {
			return p
		}
	}
	return nil
}

func (r *Room) uids() []string {
	out := make([]string, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.UID)
	}
	return out
}

type observer struct{ r *Room }

func (o observer) StateChanged(m *game.Match) {
	o.r.dir.out.ToUsers(o.r.uids(), EventGameState, m.Snapshot())
}

func (o observer) MatchFinished(m *game.Match, res game.Result) {
	r := o.r
	plan := r.dir.settler.Plan(res)
	r.dir.out.ToUsers(r.uids(), EventGameOver, GameOver{
		MatchID:      res.MatchID,
		WinnerUID:    res.WinnerUID,
		WinnerName:   res.WinnerName,
		Reason:       res.Reason,
		Reward:       plan.Reward,
		RefundedUIDs: plan.RefundedUIDs,
	})
	r.dir.settler.Settle(plan)

	matchID := m.ID()
	r.cleanup = r.sched.AfterFunc(r.dir.cfg.CleanupGrace, func() { r.reset(matchID) })
}
