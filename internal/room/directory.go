// Package room manages lobbies and the matches played in them. Each room
// runs on its own goroutine; the Directory indexes rooms and membership
// and routes calls to the owning room.
package room

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soulbomber-arena/internal/clock"
	"soulbomber-arena/internal/economy"
	"soulbomber-arena/internal/game"
)

// Broadcaster delivers room events to connected users.
type Broadcaster interface {
	ToUsers(uids []string, event string, payload any)
	// ToLobby sends to every connected user for whom skip returns false.
	ToLobby(event string, payload any, skip func(uid string) bool)
}

// Settler turns a match result into ledger movements.
type Settler interface {
	Plan(res game.Result) economy.Settlement
	Settle(s economy.Settlement) bool
}

type Config struct {
	MaxPlayers   int
	Rules        game.Rules
	CleanupGrace time.Duration
	// Seed fixes terrain generation when non-zero.
	Seed uint64
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Matches int `json:"matches"`
	Members int `json:"members"`
}

type Directory struct {
	cfg     Config
	out     Broadcaster
	settler Settler
	sched   clock.Scheduler
	log     zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[string]string // uid -> room id
}

func NewDirectory(cfg Config, out Broadcaster, settler Settler, sched clock.Scheduler, logger zerolog.Logger) *Directory {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Directory{
		cfg:     cfg,
		out:     out,
		settler: settler,
		sched:   sched,
		log:     logger.With().Str("component", "rooms").Logger(),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		rooms:   make(map[string]*Room),
		members: make(map[string]string),
	}
}

func (d *Directory) newRand() *rand.Rand {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return rand.New(rand.NewPCG(d.rng.Uint64(), d.rng.Uint64()))
}

// Create opens a room with p as host. name must already be validated; an
// empty name is replaced with one derived from the host.
func (d *Directory) Create(ctx context.Context, p Player, name string) (View, error) {
	if name == "" {
		name = p.Name + "'s room"
	}

	d.mu.Lock()
	if _, busy := d.members[p.UID]; busy {
		d.mu.Unlock()
		return View{}, ErrInAnotherRoom
	}
	r := newRoom(d, name, p)
	d.rooms[r.id] = r
	d.members[p.UID] = r.id
	d.mu.Unlock()

	go r.run()
	r.log.Info().Str("host", p.UID).Str("name", name).Msg("Room created")
	d.broadcastList()
	return *r.view.Load(), nil
}

func (d *Directory) Join(ctx context.Context, roomID string, p Player) (View, error) {
	d.mu.Lock()
	r, ok := d.rooms[roomID]
	if !ok {
		d.mu.Unlock()
		return View{}, ErrRoomNotFound
	}
	if cur, busy := d.members[p.UID]; busy {
		d.mu.Unlock()
		if cur == roomID {
			return View{}, ErrAlreadyMember
		}
		return View{}, ErrInAnotherRoom
	}
	d.members[p.UID] = roomID
	d.mu.Unlock()

	var view View
	err := r.commit(ctx, func() error {
		v, err := r.join(p)
		view = v
		return err
	})
	if err != nil {
		d.release(p.UID, roomID)
		return View{}, err
	}
	d.broadcastList()
	return view, nil
}

func (d *Directory) Leave(ctx context.Context, roomID, uid string) error {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return err
	}
	return r.call(ctx, func() error { return r.leave(uid) })
}

func (d *Directory) ToggleReady(ctx context.Context, roomID, uid string) (View, error) {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return View{}, err
	}
	var view View
	err = r.call(ctx, func() error {
		v, err := r.toggleReady(uid)
		view = v
		return err
	})
	return view, err
}

func (d *Directory) Start(ctx context.Context, roomID, uid string) error {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return err
	}
	return r.call(ctx, func() error { return r.start(uid) })
}

func (d *Directory) Move(ctx context.Context, roomID, uid string, dir game.Direction) error {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return err
	}
	return r.call(ctx, func() error { return r.move(uid, dir) })
}

func (d *Directory) PlaceBomb(ctx context.Context, roomID, uid string) error {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return err
	}
	return r.call(ctx, func() error { return r.placeBomb(uid) })
}

// Sync returns the current snapshot of the caller's running match and
// marks the caller as connected again.
func (d *Directory) Sync(ctx context.Context, roomID, uid string) (game.Snapshot, error) {
	r, err := d.memberRoom(roomID, uid)
	if err != nil {
		return game.Snapshot{}, err
	}
	var snap game.Snapshot
	err = r.call(ctx, func() error {
		s, err := r.sync(uid)
		snap = s
		return err
	})
	return snap, err
}

// Disconnect reports that uid has no sessions left.
func (d *Directory) Disconnect(ctx context.Context, uid string) {
	d.mu.RLock()
	r := d.rooms[d.members[uid]]
	d.mu.RUnlock()
	if r == nil {
		return
	}
	if err := r.call(ctx, func() error { r.disconnect(uid); return nil }); err != nil {
		d.log.Debug().Err(err).Str("uid", uid).Msg("Disconnect not delivered")
	}
}

// List returns every room, newest first.
func (d *Directory) List() []Summary {
	d.mu.RLock()
	out := make([]Summary, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.view.Load().Summary())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (d *Directory) Get(roomID string) (View, bool) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return *r.view.Load(), true
}

// RoomOf returns the id of the room uid belongs to.
func (d *Directory) RoomOf(uid string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.members[uid]
	return id, ok
}

// InMatch reports whether uid is seated in a room that is playing.
func (d *Directory) InMatch(uid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[d.members[uid]]
	return ok && r.view.Load().Status == StatusPlaying
}

func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Stats{Rooms: len(d.rooms), Members: len(d.members)}
	for _, r := range d.rooms {
		if r.view.Load().Status == StatusPlaying {
			s.Matches++
		}
	}
	return s
}

// Shutdown closes every room, stopping running matches without
// settling them.
func (d *Directory) Shutdown(ctx context.Context) {
	d.mu.Lock()
	rooms := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		rooms = append(rooms, r)
	}
	d.rooms = make(map[string]*Room)
	d.members = make(map[string]string)
	d.mu.Unlock()

	for _, r := range rooms {
		r.post(r.close)
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Directory) memberRoom(roomID, uid string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if d.members[uid] != roomID {
		return nil, ErrNotMember
	}
	return r, nil
}

// release drops uid's membership if it still points at roomID.
func (d *Directory) release(uid, roomID string) {
	d.mu.Lock()
	if d.members[uid] == roomID {
		delete(d.members, uid)
	}
	d.mu.Unlock()
}

func (d *Directory) drop(r *Room) {
	d.mu.Lock()
	if d.rooms[r.id] == r {
		delete(d.rooms, r.id)
	}
	d.mu.Unlock()
}

// broadcastList pushes the room list to users not busy in a match. Must
// not be called with d.mu held.
func (d *Directory) broadcastList() {
	d.out.ToLobby(EventRoomsList, d.List(), d.InMatch)
}
