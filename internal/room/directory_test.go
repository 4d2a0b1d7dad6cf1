package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulbomber-arena/internal/clock"
	"soulbomber-arena/internal/economy"
	"soulbomber-arena/internal/game"
	"soulbomber-arena/internal/ledger"
)

type delivery struct {
	uids    []string
	event   string
	payload any
}

type fakeOut struct {
	mu    sync.Mutex
	sent  []delivery
	lists int
	// skipped records, per lobby broadcast, which of the watched users were skipped.
	watch   []string
	skipped [][]string
}

func (f *fakeOut) ToUsers(uids []string, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{uids: uids, event: event, payload: payload})
}

func (f *fakeOut) ToLobby(event string, payload any, skip func(uid string) bool) {
	var skipped []string
	f.mu.Lock()
	watch := f.watch
	f.mu.Unlock()
	for _, uid := range watch {
		if skip(uid) {
			skipped = append(skipped, uid)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.skipped = append(f.skipped, skipped)
}

func (f *fakeOut) events(event string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.sent {
		if d.event == event {
			out = append(out, d)
		}
	}
	return out
}

type harness struct {
	dir     *Directory
	out     *fakeOut
	clk     *clock.Manual
	settler *economy.Settler
	ledger  *ledger.Memory
}

func testRules() game.Rules {
	r := game.DefaultRules()
	r.Rows, r.Cols = 7, 7
	r.BlockChance = 0
	r.StartLives = 1
	r.MatchDuration = 10 * time.Second
	return r
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		out:    &fakeOut{},
		clk:    clock.NewManual(time.Unix(1_700_000_000, 0)),
		ledger: ledger.NewMemory(1000),
	}
	h.settler = economy.NewSettler(h.ledger, economy.DefaultConfig(), zerolog.Nop())
	h.dir = NewDirectory(Config{
		MaxPlayers:   4,
		Rules:        testRules(),
		CleanupGrace: 15 * time.Second,
		Seed:         7,
	}, h.out, h.settler, h.clk, zerolog.Nop())
	t.Cleanup(func() { h.dir.Shutdown(context.Background()) })
	return h
}

// flush waits until the room has drained every queued callback.
func (h *harness) flush(t *testing.T, roomID string) {
	t.Helper()
	h.dir.mu.RLock()
	r := h.dir.rooms[roomID]
	h.dir.mu.RUnlock()
	if r == nil {
		return
	}
	err := r.call(context.Background(), func() error { return nil })
	if err != nil {
		require.ErrorIs(t, err, ErrRoomNotFound)
	}
}

func (h *harness) advance(t *testing.T, roomID string, d time.Duration) {
	t.Helper()
	h.clk.Advance(d)
	h.flush(t, roomID)
}

func player(uid string) Player {
	return Player{UID: uid, Name: "Player " + uid}
}

// startMatch seats a and b in a room and starts a match.
func (h *harness) startMatch(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)
	_, err = h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)
	_, err = h.dir.ToggleReady(ctx, v.ID, "b")
	require.NoError(t, err)
	require.NoError(t, h.dir.Start(ctx, v.ID, "a"))
	return v.ID
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "")
	require.NoError(t, err)
	assert.Equal(t, "Player a's room", v.Name)
	assert.Equal(t, "a", v.HostUID)
	assert.Equal(t, StatusWaiting, v.Status)
	require.Len(t, v.Players, 1)
	assert.True(t, v.Players[0].Host)

	_, err = h.dir.Create(ctx, player("a"), "second")
	assert.ErrorIs(t, err, ErrInAnotherRoom)

	list := h.dir.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Player a", list[0].HostName)
	assert.Equal(t, 1, list[0].PlayerCount)
}

func TestJoin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)

	_, err = h.dir.Join(ctx, "missing", player("b"))
	assert.ErrorIs(t, err, ErrRoomNotFound)

	joined, err := h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)
	assert.Len(t, joined.Players, 2)
	assert.False(t, joined.Players[1].Host)

	_, err = h.dir.Join(ctx, v.ID, player("b"))
	assert.ErrorIs(t, err, ErrAlreadyMember)

	other, err := h.dir.Create(ctx, player("c"), "other")
	require.NoError(t, err)
	_, err = h.dir.Join(ctx, other.ID, player("b"))
	assert.ErrorIs(t, err, ErrInAnotherRoom)

	updates := h.out.events(EventRoomUpdated)
	require.NotEmpty(t, updates)
	assert.ElementsMatch(t, []string{"a", "b"}, updates[len(updates)-1].uids)
}

func TestJoin_Full(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)
	for _, uid := range []string{"b", "c", "d"} {
		_, err := h.dir.Join(ctx, v.ID, player(uid))
		require.NoError(t, err)
	}

	_, err = h.dir.Join(ctx, v.ID, player("e"))
	assert.ErrorIs(t, err, ErrRoomFull)

	_, inRoom := h.dir.RoomOf("e")
	assert.False(t, inRoom, "a rejected join must not leave a membership behind")
}

// blockRoom parks the room goroutine until the returned func is called.
func (h *harness) blockRoom(t *testing.T, roomID string) func() {
	t.Helper()
	h.dir.mu.RLock()
	r := h.dir.rooms[roomID]
	h.dir.mu.RUnlock()
	require.NotNil(t, r)

	started := make(chan struct{})
	release := make(chan struct{})
	r.post(func() {
		close(started)
		<-release
	})
	<-started
	return func() { close(release) }
}

func TestJoin_SlowRoomKeepsSeatConsistent(t *testing.T) {
	h := newHarness(t)
	v, err := h.dir.Create(context.Background(), player("a"), "arena")
	require.NoError(t, err)

	unblock := h.blockRoom(t, v.ID)

	type result struct {
		view View
		err  error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		view, err := h.dir.Join(ctx, v.ID, player("b"))
		done <- result{view, err}
	}()

	time.Sleep(100 * time.Millisecond)
	unblock()

	res := <-done
	require.NoError(t, res.err)
	assert.Len(t, res.view.Players, 2)

	roomID, ok := h.dir.RoomOf("b")
	require.True(t, ok)
	assert.Equal(t, v.ID, roomID)
	require.NoError(t, h.dir.Leave(context.Background(), v.ID, "b"))
}

func TestJoin_TimeoutBeforeQueuedLeavesNoSeat(t *testing.T) {
	h := newHarness(t)
	v, err := h.dir.Create(context.Background(), player("a"), "arena")
	require.NoError(t, err)

	h.dir.mu.RLock()
	r := h.dir.rooms[v.ID]
	h.dir.mu.RUnlock()

	unblock := h.blockRoom(t, v.ID)
	for range cap(r.inbox) {
		r.post(func() {})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.dir.Join(ctx, v.ID, player("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unblock()
	h.flush(t, v.ID)

	_, ok := h.dir.RoomOf("b")
	assert.False(t, ok)
	view, ok := h.dir.Get(v.ID)
	require.True(t, ok)
	assert.Len(t, view.Players, 1)
}

func TestJoin_RejectedWhilePlaying(t *testing.T) {
	h := newHarness(t)
	roomID := h.startMatch(t)

	_, err := h.dir.Join(context.Background(), roomID, player("c"))
	assert.ErrorIs(t, err, ErrRoomNotWaiting)
}

func TestToggleReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)
	_, err = h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)

	_, err = h.dir.ToggleReady(ctx, v.ID, "a")
	assert.ErrorIs(t, err, ErrHostReady)

	got, err := h.dir.ToggleReady(ctx, v.ID, "b")
	require.NoError(t, err)
	assert.True(t, got.Players[1].Ready)

	got, err = h.dir.ToggleReady(ctx, v.ID, "b")
	require.NoError(t, err)
	assert.False(t, got.Players[1].Ready)

	_, err = h.dir.ToggleReady(ctx, v.ID, "z")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestStart_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)

	assert.ErrorIs(t, h.dir.Start(ctx, v.ID, "a"), ErrNotEnoughPlayers)

	_, err = h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)
	assert.ErrorIs(t, h.dir.Start(ctx, v.ID, "b"), ErrNotHost)
	assert.ErrorIs(t, h.dir.Start(ctx, v.ID, "a"), ErrPlayersNotReady)

	_, err = h.dir.ToggleReady(ctx, v.ID, "b")
	require.NoError(t, err)
	require.NoError(t, h.dir.Start(ctx, v.ID, "a"))

	got, ok := h.dir.Get(v.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, got.Status)
	assert.True(t, h.dir.InMatch("a"))
	assert.Equal(t, 1, h.dir.Stats().Matches)

	starts := h.out.events(EventGameStart)
	require.Len(t, starts, 1)
	snap := starts[0].payload.(game.Snapshot)
	assert.Len(t, snap.Players, 2)
	assert.Equal(t, 7, len(snap.Map))

	assert.ErrorIs(t, h.dir.Start(ctx, v.ID, "a"), ErrRoomNotWaiting)
}

func TestLobbyBroadcastSkipsPlayersInMatch(t *testing.T) {
	h := newHarness(t)
	h.out.watch = []string{"a", "b", "lurker"}
	h.startMatch(t)

	h.out.mu.Lock()
	last := h.out.skipped[len(h.out.skipped)-1]
	h.out.mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, last)
}

func TestHostHandover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)
	_, err = h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)
	_, err = h.dir.ToggleReady(ctx, v.ID, "b")
	require.NoError(t, err)

	require.NoError(t, h.dir.Leave(ctx, v.ID, "a"))

	got, ok := h.dir.Get(v.ID)
	require.True(t, ok)
	assert.Equal(t, "b", got.HostUID)
	require.Len(t, got.Players, 1)
	assert.False(t, got.Players[0].Ready)

	require.NoError(t, h.dir.Leave(ctx, v.ID, "b"))
	h.flush(t, v.ID)
	_, ok = h.dir.Get(v.ID)
	assert.False(t, ok, "empty rooms are destroyed")
	assert.Empty(t, h.dir.List())

	assert.ErrorIs(t, h.dir.Leave(ctx, v.ID, "b"), ErrRoomNotFound)
}

func TestDisconnectInLobbyLeaves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.dir.Create(ctx, player("a"), "arena")
	require.NoError(t, err)
	_, err = h.dir.Join(ctx, v.ID, player("b"))
	require.NoError(t, err)

	h.dir.Disconnect(ctx, "b")

	got, _ := h.dir.Get(v.ID)
	assert.Len(t, got.Players, 1)
	_, inRoom := h.dir.RoomOf("b")
	assert.False(t, inRoom)
}

func TestMatch_BombWinsAndPaysOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	roomID := h.startMatch(t)
	step := 150 * time.Millisecond

	// a walks to (1,3), two cells from b at (1,5), drops a bomb and hides
	// at (3,2), outside the blast.
	require.NoError(t, h.dir.Move(ctx, roomID, "a", game.Right))
	h.advance(t, roomID, step)
	require.NoError(t, h.dir.Move(ctx, roomID, "a", game.Right))
	require.NoError(t, h.dir.PlaceBomb(ctx, roomID, "a"))
	assert.ErrorIs(t, h.dir.Move(ctx, roomID, "a", game.Down), game.ErrMoveCooldown)
	h.advance(t, roomID, step)
	require.NoError(t, h.dir.Move(ctx, roomID, "a", game.Down))
	h.advance(t, roomID, step)
	require.NoError(t, h.dir.Move(ctx, roomID, "a", game.Down))
	h.advance(t, roomID, step)
	require.NoError(t, h.dir.Move(ctx, roomID, "a", game.Left))

	h.advance(t, roomID, 3*time.Second)

	overs := h.out.events(EventGameOver)
	require.Len(t, overs, 1)
	over := overs[0].payload.(GameOver)
	assert.Equal(t, "a", over.WinnerUID)
	assert.Equal(t, game.ReasonLastStanding, over.Reason)
	assert.Equal(t, int64(100), over.Reward)
	assert.Empty(t, over.RefundedUIDs)

	h.settler.Wait()
	balance, err := h.ledger.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1050), balance)
	balance, err = h.ledger.Balance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(950), balance)

	assert.ErrorIs(t, h.dir.Move(ctx, roomID, "a", game.Up), ErrNoMatch)

	// The room returns to the lobby after the grace period.
	h.advance(t, roomID, 14*time.Second)
	got, _ := h.dir.Get(roomID)
	assert.Equal(t, StatusPlaying, got.Status)

	h.advance(t, roomID, 2*time.Second)
	got, _ = h.dir.Get(roomID)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Len(t, got.Players, 2)
	for _, p := range got.Players {
		assert.False(t, p.Ready)
	}
	assert.False(t, h.dir.InMatch("a"))
}

func TestMatch_DisconnectEliminatesAndPrunes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	roomID := h.startMatch(t)

	h.dir.Disconnect(ctx, "b")

	overs := h.out.events(EventGameOver)
	require.Len(t, overs, 1)
	over := overs[0].payload.(GameOver)
	assert.Equal(t, "a", over.WinnerUID)
	assert.Equal(t, game.ReasonDisconnect, over.Reason)

	// b keeps the seat until the room resets.
	got, _ := h.dir.Get(roomID)
	assert.Len(t, got.Players, 2)

	h.advance(t, roomID, 16*time.Second)
	got, _ = h.dir.Get(roomID)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "a", got.Players[0].UID)
	_, inRoom := h.dir.RoomOf("b")
	assert.False(t, inRoom)
}

func TestMatch_SyncRestoresSeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	roomID := h.startMatch(t)

	_, err := h.dir.Sync(ctx, roomID, "z")
	assert.ErrorIs(t, err, ErrNotMember)

	snap, err := h.dir.Sync(ctx, roomID, "b")
	require.NoError(t, err)
	assert.Equal(t, game.StatusPlaying, snap.Status)
	assert.Contains(t, snap.Players, "b")
}

func TestMatch_TimeoutDrawRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	roomID := h.startMatch(t)

	h.advance(t, roomID, 10*time.Second)

	overs := h.out.events(EventGameOver)
	require.Len(t, overs, 1)
	over := overs[0].payload.(GameOver)
	assert.Empty(t, over.WinnerUID)
	assert.Equal(t, game.ReasonDraw, over.Reason)
	assert.ElementsMatch(t, []string{"a", "b"}, over.RefundedUIDs)

	h.settler.Wait()
	for _, uid := range []string{"a", "b"} {
		balance, err := h.ledger.Balance(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
	}
}

func TestMatch_LeaveDuringMatchForfeits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	roomID := h.startMatch(t)

	require.NoError(t, h.dir.Leave(ctx, roomID, "a"))

	overs := h.out.events(EventGameOver)
	require.Len(t, overs, 1)
	assert.Equal(t, "b", overs[0].payload.(GameOver).WinnerUID)

	got, _ := h.dir.Get(roomID)
	assert.Equal(t, "b", got.HostUID)
	assert.Len(t, got.Players, 1)
}

func TestShutdownStopsRooms(t *testing.T) {
	h := newHarness(t)
	h.startMatch(t)

	h.dir.Shutdown(context.Background())

	assert.Empty(t, h.dir.List())
	assert.Equal(t, 0, h.clk.Pending())
}
