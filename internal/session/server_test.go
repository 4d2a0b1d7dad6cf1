package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"soulbomber-arena/internal/clock"
	"soulbomber-arena/internal/economy"
	"soulbomber-arena/internal/game"
	"soulbomber-arena/internal/identity"
	"soulbomber-arena/internal/ledger"
	"soulbomber-arena/internal/room"
)

type testEnv struct {
	ts      *httptest.Server
	issuer  *identity.HMAC
	dir     *room.Directory
	tracker *Tracker
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(log)
	go hub.Run(ctx)

	settler := economy.NewSettler(ledger.NewMemory(1000), economy.DefaultConfig(), log)
	dir := room.NewDirectory(room.Config{
		MaxPlayers:   8,
		Rules:        game.DefaultRules(),
		CleanupGrace: time.Second,
	}, hub, settler, clock.Real{}, log)

	tracker := NewTracker(log)
	issuer := identity.NewHMAC("test-secret")
	ts := httptest.NewServer(NewServer(cfg, hub, dir, issuer, tracker, log))

	t.Cleanup(func() {
		ts.Close()
		dir.Shutdown(context.Background())
		tracker.Stop()
		cancel()
	})
	return &testEnv{ts: ts, issuer: issuer, dir: dir, tracker: tracker}
}

func (e *testEnv) url(token string) string {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(t *testing.T, uid string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	token, err := e.issuer.Issue(identity.Identity{UID: uid, Name: "Player " + uid}, time.Hour)
	require.NoError(t, err)

	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(e.url(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect reads frames until one carries event, skipping the rest.
func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	for range 50 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f.Data
		}
	}
	t.Fatalf("event %q not received", event)
	return nil
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestServeHTTP_RejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"forged token", "eyJ1aWQiOiJ4In0.c2ln"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(env.url(tt.token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestSession_ReadyAndPing(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := env.dial(t, "u1")

	ready := decode[readyPayload](t, expect(t, conn, EventSessionReady))
	assert.Equal(t, "u1", ready.UID)
	assert.Equal(t, "Player u1", ready.Name)

	send(t, conn, EventPing, struct{}{})
	pong := decode[pongPayload](t, expect(t, conn, EventPong))
	assert.NotZero(t, pong.Time)
}

func TestSession_RoomFlow(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	a := env.dial(t, "a")
	b := env.dial(t, "b")

	send(t, a, EventRoomCreate, createPayload{RoomName: "Arena One"})
	created := decode[room.View](t, expect(t, a, EventRoomJoined))
	assert.Equal(t, "Arena One", created.Name)
	assert.Equal(t, "a", created.HostUID)

	send(t, b, EventRoomsList, struct{}{})
	list := decode[[]room.Summary](t, expect(t, b, EventRoomsList))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	send(t, b, EventRoomJoin, roomPayload{RoomID: created.ID})
	joined := decode[room.View](t, expect(t, b, EventRoomJoined))
	assert.Len(t, joined.Players, 2)

	updated := decode[room.View](t, expect(t, a, room.EventRoomUpdated))
	assert.Len(t, updated.Players, 2)

	send(t, a, EventRoomStart, roomPayload{RoomID: created.ID})
	failed := decode[errorPayload](t, expect(t, a, EventRoomError))
	assert.Equal(t, "CONFLICT", failed.Code)

	send(t, b, EventRoomReady, roomPayload{RoomID: created.ID})
	ready := decode[room.View](t, expect(t, a, room.EventRoomUpdated))
	assert.True(t, ready.Players[1].Ready)

	send(t, a, EventRoomStart, roomPayload{RoomID: created.ID})
	for _, conn := range []*websocket.Conn{a, b} {
		snap := decode[game.Snapshot](t, expect(t, conn, room.EventGameStart))
		assert.Equal(t, created.ID, snap.RoomID)
		assert.Len(t, snap.Players, 2)
		assert.Len(t, snap.Map, 13)
	}

	send(t, a, EventGameMove, movePayload{RoomID: created.ID, Direction: "sideways"})
	bad := decode[errorPayload](t, expect(t, a, EventRoomError))
	assert.Equal(t, "INVALID_INPUT", bad.Code)

	send(t, b, EventGameSync, roomPayload{RoomID: created.ID})
	state := decode[game.Snapshot](t, expect(t, b, EventGameState))
	assert.Equal(t, game.StatusPlaying, state.Status)
	assert.Contains(t, state.Players, "b")
}

func TestSession_Validation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := env.dial(t, "u1")

	tests := []struct {
		name  string
		event string
		data  any
	}{
		{"bad room id", EventRoomJoin, roomPayload{RoomID: "lobby-1"}},
		{"missing room id", EventRoomStart, struct{}{}},
		{"bad room name", EventRoomCreate, createPayload{RoomName: "<script>"}},
		{"unknown event", "room:explode", struct{}{}},
		{"payload of wrong shape", EventRoomJoin, []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.event, tt.data)
			got := decode[errorPayload](t, expect(t, conn, EventRoomError))
			assert.Equal(t, "INVALID_INPUT", got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestSession_SyncWithoutMatch(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := env.dial(t, "u1")

	send(t, conn, EventRoomCreate, createPayload{})
	view := decode[room.View](t, expect(t, conn, EventRoomJoined))
	assert.Equal(t, "Player u1's room", view.Name)

	send(t, conn, EventGameSync, roomPayload{RoomID: view.ID})
	got := decode[errorPayload](t, expect(t, conn, EventSyncError))
	assert.Equal(t, "NOT_FOUND", got.Code)
}

func TestSession_DisconnectLeavesLobbyRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := env.dial(t, "u1")

	send(t, conn, EventRoomCreate, createPayload{RoomName: "Short lived"})
	view := decode[room.View](t, expect(t, conn, EventRoomJoined))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, ok := env.dir.Get(view.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_SecondTabKeepsSeat(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	first := env.dial(t, "u1")
	second := env.dial(t, "u1")
	expect(t, second, EventSessionReady)

	send(t, first, EventRoomCreate, createPayload{RoomName: "Two tabs"})
	view := decode[room.View](t, expect(t, first, EventRoomJoined))
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		return env.tracker.Stats().Connections == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := env.dir.Get(view.ID)
	assert.True(t, ok)
}

func TestSession_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 1
	env := newTestEnv(t, cfg)
	conn := env.dial(t, "u1")

	send(t, conn, EventPing, struct{}{})
	expect(t, conn, EventPong)

	send(t, conn, EventPing, struct{}{})
	got := decode[errorPayload](t, expect(t, conn, EventRoomError))
	assert.Equal(t, "too many messages", got.Message)
}

func TestSession_Msgpack(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := env.dial(t, "u1", SubprotocolMsgpack)
	assert.Equal(t, SubprotocolMsgpack, conn.Subprotocol())

	readFrame := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		var out map[string]any
		require.NoError(t, msgpack.Unmarshal(data, &out))
		return out
	}

	ready := readFrame()
	assert.Equal(t, EventSessionReady, ready["event"])
	assert.Equal(t, "u1", ready["data"].(map[string]any)["uid"])

	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(map[string]any{
		"event": EventRoomCreate,
		"data":  map[string]any{"roomName": "Binary"},
	}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()))

	for range 10 {
		f := readFrame()
		if f["event"] == EventRoomJoined {
			assert.Equal(t, "Binary", f["data"].(map[string]any)["name"])
			return
		}
	}
	t.Fatal("room:joined not received")
}
