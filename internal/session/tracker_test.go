package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulbomber-arena/internal/apperr"
	"soulbomber-arena/internal/identity"
)

func TestTracker_CountsConnectionsPerUser(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	t.Cleanup(tr.Stop)
	ada := identity.Identity{UID: "u1", Name: "Ada"}

	assert.Equal(t, 1, tr.Register(ada, "c1"))
	assert.Equal(t, 2, tr.Register(ada, "c2"))
	assert.Equal(t, 1, tr.Register(identity.Identity{UID: "u2"}, "c3"))

	st := tr.Stats()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 3, st.Connections)

	assert.Equal(t, 1, tr.Unregister("u1", "c1"))
	assert.Equal(t, 0, tr.Unregister("u1", "c2"))
	assert.Equal(t, 0, tr.Unregister("u1", "c2"), "unknown users have nothing left")

	_, ok := tr.Session("u1")
	assert.False(t, ok)
}

func TestTracker_MarksIdle(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	t.Cleanup(tr.Stop)
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }

	tr.Register(identity.Identity{UID: "u1"}, "c1")
	now = now.Add(3 * time.Minute)
	tr.markIdle()

	s, ok := tr.Session("u1")
	require.True(t, ok)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 1, tr.Stats().Idle)

	tr.Heartbeat("u1")
	s, _ = tr.Session("u1")
	assert.Equal(t, StatusActive, s.Status)
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "Friday Night", false},
		{"dashes and underscores", "team_a-vs-b", false},
		{"blank", "   ", true},
		{"too long", "a123456789a123456789a123456789a123456789a123456789x", true},
		{"markup", "<b>room</b>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.InvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("0b7f4a3c-6d1e-4f5a-9b2c-8e7d6c5b4a39"))
	assert.ErrorIs(t, ValidateRoomID(""), apperr.InvalidInput)
	assert.ErrorIs(t, ValidateRoomID("room-1"), apperr.InvalidInput)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeString("  hello\x00 world\x07 "))
	assert.Equal(t, "caf", SanitizeString("café"))
}
