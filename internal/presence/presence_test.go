package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_NewParticipant(t *testing.T) {
	s := NewStore()

	p, err := s.Register("id-ali", "conn-1", "Ali", "Kaya")
	require.NoError(t, err)
	assert.Equal(t, "id-ali", p.Identity)
	assert.Equal(t, "conn-1", p.ConnID)
	assert.Equal(t, Idle, p.State)
	assert.Equal(t, 1, s.Count())
}

func TestRegister_RejectsEmptyName(t *testing.T) {
	s := NewStore()
	_, err := s.Register("id-ali", "conn-1", "", "")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, 0, s.Count())
}

func TestRegister_RebindKeepsState(t *testing.T) {
	s := NewStore()
	_, err := s.Register("id-ali", "conn-1", "Ali", "")
	require.NoError(t, err)
	s.SetState("id-ali", Paired)

	p, err := s.Register("id-ali", "conn-2", "Ali", "Kaya")
	require.NoError(t, err)

	assert.Equal(t, "conn-2", p.ConnID, "rebind must switch the connection")
	assert.Equal(t, Paired, p.State, "rebind must not reset state")
	assert.Equal(t, "Kaya", p.Surname, "rebind refreshes the display name")

	_, ok := s.ByConn("conn-1")
	assert.False(t, ok, "old connection must be unbound")
	got, ok := s.ByConn("conn-2")
	require.True(t, ok)
	assert.Equal(t, "id-ali", got.Identity)
}

func TestDetachConn(t *testing.T) {
	s := NewStore()
	_, err := s.Register("id-ali", "conn-1", "Ali", "")
	require.NoError(t, err)

	p, ok := s.DetachConn("conn-1")
	require.True(t, ok)
	assert.Equal(t, "id-ali", p.Identity)
	assert.Empty(t, p.ConnID)
	assert.Empty(t, s.ConnID("id-ali"))

	// Participant survives the detach for grace-window reconnects.
	_, ok = s.ByIdentity("id-ali")
	assert.True(t, ok)

	_, ok = s.DetachConn("conn-unknown")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	s := NewStore()
	_, err := s.Register("id-ali", "conn-1", "Ali", "")
	require.NoError(t, err)

	s.Remove("id-ali")

	assert.Equal(t, 0, s.Count())
	_, ok := s.ByConn("conn-1")
	assert.False(t, ok, "removal must clear the connection index too")

	// Removing an unknown identity is a no-op.
	s.Remove("id-ghost")
}
