package match

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestEnqueue(t *testing.T) {
	m := New(50, fixedClock)

	require.True(t, m.Enqueue("ali", "conn-a", "Ali"))
	assert.True(t, m.IsWaiting("ali"))
	assert.Equal(t, 1, m.WaitingCount())

	// Re-enqueue while waiting refreshes the binding, no duplicate entry.
	require.True(t, m.Enqueue("ali", "conn-a2", "Ali"))
	assert.Equal(t, 1, m.WaitingCount())
}

func TestEnqueue_RefusedWhileMatched(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")
	_, ok := m.FindMatch("ali")
	require.True(t, ok)

	assert.False(t, m.Enqueue("ali", "conn-a", "Ali"))
	assert.False(t, m.IsWaiting("ali"))
}

func TestFindMatch_PairsAndLinksBothSides(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")

	p, ok := m.FindMatch("ali")
	require.True(t, ok)
	assert.Equal(t, "ali", p.A.Identity)
	assert.Equal(t, "veli", p.B.Identity)

	// Both leave the queue and the link is an involution.
	assert.Equal(t, 0, m.WaitingCount())
	partner, ok := m.Partner("ali")
	require.True(t, ok)
	assert.Equal(t, "veli", partner)
	partner, ok = m.Partner("veli")
	require.True(t, ok)
	assert.Equal(t, "ali", partner)
	assert.Equal(t, 1, m.ActiveMatchCount())

	// And each records the other as recent.
	assert.Equal(t, []string{"veli"}, m.RecentPartners("ali"))
	assert.Equal(t, []string{"ali"}, m.RecentPartners("veli"))
}

func TestFindMatch_AloneInQueue(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")

	_, ok := m.FindMatch("ali")
	assert.False(t, ok)
	assert.True(t, m.IsWaiting("ali"), "failed match must not drop the entry")
}

func TestFindMatch_ExcludesRecentPartners(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")
	m.Enqueue("zeynep", "conn-z", "Zeynep")

	_, ok := m.FindMatch("ali")
	require.True(t, ok)
	partner, _ := m.Partner("ali")

	// Dissolve and put everyone back; ali must get the other person.
	m.EndMatch("ali")
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue(partner, "conn-p", "P")

	p, ok := m.FindMatch("ali")
	require.True(t, ok)
	assert.NotEqual(t, partner, p.B.Identity, "recent partner must be excluded")
}

func TestFindMatch_HistoryResetKeepsQueueAlive(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")

	// Ali and Veli meet, part ways, and are once again the only two around.
	_, ok := m.FindMatch("ali")
	require.True(t, ok)
	m.EndMatch("ali")
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")

	p, ok := m.FindMatch("ali")
	require.True(t, ok, "with no fresh partners available the history must reset")
	assert.Equal(t, "veli", p.B.Identity)
}

func TestRecentHistory_BoundWithSymmetricEviction(t *testing.T) {
	m := New(2, fixedClock)

	meet := func(a, b string) {
		m.Enqueue(a, "conn-"+a, a)
		m.Enqueue(b, "conn-"+b, b)
		p, ok := m.FindMatch(a)
		require.True(t, ok)
		require.Equal(t, b, p.B.Identity)
		m.EndMatch(a)
	}

	meet("ali", "p1")
	meet("ali", "p2")
	meet("ali", "p3")

	assert.Equal(t, []string{"p2", "p3"}, m.RecentPartners("ali"), "oldest entry evicted")
	assert.Empty(t, m.RecentPartners("p1"), "eviction must clear the other side too")
	assert.Equal(t, []string{"ali"}, m.RecentPartners("p2"))
}

func TestEndMatch(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")
	_, ok := m.FindMatch("ali")
	require.True(t, ok)

	partner, ok := m.EndMatch("ali")
	require.True(t, ok)
	assert.Equal(t, "veli", partner)
	assert.False(t, m.IsMatched("ali"))
	assert.False(t, m.IsMatched("veli"))

	_, ok = m.EndMatch("ali")
	assert.False(t, ok, "ending twice is a no-op")
}

func TestRemoveParticipant(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("ali", "conn-a", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")
	_, ok := m.FindMatch("ali")
	require.True(t, ok)

	m.RemoveParticipant("ali")

	assert.False(t, m.IsMatched("veli"), "partner's link must be dissolved")
	assert.Empty(t, m.RecentPartners("veli"), "history traces must be cleared symmetrically")

	// Veli is now free to meet Ali's identity again if it returns.
	m.Enqueue("ali", "conn-a2", "Ali")
	m.Enqueue("veli", "conn-v", "Veli")
	_, ok = m.FindMatch("veli")
	assert.True(t, ok)
}

func TestMatchAll(t *testing.T) {
	m := New(50, fixedClock)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		m.Enqueue(id, "conn-"+id, id)
	}

	dead := map[string]bool{"conn-u4": true}
	pairings := m.MatchAll(func(connID string) bool { return !dead[connID] })

	assert.Len(t, pairings, 2)
	assert.Equal(t, 0, m.WaitingCount(), "dead entry dropped, four live ones paired")
	assert.Equal(t, 2, m.ActiveMatchCount())
	assert.False(t, m.IsWaiting("u4"))
	assert.False(t, m.IsMatched("u4"))
}

func TestMatchAll_OddCountLeavesOneWaiting(t *testing.T) {
	m := New(50, fixedClock)
	m.Enqueue("a", "conn-a", "A")
	m.Enqueue("b", "conn-b", "B")
	m.Enqueue("c", "conn-c", "C")

	pairings := m.MatchAll(nil)

	assert.Len(t, pairings, 1)
	assert.Equal(t, 1, m.WaitingCount())
}
