// Package match pairs waiting participants into 1:1 sessions. Pairing is
// identity-keyed so a participant that reconnects mid-wait keeps their place
// in the queue, and a bounded per-identity history avoids immediately
// re-pairing people who just talked.
package match

import (
	"math/rand"
	"time"

	"github.com/samber/lo"
)

// Entry is one participant waiting for a partner.
type Entry struct {
	Identity   string
	ConnID     string
	Name       string
	EnqueuedAt time.Time
}

// Pairing is the result of a successful match.
type Pairing struct {
	A, B Entry
}

type Matchmaker struct {
	clock func() time.Time

	// waiting and active are mutually exclusive per identity: an identity
	// is in at most one of them at a time.
	waiting map[string]Entry
	active  map[string]string

	// recent holds, per identity, the partners matched most recently,
	// oldest first. Bounded by maxRecent with symmetric eviction.
	recent    map[string][]string
	recentSet map[string]map[string]bool
	maxRecent int
}

func New(maxRecent int, clock func() time.Time) *Matchmaker {
	if clock == nil {
		clock = time.Now
	}
	return &Matchmaker{
		clock:     clock,
		waiting:   make(map[string]Entry),
		active:    make(map[string]string),
		recent:    make(map[string][]string),
		recentSet: make(map[string]map[string]bool),
		maxRecent: maxRecent,
	}
}

// Enqueue puts the identity into the waiting queue. Returns false if the
// identity is already in an active match; re-enqueueing while already
// waiting just refreshes the connection binding and display name.
func (m *Matchmaker) Enqueue(identity, connID, name string) bool {
	if _, matched := m.active[identity]; matched {
		return false
	}
	if prev, ok := m.waiting[identity]; ok {
		prev.ConnID = connID
		prev.Name = name
		m.waiting[identity] = prev
		return true
	}
	m.waiting[identity] = Entry{
		Identity:   identity,
		ConnID:     connID,
		Name:       name,
		EnqueuedAt: m.clock(),
	}
	return true
}

func (m *Matchmaker) Dequeue(identity string) {
	delete(m.waiting, identity)
}

func (m *Matchmaker) IsWaiting(identity string) bool {
	_, ok := m.waiting[identity]
	return ok
}

func (m *Matchmaker) IsMatched(identity string) bool {
	_, ok := m.active[identity]
	return ok
}

// Partner returns the identity's current match partner, if any.
func (m *Matchmaker) Partner(identity string) (string, bool) {
	p, ok := m.active[identity]
	return p, ok
}

func (m *Matchmaker) WaitingCount() int {
	return len(m.waiting)
}

func (m *Matchmaker) ActiveMatchCount() int {
	return len(m.active) / 2
}

// FindMatch tries to pair the identity with another waiting participant.
// Recently-matched partners are excluded; if that exclusion empties the
// candidate pool while other people are still waiting, the identity's
// history is reset and candidates recomputed, preferring liveness of the
// queue over strict no-repeat.
//
// On success both identities leave the queue, the match links are recorded
// in both directions, and each appears in the other's history before the
// pairing is returned.
func (m *Matchmaker) FindMatch(identity string) (Pairing, bool) {
	me, ok := m.waiting[identity]
	if !ok {
		return Pairing{}, false
	}

	candidates := m.candidatesFor(identity)
	if len(candidates) == 0 && len(m.waiting) > 1 {
		m.resetHistory(identity)
		candidates = m.candidatesFor(identity)
	}
	if len(candidates) == 0 {
		return Pairing{}, false
	}

	partner := candidates[rand.Intn(len(candidates))]

	delete(m.waiting, identity)
	delete(m.waiting, partner.Identity)
	m.active[identity] = partner.Identity
	m.active[partner.Identity] = identity
	m.recordRecent(identity, partner.Identity)
	m.recordRecent(partner.Identity, identity)

	return Pairing{A: me, B: partner}, true
}

// MatchAll sweeps the queue and pairs everyone it can, in random order.
// Dead entries, as judged by alive, are purged first so nobody gets paired
// with a connection that already went away.
func (m *Matchmaker) MatchAll(alive func(connID string) bool) []Pairing {
	if alive != nil {
		for id, entry := range m.waiting {
			if !alive(entry.ConnID) {
				delete(m.waiting, id)
			}
		}
	}

	ids := lo.Keys(m.waiting)
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	var pairings []Pairing
	for _, id := range ids {
		if !m.IsWaiting(id) {
			continue
		}
		if p, ok := m.FindMatch(id); ok {
			pairings = append(pairings, p)
		}
	}
	return pairings
}

// EndMatch dissolves the identity's active match and returns the former
// partner. Neither side is re-enqueued; that is the caller's decision.
func (m *Matchmaker) EndMatch(identity string) (string, bool) {
	partner, ok := m.active[identity]
	if !ok {
		return "", false
	}
	delete(m.active, identity)
	delete(m.active, partner)
	return partner, true
}

// RemoveParticipant forgets the identity entirely: queue slot, match link
// and history, including the traces it left in other identities' histories.
func (m *Matchmaker) RemoveParticipant(identity string) {
	delete(m.waiting, identity)
	if partner, ok := m.active[identity]; ok {
		delete(m.active, identity)
		delete(m.active, partner)
	}
	for _, other := range m.recent[identity] {
		m.dropRecent(other, identity)
	}
	delete(m.recent, identity)
	delete(m.recentSet, identity)
}

func (m *Matchmaker) candidatesFor(identity string) []Entry {
	seen := m.recentSet[identity]
	return lo.Filter(lo.Values(m.waiting), func(e Entry, _ int) bool {
		return e.Identity != identity && !seen[e.Identity]
	})
}

func (m *Matchmaker) recordRecent(identity, partner string) {
	set := m.recentSet[identity]
	if set == nil {
		set = make(map[string]bool)
		m.recentSet[identity] = set
	}
	if set[partner] {
		return
	}
	set[partner] = true
	m.recent[identity] = append(m.recent[identity], partner)

	if len(m.recent[identity]) > m.maxRecent {
		oldest := m.recent[identity][0]
		m.dropRecent(identity, oldest)
		// Eviction is symmetric so neither side blocks the other.
		m.dropRecent(oldest, identity)
	}
}

func (m *Matchmaker) dropRecent(identity, partner string) {
	set, ok := m.recentSet[identity]
	if !ok || !set[partner] {
		return
	}
	delete(set, partner)
	m.recent[identity] = lo.Without(m.recent[identity], partner)
}

// resetHistory clears the identity's own exclusions. The traces it left in
// other histories stay, so the reset only widens this identity's pool.
func (m *Matchmaker) resetHistory(identity string) {
	for _, other := range m.recent[identity] {
		if set, ok := m.recentSet[identity]; ok {
			delete(set, other)
		}
	}
	m.recent[identity] = nil
}

// RecentPartners returns the identity's history, oldest first. Test helper
// and debug surface.
func (m *Matchmaker) RecentPartners(identity string) []string {
	return append([]string(nil), m.recent[identity]...)
}
