// Package room manages the lifecycle of paired sessions: two slots, bound
// and rebound to connections as participants drop and reconnect, with grace
// windows before an abandoned session is reclaimed.
package room

import "time"

// Slot is one of a session's two seats. Identity and Name are fixed at
// creation; ConnID changes as the participant disconnects and rejoins.
type Slot struct {
	Identity string
	ConnID   string
	Name     string
}

// ChatRecord is one chat message kept in the session transcript.
type ChatRecord struct {
	ID         string    `json:"id"`
	SenderConn string    `json:"-"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text,omitempty"`
	Emoji      string    `json:"emoji,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Session struct {
	id        string
	createdAt time.Time

	slots [2]Slot

	// joined flips once both sides have explicitly entered the room, and
	// widens the grace window on later disconnects.
	joined bool

	transcript []ChatRecord

	closed      bool
	cancelGrace func()
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Joined() bool         { return s.joined }

// Initiator is the side expected to open WebRTC negotiation.
func (s *Session) Initiator() Slot { return s.slots[0] }

func (s *Session) Member(connID string) bool {
	_, ok := s.SlotFor(connID)
	return ok
}

// SlotFor returns the slot currently bound to the connection.
func (s *Session) SlotFor(connID string) (Slot, bool) {
	if connID == "" {
		return Slot{}, false
	}
	for _, sl := range s.slots {
		if sl.ConnID == connID {
			return sl, true
		}
	}
	return Slot{}, false
}

// Partner returns the other side's slot relative to the given connection.
func (s *Session) Partner(connID string) (Slot, bool) {
	for i, sl := range s.slots {
		if sl.ConnID == connID && connID != "" {
			return s.slots[1-i], true
		}
	}
	return Slot{}, false
}

// Slots returns both seats, initiator first.
func (s *Session) Slots() [2]Slot { return s.slots }
