// Package presence tracks who is currently using the service, keyed by a
// client-supplied identity that survives reconnects. A participant exists
// from the first join until every reference to them is gone; rebinding the
// same identity to a new connection keeps matchmaking and session state
// intact.
package presence

import "errors"

var ErrInvalidName = errors.New("presence: name must not be empty")

// State is the participant's place in the pairing lifecycle.
type State int

const (
	// Idle means joined but not looking for a partner.
	Idle State = iota
	// Waiting means enqueued for matchmaking.
	Waiting
	// Paired means currently bound to an active session.
	Paired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Paired:
		return "paired"
	default:
		return "unknown"
	}
}

type Participant struct {
	Identity string
	ConnID   string
	Name     string
	Surname  string
	State    State
}

// Store maps identities to participants. It is not safe for concurrent use;
// the hub serializes all access.
type Store struct {
	byIdentity map[string]*Participant
	byConn     map[string]string
}

func NewStore() *Store {
	return &Store{
		byIdentity: make(map[string]*Participant),
		byConn:     make(map[string]string),
	}
}

// Register creates the participant or, if the identity is already known,
// rebinds it to the given connection. A rebind updates the display name but
// deliberately leaves State alone so an in-flight match or session survives
// the reconnect.
func (s *Store) Register(identity, connID, name, surname string) (*Participant, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	p, ok := s.byIdentity[identity]
	if !ok {
		p = &Participant{Identity: identity, State: Idle}
		s.byIdentity[identity] = p
	}

	if p.ConnID != "" && p.ConnID != connID {
		delete(s.byConn, p.ConnID)
	}
	p.ConnID = connID
	p.Name = name
	p.Surname = surname
	s.byConn[connID] = identity
	return p, nil
}

func (s *Store) SetState(identity string, state State) {
	if p, ok := s.byIdentity[identity]; ok {
		p.State = state
	}
}

func (s *Store) ByIdentity(identity string) (*Participant, bool) {
	p, ok := s.byIdentity[identity]
	return p, ok
}

func (s *Store) ByConn(connID string) (*Participant, bool) {
	identity, ok := s.byConn[connID]
	if !ok {
		return nil, false
	}
	return s.ByIdentity(identity)
}

// ConnID returns the connection currently bound to the identity, or "" if
// the participant is unknown or between connections.
func (s *Store) ConnID(identity string) string {
	if p, ok := s.byIdentity[identity]; ok {
		return p.ConnID
	}
	return ""
}

// DetachConn breaks the connection binding but keeps the participant, so a
// reconnect within a session's grace window can pick the identity back up.
func (s *Store) DetachConn(connID string) (*Participant, bool) {
	p, ok := s.ByConn(connID)
	if !ok {
		return nil, false
	}
	delete(s.byConn, connID)
	p.ConnID = ""
	return p, true
}

func (s *Store) Remove(identity string) {
	p, ok := s.byIdentity[identity]
	if !ok {
		return
	}
	if p.ConnID != "" {
		delete(s.byConn, p.ConnID)
	}
	delete(s.byIdentity, identity)
}

func (s *Store) Count() int {
	return len(s.byIdentity)
}
