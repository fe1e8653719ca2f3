package room

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairwire/pairwire/internal/metrics"
)

// Options wires the manager to its environment. Alive and Schedule come
// from the hub so all timer callbacks run on the hub's dispatch loop.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time

	// GraceUnjoined applies while a session waits for its first joins;
	// GraceJoined applies after both sides have entered the room.
	GraceUnjoined time.Duration
	GraceJoined   time.Duration

	// Alive reports whether a connection id is still connected.
	Alive func(connID string) bool

	// Schedule runs fn after d and returns a cancel func. Callbacks must
	// be delivered on the same goroutine that calls into the manager.
	Schedule func(d time.Duration, fn func()) (cancel func())

	// OnExpired fires when a grace window elapses with nobody connected,
	// after the session has been destroyed.
	OnExpired func(s *Session)
}

// Manager owns every active session. Not safe for concurrent use; the hub
// serializes all access.
type Manager struct {
	opts Options

	sessions map[string]*Session
	byConn   map[string]string
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Schedule == nil {
		opts.Schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// Create opens a session for a fresh pairing. The first slot is the
// initiator. The unjoined grace window starts immediately, so a session
// nobody ever joins gets reclaimed.
func (m *Manager) Create(a, b Slot) *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: m.opts.Clock(),
		slots:     [2]Slot{a, b},
	}
	m.sessions[s.id] = s
	m.indexConn(a.ConnID, s.id)
	m.indexConn(b.ConnID, s.id)
	m.scheduleGrace(s)

	m.opts.Metrics.Inc(metrics.SessionCreated)
	m.opts.Logger.Debug("session created",
		slog.String("session_id", s.id),
		slog.String("initiator", a.Name),
	)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) SessionByConn(connID string) (*Session, bool) {
	id, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	return m.Get(id)
}

func (m *Manager) Count() int {
	return len(m.sessions)
}

// BindSlot seats the connection in the session, resolving which slot it
// takes in layers: a dead or empty slot recorded under the same name, then
// any empty slot, then any slot whose connection has gone away, and as a
// last resort any slot with a matching name even if its connection still
// looks alive (the old transport may simply not have torn down yet). If the
// connection is already seated this only refreshes the binding.
func (m *Manager) BindSlot(sessionID, connID, name string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.Member(connID) {
		return s, nil
	}

	idx := m.resolveSlot(s, name)
	if idx < 0 {
		return nil, ErrSessionFull
	}

	if old := s.slots[idx].ConnID; old != "" {
		delete(m.byConn, old)
		m.opts.Metrics.Inc(metrics.SessionRebound)
	}
	s.slots[idx].ConnID = connID
	if name != "" {
		s.slots[idx].Name = name
	}
	m.indexConn(connID, s.id)

	// A live connection cancels any pending reclaim.
	if s.cancelGrace != nil {
		s.cancelGrace()
		s.cancelGrace = nil
	}

	m.opts.Logger.Debug("slot bound",
		slog.String("session_id", s.id),
		slog.String("conn_id", connID),
		slog.Int("slot", idx),
	)
	return s, nil
}

func (m *Manager) resolveSlot(s *Session, name string) int {
	alive := func(connID string) bool {
		return connID != "" && m.opts.Alive != nil && m.opts.Alive(connID)
	}

	if name != "" {
		for i, sl := range s.slots {
			if sl.Name == name && !alive(sl.ConnID) {
				return i
			}
		}
	}
	for i, sl := range s.slots {
		if sl.ConnID == "" {
			return i
		}
	}
	for i, sl := range s.slots {
		if !alive(sl.ConnID) {
			return i
		}
	}
	if name != "" {
		for i, sl := range s.slots {
			if sl.Name == name {
				return i
			}
		}
	}
	return -1
}

// MarkJoined records that both sides have entered the room, widening the
// grace window for later drops.
func (m *Manager) MarkJoined(sessionID string) {
	if s, ok := m.sessions[sessionID]; ok {
		s.joined = true
	}
}

// UnbindSlot releases the connection's seat and starts a grace window. The
// session survives until the window elapses with neither side connected;
// the check happens at fire time, so a reconnect anywhere in between keeps
// it alive.
func (m *Manager) UnbindSlot(connID string) (*Session, bool) {
	s, ok := m.SessionByConn(connID)
	if !ok {
		return nil, false
	}

	delete(m.byConn, connID)
	for i := range s.slots {
		if s.slots[i].ConnID == connID {
			s.slots[i].ConnID = ""
		}
	}
	m.scheduleGrace(s)
	return s, true
}

func (m *Manager) scheduleGrace(s *Session) {
	if s.cancelGrace != nil {
		s.cancelGrace()
	}
	grace := m.opts.GraceUnjoined
	if s.joined {
		grace = m.opts.GraceJoined
	}
	id := s.id
	s.cancelGrace = m.opts.Schedule(grace, func() {
		m.expireIfAbandoned(id)
	})
}

func (m *Manager) expireIfAbandoned(sessionID string) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for _, sl := range s.slots {
		if sl.ConnID != "" && m.opts.Alive != nil && m.opts.Alive(sl.ConnID) {
			return
		}
	}

	m.opts.Logger.Info("session expired",
		slog.String("session_id", sessionID),
		slog.Bool("joined", s.joined),
	)
	m.Destroy(sessionID)
	if m.opts.OnExpired != nil {
		m.opts.OnExpired(s)
	}
}

// Destroy tears the session down. Idempotent.
func (m *Manager) Destroy(sessionID string) {
	s, ok := m.sessions[sessionID]
	if !ok || s.closed {
		return
	}
	s.closed = true
	if s.cancelGrace != nil {
		s.cancelGrace()
		s.cancelGrace = nil
	}
	for _, sl := range s.slots {
		if sl.ConnID != "" {
			delete(m.byConn, sl.ConnID)
		}
	}
	delete(m.sessions, sessionID)

	m.opts.Metrics.Inc(metrics.SessionDestroyed)
	m.opts.Logger.Debug("session destroyed", slog.String("session_id", sessionID))
}

// PartnerConn returns the live connection of the other side, or "" when the
// partner is between connections.
func (m *Manager) PartnerConn(sessionID, connID string) string {
	s, ok := m.sessions[sessionID]
	if !ok {
		return ""
	}
	partner, ok := s.Partner(connID)
	if !ok || partner.ConnID == "" {
		return ""
	}
	if m.opts.Alive != nil && !m.opts.Alive(partner.ConnID) {
		return ""
	}
	return partner.ConnID
}

func (m *Manager) AppendChat(sessionID string, rec ChatRecord) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.transcript = append(s.transcript, rec)
	return nil
}

func (m *Manager) Transcript(sessionID string) []ChatRecord {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]ChatRecord(nil), s.transcript...)
}

// Shutdown cancels all pending grace timers. Sessions are left in place;
// the process is going away anyway.
func (m *Manager) Shutdown() {
	for _, s := range m.sessions {
		if s.cancelGrace != nil {
			s.cancelGrace()
			s.cancelGrace = nil
		}
	}
}

func (m *Manager) indexConn(connID, sessionID string) {
	if connID != "" {
		m.byConn[connID] = sessionID
	}
}
