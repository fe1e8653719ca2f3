package hub

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pairwire/pairwire/internal/match"
	"github.com/pairwire/pairwire/internal/metrics"
	"github.com/pairwire/pairwire/internal/presence"
	"github.com/pairwire/pairwire/internal/registry"
	"github.com/pairwire/pairwire/internal/relay"
	"github.com/pairwire/pairwire/internal/room"
)

// Connect registers a transport connection with the hub.
func (h *Hub) Connect(c registry.Conn) {
	h.Do(func() {
		h.conns.Add(c)
		h.metrics.Inc(metrics.ConnOpened)
		h.logger.Debug("connection opened", slog.String("conn_id", c.ID()))
	})
}

// Disconnect tears down everything the connection was holding. Safe to call
// for connections the hub never saw.
func (h *Hub) Disconnect(c registry.Conn) {
	h.Do(func() { h.handleDisconnect(c.ID()) })
}

// HandleFrame parses one wire frame and schedules its handler. Parsing
// happens on the caller's goroutine; all state access happens on the loop.
func (h *Hub) HandleFrame(c registry.Conn, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		h.Do(func() { h.invalid(c, fmt.Sprintf("malformed event: %v", err)) })
		return
	}
	h.Do(func() { h.handleEvent(c, env) })
}

type validator interface {
	validate() error
}

func payload[T validator](env envelope) (T, error) {
	var p T
	if err := decodeStrictJSON(env.Data, &p); err != nil {
		return p, err
	}
	return p, p.validate()
}

func (h *Hub) handleEvent(c registry.Conn, env envelope) {
	// A fault inside one handler is that sender's problem, not the
	// process's. State mutations commit before notifications go out, so
	// recovery here cannot observe a half-updated pairing.
	defer func() {
		if r := recover(); r != nil {
			h.metrics.Inc(metrics.HandlerPanics)
			h.logger.Error("event handler panicked",
				slog.String("event", env.Event),
				slog.String("conn_id", c.ID()),
				slog.Any("panic", r),
			)
			_ = c.Send(eventError, map[string]any{"message": "internal error"})
		}
	}()

	switch env.Event {
	case eventJoin:
		p, err := payload[joinPayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleJoin(c, p)
	case eventStartMatching:
		h.handleStartMatching(c)
	case eventNextPartner:
		h.handleNextPartner(c)
	case eventJoinRoom:
		p, err := payload[joinRoomPayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleJoinRoom(c, p)
	case eventOffer, eventAnswer, eventICECandidate:
		p, err := payload[signalPayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleSignal(c, env.Event, p)
	case eventSendMessage:
		p, err := payload[messagePayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleMessage(c, p)
	case eventVideoFrame:
		p, err := payload[videoFramePayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleFrameRelay(c, eventVideoFrame, p.RoomID, p.Frame)
	case eventAudioFrame:
		p, err := payload[audioFramePayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleFrameRelay(c, eventAudioFrame, p.RoomID, p.Audio)
	case eventEndCall:
		p, err := payload[endCallPayload](env)
		if err != nil {
			h.invalid(c, err.Error())
			return
		}
		h.handleEndCall(c, p)
	default:
		h.invalid(c, "unknown event "+env.Event)
	}
}

func (h *Hub) handleJoin(c registry.Conn, p joinPayload) {
	identity := p.Identity
	if identity == "" {
		// Clients without a stable identity fall back to the connection
		// id; they lose reconnect continuity but nothing else.
		identity = c.ID()
	}

	part, err := h.presence.Register(identity, c.ID(), p.Name, p.Surname)
	if err != nil {
		h.invalid(c, "name must not be empty")
		return
	}

	// A mid-wait reconnect refreshes the queue entry's connection.
	if h.matches.IsWaiting(identity) {
		h.matches.Enqueue(identity, c.ID(), part.Name)
	}

	h.logger.Info("participant joined",
		slog.String("identity", identity),
		slog.String("name", part.Name),
	)
	_ = c.Send(eventJoined, map[string]any{"identity": part.Identity})
}

func (h *Hub) handleStartMatching(c registry.Conn) {
	part, ok := h.presence.ByConn(c.ID())
	if !ok {
		h.invalid(c, "join before matching")
		return
	}
	if h.matches.IsMatched(part.Identity) {
		h.invalid(c, "already in a session")
		return
	}

	h.matches.Enqueue(part.Identity, c.ID(), part.Name)
	h.presence.SetState(part.Identity, presence.Waiting)
	_ = c.Send(eventMatchingStarted, map[string]any{
		"waitingCount": h.matches.WaitingCount(),
	})
	h.tryMatch(part.Identity)
}

func (h *Hub) handleNextPartner(c registry.Conn) {
	part, ok := h.presence.ByConn(c.ID())
	if !ok {
		h.invalid(c, "join before swiping")
		return
	}
	identity := part.Identity

	if partnerIdentity, matched := h.matches.EndMatch(identity); matched {
		if s, ok := h.sessionFor(c.ID(), partnerIdentity); ok {
			h.rooms.Destroy(s.ID())
		}
		if pc := h.presence.ConnID(partnerIdentity); h.conns.IsAlive(pc) {
			h.conns.Send(pc, eventCallEnded, map[string]any{"reason": "swipe"})
			h.conns.Send(pc, eventPartnerLeft, nil)
			h.requeue(partnerIdentity)
		} else {
			h.cleanupIfGone(partnerIdentity)
		}
	}

	h.matches.Enqueue(identity, c.ID(), part.Name)
	h.presence.SetState(identity, presence.Waiting)
	_ = c.Send(eventNextPartnerStarted, map[string]any{
		"waitingCount": h.matches.WaitingCount(),
	})
	h.tryMatch(identity)
}

func (h *Hub) handleJoinRoom(c registry.Conn, p joinRoomPayload) {
	s, err := h.rooms.BindSlot(p.RoomID, c.ID(), p.Name)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrSessionNotFound):
			h.invalid(c, "unknown room")
		case errors.Is(err, room.ErrSessionFull):
			h.invalid(c, "room is full")
		default:
			h.invalid(c, "cannot join room")
		}
		return
	}

	sl, _ := s.SlotFor(c.ID())
	identity := sl.Identity
	if identity == "" {
		identity = c.ID()
	}
	if _, err := h.presence.Register(identity, c.ID(), p.Name, p.Surname); err != nil {
		h.invalid(c, "name must not be empty")
		return
	}
	h.presence.SetState(identity, presence.Paired)

	slots := s.Slots()
	if slots[0].ConnID != "" && slots[1].ConnID != "" {
		h.rooms.MarkJoined(s.ID())
	}

	_ = c.Send(eventRoomJoined, map[string]any{
		"roomId":      s.ID(),
		"isInitiator": s.Initiator().Identity == identity,
		"messages":    h.rooms.Transcript(s.ID()),
	})
}

func (h *Hub) handleSignal(c registry.Conn, event string, p signalPayload) {
	if err := h.relay.Signal(p.RoomID, c.ID(), event, p.Payload); err != nil {
		h.invalid(c, relayErrMessage(err))
	}
}

func (h *Hub) handleMessage(c registry.Conn, p messagePayload) {
	if _, err := h.relay.Chat(p.RoomID, c.ID(), p.Text, p.Emoji); err != nil {
		h.invalid(c, relayErrMessage(err))
	}
}

func (h *Hub) handleFrameRelay(c registry.Conn, event, roomID string, data []byte) {
	if err := h.relay.MediaFrame(roomID, c.ID(), event, data); err != nil {
		h.invalid(c, relayErrMessage(err))
	}
}

func (h *Hub) handleEndCall(c registry.Conn, p endCallPayload) {
	s, ok := h.rooms.Get(p.RoomID)
	if !ok {
		h.invalid(c, "unknown room")
		return
	}
	me, ok := s.SlotFor(c.ID())
	if !ok {
		h.invalid(c, "not in this room")
		return
	}
	partner, _ := s.Partner(c.ID())

	h.rooms.Destroy(s.ID())
	h.matches.EndMatch(me.Identity)

	_ = c.Send(eventCallEnded, map[string]any{"reason": "end-call"})
	if h.conns.IsAlive(partner.ConnID) {
		h.conns.Send(partner.ConnID, eventCallEnded, map[string]any{"reason": "end-call"})
	}

	// Both sides go straight back to the pool. A partner that already
	// vanished gets forgotten instead.
	h.requeue(me.Identity)
	h.requeue(partner.Identity)
	h.cleanupIfGone(partner.Identity)
}

func (h *Hub) handleDisconnect(connID string) {
	h.conns.Remove(connID)
	h.metrics.Inc(metrics.ConnClosed)

	if s, ok := h.rooms.UnbindSlot(connID); ok {
		// The session now rides its grace window. Whoever is still
		// seated hears about the drop right away.
		for _, sl := range s.Slots() {
			if sl.ConnID != "" && h.conns.IsAlive(sl.ConnID) {
				h.conns.Send(sl.ConnID, eventPartnerDisconnected, nil)
			}
		}
	}

	part, ok := h.presence.DetachConn(connID)
	if !ok {
		return
	}
	h.matches.Dequeue(part.Identity)
	if part.State == presence.Waiting {
		h.presence.SetState(part.Identity, presence.Idle)
	}
	h.cleanupIfGone(part.Identity)

	h.logger.Debug("connection closed",
		slog.String("conn_id", connID),
		slog.String("identity", part.Identity),
	)
}

// sweep runs on every tick: purge dead queue entries and pair whoever can
// be paired.
func (h *Hub) sweep() {
	for _, pairing := range h.matches.MatchAll(h.conns.IsAlive) {
		h.createSession(pairing)
	}
}

func (h *Hub) tryMatch(identity string) {
	if pairing, ok := h.matches.FindMatch(identity); ok {
		h.createSession(pairing)
	}
}

func (h *Hub) createSession(pairing match.Pairing) {
	slotA := h.slotFor(pairing.A)
	slotB := h.slotFor(pairing.B)
	s := h.rooms.Create(slotA, slotB)

	h.metrics.Inc(metrics.MatchMade)
	h.presence.SetState(slotA.Identity, presence.Paired)
	h.presence.SetState(slotB.Identity, presence.Paired)

	h.notifyMatched(s, slotA, slotB, true)
	h.notifyMatched(s, slotB, slotA, false)

	h.logger.Info("match made",
		slog.String("session_id", s.ID()),
		slog.String("a", slotA.Identity),
		slog.String("b", slotB.Identity),
	)
}

func (h *Hub) slotFor(e match.Entry) room.Slot {
	name := e.Name
	if part, ok := h.presence.ByIdentity(e.Identity); ok {
		name = part.Name
	}
	return room.Slot{Identity: e.Identity, ConnID: e.ConnID, Name: name}
}

func (h *Hub) notifyMatched(s *room.Session, to, partner room.Slot, initiator bool) {
	surname := ""
	if part, ok := h.presence.ByIdentity(partner.Identity); ok {
		surname = part.Surname
	}
	h.conns.Send(to.ConnID, eventMatched, map[string]any{
		"roomId": s.ID(),
		"partner": map[string]any{
			"name":    partner.Name,
			"surname": surname,
		},
		"isInitiator": initiator,
	})
}

// requeue puts a participant back into the waiting pool if they are still
// connected.
func (h *Hub) requeue(identity string) {
	part, ok := h.presence.ByIdentity(identity)
	if !ok || !h.conns.IsAlive(part.ConnID) {
		return
	}
	if !h.matches.Enqueue(identity, part.ConnID, part.Name) {
		return
	}
	h.presence.SetState(identity, presence.Waiting)
	h.conns.Send(part.ConnID, eventMatchingStarted, map[string]any{
		"waitingCount": h.matches.WaitingCount(),
	})
}

// cleanupIfGone forgets a participant entirely once nothing references
// them: no live connection and no active match keeping a session alive for
// a grace-window reconnect.
func (h *Hub) cleanupIfGone(identity string) {
	part, ok := h.presence.ByIdentity(identity)
	if !ok {
		return
	}
	if part.ConnID != "" && h.conns.IsAlive(part.ConnID) {
		return
	}
	if _, matched := h.matches.Partner(identity); matched {
		return
	}
	h.matches.RemoveParticipant(identity)
	h.presence.Remove(identity)
}

// sessionFor resolves the session backing a match from either side's
// connection, tolerating a partner that is mid-reconnect.
func (h *Hub) sessionFor(connID, partnerIdentity string) (*room.Session, bool) {
	if s, ok := h.rooms.SessionByConn(connID); ok {
		return s, true
	}
	if pc := h.presence.ConnID(partnerIdentity); pc != "" {
		if s, ok := h.rooms.SessionByConn(pc); ok {
			return s, true
		}
	}
	return nil, false
}

func (h *Hub) onSessionExpired(s *room.Session) {
	slots := s.Slots()
	h.matches.EndMatch(slots[0].Identity)
	for _, sl := range slots {
		if part, ok := h.presence.ByIdentity(sl.Identity); ok && h.conns.IsAlive(part.ConnID) {
			h.presence.SetState(sl.Identity, presence.Idle)
			continue
		}
		h.cleanupIfGone(sl.Identity)
	}
}

func (h *Hub) invalid(c registry.Conn, msg string) {
	h.metrics.Inc(metrics.InvalidInput)
	_ = c.Send(eventError, map[string]any{"message": msg})
}

func relayErrMessage(err error) string {
	switch {
	case errors.Is(err, relay.ErrInvalidSession):
		return "unknown room"
	case errors.Is(err, relay.ErrNotInSession):
		return "not in this room"
	default:
		return "relay failure"
	}
}
