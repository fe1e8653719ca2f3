// Package relay forwards in-session traffic between the two sides of a
// session. Payloads are opaque; the relay only enforces that the sender is
// seated in the session it names, and that media frames stay under the
// configured size caps.
//
// A missing or dead partner is never an error here. Signaling and chat in a
// reconnection-tolerant session routinely race against a partner that is
// between connections, so those sends drop silently and are accounted for
// in metrics instead.
package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairwire/pairwire/internal/metrics"
	"github.com/pairwire/pairwire/internal/registry"
	"github.com/pairwire/pairwire/internal/room"
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time

	MaxVideoFrameBytes int
	MaxAudioFrameBytes int
}

type Relay struct {
	opts  Options
	rooms *room.Manager
	conns *registry.Registry
}

func New(rooms *room.Manager, conns *registry.Registry, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Relay{opts: opts, rooms: rooms, conns: conns}
}

// checkMembership resolves the session and verifies the sender is seated in
// it. Every relay operation goes through this gate.
func (r *Relay) checkMembership(sessionID, senderConn string) (*room.Session, error) {
	s, ok := r.rooms.Get(sessionID)
	if !ok {
		return nil, ErrInvalidSession
	}
	if !s.Member(senderConn) {
		return nil, ErrNotInSession
	}
	return s, nil
}

// Signal forwards a WebRTC negotiation message (offer, answer or ICE
// candidate) to the partner, stamped with the sender's name so the client
// knows who it came from.
func (r *Relay) Signal(sessionID, senderConn, event string, payload json.RawMessage) error {
	s, err := r.checkMembership(sessionID, senderConn)
	if err != nil {
		return err
	}

	target := r.rooms.PartnerConn(sessionID, senderConn)
	if target == "" {
		r.dropUnreachable(sessionID, event)
		return nil
	}

	sender, _ := s.SlotFor(senderConn)
	delivered := r.conns.Send(target, event, map[string]any{
		"roomId":  sessionID,
		"from":    sender.Name,
		"payload": payload,
	})
	if !delivered {
		r.dropUnreachable(sessionID, event)
		return nil
	}
	r.opts.Metrics.Inc(metrics.SignalForwarded)
	return nil
}

// Chat delivers a message to every seated live member, sender included, and
// appends it to the session transcript. Echoing back to the sender keeps
// all clients rendering from the same stream.
func (r *Relay) Chat(sessionID, senderConn, text, emoji string) (room.ChatRecord, error) {
	s, err := r.checkMembership(sessionID, senderConn)
	if err != nil {
		return room.ChatRecord{}, err
	}

	sender, _ := s.SlotFor(senderConn)
	rec := room.ChatRecord{
		ID:         uuid.NewString(),
		SenderConn: senderConn,
		SenderName: sender.Name,
		Text:       text,
		Emoji:      emoji,
		Timestamp:  r.opts.Clock(),
	}
	if err := r.rooms.AppendChat(sessionID, rec); err != nil {
		return room.ChatRecord{}, err
	}

	for _, sl := range s.Slots() {
		if sl.ConnID == "" {
			continue
		}
		if !r.conns.Send(sl.ConnID, "message", rec) {
			r.opts.Metrics.Inc(metrics.DropReasonPartnerUnreachable)
		}
	}
	r.opts.Metrics.Inc(metrics.ChatForwarded)
	return rec, nil
}

// MediaFrame forwards an opaque video or audio frame to the partner.
// Oversized frames are dropped without error; media is lossy by nature and
// the sender keeps streaming.
func (r *Relay) MediaFrame(sessionID, senderConn, event string, frame []byte) error {
	s, err := r.checkMembership(sessionID, senderConn)
	if err != nil {
		return err
	}

	limit, field := r.opts.MaxVideoFrameBytes, "frame"
	if event == "audio-frame" {
		limit, field = r.opts.MaxAudioFrameBytes, "audio"
	}
	if limit > 0 && len(frame) > limit {
		r.opts.Metrics.Inc(metrics.DropReasonOversizedFrame)
		r.opts.Logger.Debug("frame dropped",
			slog.String("session_id", sessionID),
			slog.String("event", event),
			slog.Int("size", len(frame)),
			slog.Int("limit", limit),
		)
		return nil
	}

	target := r.rooms.PartnerConn(sessionID, senderConn)
	if target == "" {
		r.opts.Metrics.Inc(metrics.DropReasonPartnerUnreachable)
		return nil
	}
	sender, _ := s.SlotFor(senderConn)
	if !r.conns.Send(target, event, map[string]any{
		"roomId": sessionID,
		"from":   sender.Name,
		field:    frame,
	}) {
		r.opts.Metrics.Inc(metrics.DropReasonPartnerUnreachable)
		return nil
	}
	r.opts.Metrics.Inc(metrics.FrameForwarded)
	return nil
}

func (r *Relay) dropUnreachable(sessionID, event string) {
	r.opts.Metrics.Inc(metrics.DropReasonPartnerUnreachable)
	r.opts.Logger.Debug("relay drop, partner unreachable",
		slog.String("session_id", sessionID),
		slog.String("event", event),
	)
}
