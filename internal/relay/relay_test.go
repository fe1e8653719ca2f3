package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pairwire/pairwire/internal/metrics"
	"github.com/pairwire/pairwire/internal/registry"
	"github.com/pairwire/pairwire/internal/room"
)

type recordedSend struct {
	event string
	data  any
}

type fakeConn struct {
	id   string
	sent []recordedSend
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(event string, data any) error {
	f.sent = append(f.sent, recordedSend{event, data})
	return nil
}
func (f *fakeConn) Close() error { return nil }

type env struct {
	relay   *Relay
	rooms   *room.Manager
	conns   *registry.Registry
	metrics *metrics.Metrics
	ali     *fakeConn
	veli    *fakeConn
	session *room.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		conns:   registry.New(),
		metrics: metrics.New(),
		ali:     &fakeConn{id: "conn-ali"},
		veli:    &fakeConn{id: "conn-veli"},
	}
	e.rooms = room.NewManager(room.Options{
		Metrics:       e.metrics,
		GraceUnjoined: time.Second,
		GraceJoined:   time.Second,
		Alive:         e.conns.IsAlive,
		Schedule:      func(time.Duration, func()) func() { return func() {} },
	})
	e.conns.Add(e.ali)
	e.conns.Add(e.veli)
	e.session = e.rooms.Create(
		room.Slot{Identity: "ali", ConnID: "conn-ali", Name: "Ali"},
		room.Slot{Identity: "veli", ConnID: "conn-veli", Name: "Veli"},
	)
	e.relay = New(e.rooms, e.conns, Options{
		Metrics:            e.metrics,
		MaxVideoFrameBytes: 1024,
		MaxAudioFrameBytes: 128,
	})
	return e
}

func TestSignal_ForwardsToPartnerOnly(t *testing.T) {
	e := newEnv(t)
	payload := json.RawMessage(`{"sdp":"v=0..."}`)

	if err := e.relay.Signal(e.session.ID(), "conn-ali", "offer", payload); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	if len(e.ali.sent) != 0 {
		t.Errorf("sender must not receive its own signal: %v", e.ali.sent)
	}
	if len(e.veli.sent) != 1 || e.veli.sent[0].event != "offer" {
		t.Fatalf("veli sent = %v", e.veli.sent)
	}
	data := e.veli.sent[0].data.(map[string]any)
	if data["from"] != "Ali" {
		t.Errorf("from = %v", data["from"])
	}
	if data["roomId"] != e.session.ID() {
		t.Errorf("roomId = %v", data["roomId"])
	}
}

func TestSignal_RejectsNonMember(t *testing.T) {
	e := newEnv(t)
	intruder := &fakeConn{id: "conn-x"}
	e.conns.Add(intruder)

	err := e.relay.Signal(e.session.ID(), "conn-x", "offer", nil)
	if !errors.Is(err, ErrNotInSession) {
		t.Fatalf("err = %v, want ErrNotInSession", err)
	}
	if len(e.veli.sent) != 0 {
		t.Errorf("nothing may be forwarded for a non-member: %v", e.veli.sent)
	}
}

func TestSignal_UnknownSession(t *testing.T) {
	e := newEnv(t)
	err := e.relay.Signal("nope", "conn-ali", "offer", nil)
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestSignal_DeadPartnerDropsSilently(t *testing.T) {
	e := newEnv(t)
	e.conns.Remove("conn-veli")

	if err := e.relay.Signal(e.session.ID(), "conn-ali", "ice-candidate", nil); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if got := e.metrics.Get(metrics.DropReasonPartnerUnreachable); got != 1 {
		t.Errorf("unreachable drops = %d, want 1", got)
	}
}

func TestChat_BroadcastsToBothAndRecords(t *testing.T) {
	e := newEnv(t)

	rec, err := e.relay.Chat(e.session.ID(), "conn-veli", "selam", "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if rec.SenderName != "Veli" || rec.ID == "" {
		t.Errorf("rec = %+v", rec)
	}

	// Both sides see the message, sender included.
	if len(e.ali.sent) != 1 || e.ali.sent[0].event != "message" {
		t.Errorf("ali sent = %v", e.ali.sent)
	}
	if len(e.veli.sent) != 1 {
		t.Errorf("veli sent = %v", e.veli.sent)
	}

	tr := e.rooms.Transcript(e.session.ID())
	if len(tr) != 1 || tr[0].Text != "selam" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestChat_RejectsNonMember(t *testing.T) {
	e := newEnv(t)
	intruder := &fakeConn{id: "conn-x"}
	e.conns.Add(intruder)

	_, err := e.relay.Chat(e.session.ID(), "conn-x", "hi", "")
	if !errors.Is(err, ErrNotInSession) {
		t.Fatalf("err = %v", err)
	}
	if len(e.rooms.Transcript(e.session.ID())) != 0 {
		t.Error("non-member chat must not reach the transcript")
	}
}

func TestMediaFrame_ForwardsWithinCap(t *testing.T) {
	e := newEnv(t)
	frame := bytes.Repeat([]byte{0xAB}, 512)

	if err := e.relay.MediaFrame(e.session.ID(), "conn-ali", "video-frame", frame); err != nil {
		t.Fatalf("MediaFrame: %v", err)
	}
	if len(e.veli.sent) != 1 || e.veli.sent[0].event != "video-frame" {
		t.Fatalf("veli sent = %v", e.veli.sent)
	}
	data := e.veli.sent[0].data.(map[string]any)
	if _, ok := data["frame"]; !ok {
		t.Errorf("missing frame field: %v", data)
	}
}

func TestMediaFrame_OversizedDropsWithoutError(t *testing.T) {
	e := newEnv(t)

	err := e.relay.MediaFrame(e.session.ID(), "conn-ali", "audio-frame", bytes.Repeat([]byte{1}, 129))
	if err != nil {
		t.Fatalf("oversized frame must not error: %v", err)
	}
	if len(e.veli.sent) != 0 {
		t.Errorf("oversized frame must not be forwarded: %v", e.veli.sent)
	}
	if got := e.metrics.Get(metrics.DropReasonOversizedFrame); got != 1 {
		t.Errorf("oversized drops = %d", got)
	}

	// The audio cap is tighter than the video cap.
	if err := e.relay.MediaFrame(e.session.ID(), "conn-ali", "video-frame", bytes.Repeat([]byte{1}, 129)); err != nil {
		t.Fatalf("MediaFrame: %v", err)
	}
	if len(e.veli.sent) != 1 {
		t.Errorf("video frame under its own cap must pass: %v", e.veli.sent)
	}
}

func TestMediaFrame_RejectsNonMember(t *testing.T) {
	e := newEnv(t)
	err := e.relay.MediaFrame(e.session.ID(), "conn-x", "video-frame", []byte{1})
	if !errors.Is(err, ErrNotInSession) {
		t.Fatalf("err = %v", err)
	}
}
