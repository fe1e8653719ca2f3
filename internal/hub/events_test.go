package hub

import (
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"event":"join","data":{"name":"Ali"}}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Event != "join" {
		t.Errorf("event = %q", env.Event)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"missing event", `{"data":{}}`},
		{"unknown field", `{"event":"join","extra":1}`},
		{"trailing data", `{"event":"join"}{"event":"join"}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseEnvelope([]byte(tt.raw)); err == nil {
				t.Errorf("parseEnvelope(%q) succeeded", tt.raw)
			}
		})
	}
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"join without name", validateOf(joinPayload{}), "name"},
		{"join-room without room", validateOf(joinRoomPayload{Name: "Ali"}), "roomId"},
		{"signal without payload", validateOf(signalPayload{RoomID: "r"}), "payload"},
		{"message without body", validateOf(messagePayload{RoomID: "r"}), "text or emoji"},
		{"video frame empty", validateOf(videoFramePayload{RoomID: "r"}), "frame"},
		{"audio frame empty", validateOf(audioFramePayload{RoomID: "r"}), "audio"},
		{"end-call without room", validateOf(endCallPayload{}), "roomId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatal("validate succeeded")
			}
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", tt.err, tt.want)
			}
		})
	}

	ok := []validator{
		joinPayload{Name: "Ali"},
		joinRoomPayload{RoomID: "r", Name: "Ali"},
		signalPayload{RoomID: "r", Payload: []byte(`{}`)},
		messagePayload{RoomID: "r", Emoji: "👋"},
		videoFramePayload{RoomID: "r", Frame: []byte{1}},
		audioFramePayload{RoomID: "r", Audio: []byte{1}},
		endCallPayload{RoomID: "r"},
	}
	for _, p := range ok {
		if err := p.validate(); err != nil {
			t.Errorf("validate(%T) = %v", p, err)
		}
	}
}

func validateOf(v validator) error { return v.validate() }
