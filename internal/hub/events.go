package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Wire protocol: every frame is a JSON envelope {"event": ..., "data": ...}.
const (
	// Inbound events.
	eventJoin          = "join"
	eventStartMatching = "start-matching"
	eventNextPartner   = "next-partner"
	eventJoinRoom      = "join-room"
	eventOffer         = "offer"
	eventAnswer        = "answer"
	eventICECandidate  = "ice-candidate"
	eventSendMessage   = "send-message"
	eventVideoFrame    = "video-frame"
	eventAudioFrame    = "audio-frame"
	eventEndCall       = "end-call"

	// Outbound events.
	eventJoined              = "joined"
	eventMatchingStarted     = "matching-started"
	eventMatched             = "matched"
	eventRoomJoined          = "room-joined"
	eventMessage             = "message"
	eventCallEnded           = "call-ended"
	eventPartnerLeft         = "partner-left"
	eventPartnerDisconnected = "partner-disconnected"
	eventNextPartnerStarted  = "next-partner-started"
	eventError               = "error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := decodeStrictJSON(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Event == "" {
		return envelope{}, fmt.Errorf("missing event")
	}
	return env, nil
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

type joinPayload struct {
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name"`
	Surname  string `json:"surname,omitempty"`
}

func (p joinPayload) validate() error {
	if p.Name == "" {
		return fmt.Errorf("join requires a name")
	}
	return nil
}

type joinRoomPayload struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Surname string `json:"surname,omitempty"`
}

func (p joinRoomPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("join-room requires roomId")
	}
	if p.Name == "" {
		return fmt.Errorf("join-room requires a name")
	}
	return nil
}

type signalPayload struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

func (p signalPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("signal requires roomId")
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("signal requires a payload")
	}
	return nil
}

type messagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text,omitempty"`
	Emoji  string `json:"emoji,omitempty"`
}

func (p messagePayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("send-message requires roomId")
	}
	if p.Text == "" && p.Emoji == "" {
		return fmt.Errorf("send-message requires text or emoji")
	}
	return nil
}

type videoFramePayload struct {
	RoomID string `json:"roomId"`
	Frame  []byte `json:"frame"`
}

func (p videoFramePayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("video-frame requires roomId")
	}
	if len(p.Frame) == 0 {
		return fmt.Errorf("video-frame requires frame data")
	}
	return nil
}

type audioFramePayload struct {
	RoomID string `json:"roomId"`
	Audio  []byte `json:"audio"`
}

func (p audioFramePayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("audio-frame requires roomId")
	}
	if len(p.Audio) == 0 {
		return fmt.Errorf("audio-frame requires audio data")
	}
	return nil
}

type endCallPayload struct {
	RoomID string `json:"roomId"`
}

func (p endCallPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("end-call requires roomId")
	}
	return nil
}
