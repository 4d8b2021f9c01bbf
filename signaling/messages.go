package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/codeclash/proctor/activity"
)

const (
	MsgTypeJoinContest     = "join-contest"
	MsgTypeOffer           = "offer"
	MsgTypeAnswer          = "answer"
	MsgTypeIceCandidate    = "ice-candidate"
	MsgTypeActivity        = "activity"
	MsgTypeParticipantJoin = "participant-joined"
	MsgTypeParticipantLeft = "participant-left"
)

// Message is the envelope for every frame on the signaling socket.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMessage(msgType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Data: raw}, nil
}

// JoinContest is the first frame a participant sends after connecting.
type JoinContest struct {
	ContestID string `json:"contestId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Offer travels proctor -> relay -> participant. Target is filled by the
// proctor, Sender by the relay before forwarding.
type Offer struct {
	Sender  string                    `json:"sender,omitempty"`
	Target  string                    `json:"target,omitempty"`
	Payload webrtc.SessionDescription `json:"payload"`
}

// Answer travels participant -> relay -> proctor.
type Answer struct {
	Sender  string                    `json:"sender,omitempty"`
	Target  string                    `json:"target,omitempty"`
	Payload webrtc.SessionDescription `json:"payload"`
}

// IceCandidate travels in both directions, addressed by Target and stamped
// with Sender by the relay.
type IceCandidate struct {
	Sender    string                  `json:"sender,omitempty"`
	Target    string                  `json:"target,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Activity carries one proctoring telemetry event from the participant to the
// relay, which forwards it to the backend.
type Activity struct {
	ContestID string         `json:"contestId"`
	SessionID string         `json:"sessionId"`
	Event     activity.Event `json:"event"`
}

// ParticipantPresence notifies proctors that a participant joined or left.
type ParticipantPresence struct {
	ContestID string `json:"contestId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}
