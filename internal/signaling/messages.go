package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Kind discriminates the signaling messages exchanged through a room's relay
// channel.
type Kind string

const (
	KindJoin         Kind = "join"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindLeave        Kind = "leave"
	KindKick         Kind = "kick"

	// KindSubscribed is the relay's subscription acknowledgment. It is a
	// control frame between the relay and its own client; it never carries a
	// room or sender and is not forwarded to other subscribers.
	KindSubscribed Kind = "subscribed"
)

// SessionDescription is a JSON-friendly SDP offer/answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SDPFromPion converts a pion session description into its wire form.
func SDPFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

// ToPion converts the wire form back into a pion session description.
func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is a JSON-friendly trickle ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateFromPion converts a pion candidate init into its wire form.
func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// ToPion converts the wire form back into a pion candidate init.
func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is one signaling frame on the relay channel.
//
// Offer/Answer carry SDP, ICECandidate carries Candidate, and Join/Leave/Kick
// carry neither. Every peer message names its room and sender; the relay ack
// (KindSubscribed) carries nothing at all.
type Message struct {
	Kind      Kind                `json:"kind"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`

	RoomID   string `json:"roomId,omitempty"`
	SenderID string `json:"senderId,omitempty"`
}

// ParseMessage decodes and validates a single signaling frame. Unknown fields
// and trailing data are rejected.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// Validate checks the per-kind field constraints.
func (m Message) Validate() error {
	if m.Kind == KindSubscribed {
		if m.SDP != nil || m.Candidate != nil || m.RoomID != "" || m.SenderID != "" {
			return fmt.Errorf("subscribed ack has unexpected fields")
		}
		return nil
	}

	if m.RoomID == "" {
		return fmt.Errorf("%s message missing roomId", m.Kind)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%s message missing senderId", m.Kind)
	}

	switch m.Kind {
	case KindOffer:
		if m.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if m.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case KindAnswer:
		if m.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if m.SDP.Type != "answer" {
			return fmt.Errorf("answer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case KindICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.SDP != nil {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case KindJoin, KindLeave, KindKick:
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Kind)
		}
	default:
		return fmt.Errorf("unsupported message kind %q", m.Kind)
	}
	return nil
}
