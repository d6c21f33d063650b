package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestMessage_MarshalUnmarshalOffer(t *testing.T) {
	msg := Message{
		Kind: KindOffer,
		SDP: &SessionDescription{
			Type: "offer",
			SDP:  "v=0",
		},
		RoomID:   "sunnyriver42",
		SenderID: "a1",
	}

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got.Kind != KindOffer || got.SDP == nil || got.SDP.Type != "offer" || got.SDP.SDP != "v=0" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
	if got.RoomID != "sunnyriver42" || got.SenderID != "a1" {
		t.Fatalf("unexpected routing fields: %#v", got)
	}
}

func TestMessage_UnmarshalCandidate(t *testing.T) {
	raw := []byte(`{
		"kind":"ice-candidate",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		},
		"roomId":"r",
		"senderId":"p"
	}`)

	got, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != KindICECandidate || got.Candidate == nil || got.Candidate.Candidate == "" {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
}

func TestMessage_ValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown field", `{"kind":"join","roomId":"r","senderId":"p","extra":true}`},
		{"unknown kind", `{"kind":"banish","roomId":"r","senderId":"p"}`},
		{"join missing sender", `{"kind":"join","roomId":"r"}`},
		{"join missing room", `{"kind":"join","senderId":"p"}`},
		{"offer missing sdp", `{"kind":"offer","roomId":"r","senderId":"p"}`},
		{"offer with answer sdp", `{"kind":"offer","sdp":{"type":"answer","sdp":"v=0"},"roomId":"r","senderId":"p"}`},
		{"answer missing sdp", `{"kind":"answer","roomId":"r","senderId":"p"}`},
		{"candidate missing candidate", `{"kind":"ice-candidate","roomId":"r","senderId":"p"}`},
		{"kick with sdp", `{"kind":"kick","sdp":{"type":"offer","sdp":"v=0"},"roomId":"r","senderId":"p"}`},
		{"subscribed with room", `{"kind":"subscribed","roomId":"r"}`},
		{"trailing data", `{"kind":"leave","roomId":"r","senderId":"p"}{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestMessage_SubscribedAck(t *testing.T) {
	got, err := ParseMessage([]byte(`{"kind":"subscribed"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != KindSubscribed {
		t.Fatalf("kind=%q, want %q", got.Kind, KindSubscribed)
	}
}

func TestSessionDescription_PionRoundTrip(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	got, err := SDPFromPion(desc).ToPion()
	if err != nil {
		t.Fatalf("to pion: %v", err)
	}
	if got.Type != webrtc.SDPTypeAnswer || got.SDP != "v=0" {
		t.Fatalf("unexpected round trip: %#v", got)
	}

	if _, err := (SessionDescription{Type: "rollback", SDP: "v=0"}).ToPion(); err == nil {
		t.Fatal("expected error for non-offer/answer sdp type on the wire")
	}
}
