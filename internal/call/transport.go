package call

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// TransportEvents are the transport callbacks the Coordinator feeds into its
// event loop. They may be invoked from pion's internal goroutines; the
// Coordinator serializes them itself.
type TransportEvents struct {
	OnLocalCandidate func(webrtc.ICECandidateInit)
	OnStateChange    func(webrtc.PeerConnectionState)
	OnRemoteTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// SessionTransport is one negotiation attempt and, if it succeeds, the
// resulting direct channel. The Coordinator owns at most one live instance;
// Close invalidates it and a successor is always a new instance.
type SessionTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	Rollback() error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AttachTracks([]webrtc.TrackLocal) error
	Stable() bool
	Close() error
}

// TransportFactory builds a fresh SessionTransport wired to ev.
type TransportFactory func(ev TransportEvents) (SessionTransport, error)

// NewWebRTCAPI builds the pion API used for all of a process's transports,
// with pion's internal logging routed through lf.
func NewWebRTCAPI(lf logging.LoggerFactory) *webrtc.API {
	se := webrtc.SettingEngine{LoggerFactory: lf}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// NewPionTransportFactory returns a factory producing PeerConnections from
// api (or pion's default API when nil) against the given ICE servers.
func NewPionTransportFactory(api *webrtc.API, iceServers []webrtc.ICEServer) TransportFactory {
	return func(ev TransportEvents) (SessionTransport, error) {
		a := api
		if a == nil {
			a = webrtc.NewAPI()
		}
		pc, err := a.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		t := &pionTransport{
			pc:      pc,
			senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				// End-of-candidates marker; nothing to trickle.
				return
			}
			if ev.OnLocalCandidate != nil {
				ev.OnLocalCandidate(c.ToJSON())
			}
		})
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			if ev.OnStateChange != nil {
				ev.OnStateChange(state)
			}
		})
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			if ev.OnRemoteTrack != nil {
				ev.OnRemoteTrack(track, receiver)
			}
		})

		return t, nil
	}
}

// pionTransport owns one *webrtc.PeerConnection.
type pionTransport struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender

	closeOnce sync.Once
	closeErr  error
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (t *pionTransport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// AttachTracks binds local tracks to the connection, replacing a previously
// bound track of the same kind rather than adding a second sender. Safe to
// call again when the media handle changes late.
func (t *pionTransport) AttachTracks(tracks []webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, track := range tracks {
		if sender, ok := t.senders[track.Kind()]; ok {
			if err := sender.ReplaceTrack(track); err != nil {
				return fmt.Errorf("replace %s track: %w", track.Kind(), err)
			}
			continue
		}
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		t.senders[track.Kind()] = sender
	}
	return nil
}

func (t *pionTransport) Stable() bool {
	return t.pc.SignalingState() == webrtc.SignalingStateStable
}

func (t *pionTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}
