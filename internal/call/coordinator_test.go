package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/duocall/duocall/internal/signaling"
)

// fakeRelay records sends and lets tests inject inbound messages.
type fakeRelay struct {
	mu           sync.Mutex
	sent         []signaling.Message
	handlers     map[int]func(signaling.Message)
	nextID       int
	connected    bool
	disconnected bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{handlers: map[int]func(signaling.Message){}}
}

func (r *fakeRelay) Connect(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return nil
}

func (r *fakeRelay) Send(ctx context.Context, msg *signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, *msg)
	return nil
}

func (r *fakeRelay) OnMessage(handler func(signaling.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

func (r *fakeRelay) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

func (r *fakeRelay) deliver(msg signaling.Message) {
	r.mu.Lock()
	handlers := make([]func(signaling.Message), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (r *fakeRelay) countKind(kind signaling.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (r *fakeRelay) lastOfKind(kind signaling.Kind) (signaling.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return signaling.Message{}, false
}

// fakeTransport emulates just enough of a session transport to drive the
// state machine.
type fakeTransport struct {
	mu        sync.Mutex
	stable    bool
	remoteSet bool
	applied   []string
	attached  int
	rollbacks int
	closed    bool
	ev        TransportEvents
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stable = false
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stable = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	t.stable = true
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteSet = true
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, c.Candidate)
	return nil
}

func (t *fakeTransport) AttachTracks(tracks []webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached++
	return nil
}

func (t *fakeTransport) Stable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.applied))
	copy(out, t.applied)
	return out
}

// fakeTransports is a factory remembering every instance it produced.
type fakeTransports struct {
	mu        sync.Mutex
	instances []*fakeTransport
}

func (f *fakeTransports) factory(ev TransportEvents) (SessionTransport, error) {
	t := &fakeTransport{stable: true, ev: ev}
	f.mu.Lock()
	f.instances = append(f.instances, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeTransports) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *fakeTransports) at(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startCoordinator(t *testing.T, selfID string) (*Coordinator, *fakeRelay, *fakeTransports) {
	t.Helper()
	relay := newFakeRelay()
	transports := &fakeTransports{}
	c := NewCoordinator(Options{
		SelfID:           selfID,
		RoomID:           "sunnyriver42",
		Relay:            relay,
		Transport:        transports.factory,
		AnnounceInterval: 10 * time.Millisecond,
		AnnounceAttempts: 3,
		Log:              zerolog.Nop(),
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)
	return c, relay, transports
}

func offerFrom(sender string) signaling.Message {
	return signaling.Message{
		Kind:     signaling.KindOffer,
		SDP:      &signaling.SessionDescription{Type: "offer", SDP: "v=0 remote"},
		RoomID:   "sunnyriver42",
		SenderID: sender,
	}
}

func answerFrom(sender string) signaling.Message {
	return signaling.Message{
		Kind:     signaling.KindAnswer,
		SDP:      &signaling.SessionDescription{Type: "answer", SDP: "v=0 remote"},
		RoomID:   "sunnyriver42",
		SenderID: sender,
	}
}

func joinFrom(sender string) signaling.Message {
	return signaling.Message{Kind: signaling.KindJoin, RoomID: "sunnyriver42", SenderID: sender}
}

func candidateFrom(sender, candidate string) signaling.Message {
	return signaling.Message{
		Kind:      signaling.KindICECandidate,
		Candidate: &signaling.Candidate{Candidate: candidate},
		RoomID:    "sunnyriver42",
		SenderID:  sender,
	}
}

func TestCoordinator_JoinTriggersNegotiationExactlyOnce(t *testing.T) {
	_, relay, _ := startCoordinator(t, "a1")

	// "a1" < "b2": the local side leads and must offer.
	relay.deliver(joinFrom("b2"))
	relay.deliver(joinFrom("b2")) // duplicate delivery of the same join

	waitFor(t, "an offer", func() bool { return relay.countKind(signaling.KindOffer) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := relay.countKind(signaling.KindOffer); got != 1 {
		t.Fatalf("sent %d offers for a duplicated join, want exactly 1", got)
	}
}

func TestCoordinator_IgnoresOwnJoin(t *testing.T) {
	c, relay, _ := startCoordinator(t, "a1")

	relay.deliver(joinFrom("a1"))

	time.Sleep(50 * time.Millisecond)
	if got := relay.countKind(signaling.KindOffer); got != 0 {
		t.Fatalf("own join triggered %d offers", got)
	}
	if st := c.Status(); st.Connecting || st.Connected {
		t.Fatalf("own join changed status: %#v", st)
	}
}

func TestCoordinator_FollowerAwaitsOfferAndAnswers(t *testing.T) {
	_, relay, transports := startCoordinator(t, "b2")

	// "b2" > "a1": the local side follows and must not offer.
	relay.deliver(joinFrom("a1"))
	waitFor(t, "the presence announcement", func() bool {
		return relay.countKind(signaling.KindJoin) >= 1
	})
	time.Sleep(50 * time.Millisecond)
	if got := relay.countKind(signaling.KindOffer); got != 0 {
		t.Fatalf("follower sent %d offers", got)
	}

	relay.deliver(offerFrom("a1"))
	waitFor(t, "an answer", func() bool { return relay.countKind(signaling.KindAnswer) == 1 })
	if !transports.at(0).remoteSet {
		t.Fatal("remote description was not set before answering")
	}
}

func TestCoordinator_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	_, relay, transports := startCoordinator(t, "b2")

	relay.deliver(joinFrom("a1"))
	relay.deliver(candidateFrom("a1", "early-1"))
	relay.deliver(candidateFrom("a1", "early-2"))

	time.Sleep(50 * time.Millisecond)
	if got := transports.at(0).appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	relay.deliver(offerFrom("a1"))
	waitFor(t, "buffered candidates to drain", func() bool {
		return len(transports.at(0).appliedCandidates()) == 2
	})
	if got := transports.at(0).appliedCandidates(); got[0] != "early-1" || got[1] != "early-2" {
		t.Fatalf("candidates applied out of order: %v", got)
	}

	// After the remote description, candidates apply immediately.
	relay.deliver(candidateFrom("a1", "late"))
	waitFor(t, "late candidate to apply", func() bool {
		applied := transports.at(0).appliedCandidates()
		return len(applied) == 3 && applied[2] == "late"
	})
}

func TestCoordinator_GlareRollsBackLocalOffer(t *testing.T) {
	_, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	// The counterpart offered simultaneously; the local offer must yield.
	relay.deliver(offerFrom("b2"))
	waitFor(t, "the rollback and answer", func() bool {
		return relay.countKind(signaling.KindAnswer) == 1
	})
	if got := transports.at(0).rollbacks; got != 1 {
		t.Fatalf("rollbacks=%d, want 1", got)
	}
}

func TestCoordinator_LeaveResetsForANewCounterpart(t *testing.T) {
	c, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	relay.deliver(candidateFrom("b2", "stale"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	relay.deliver(signaling.Message{Kind: signaling.KindLeave, RoomID: "sunnyriver42", SenderID: "b2"})
	waitFor(t, "the transport to be replaced", func() bool { return transports.count() == 2 })

	if !transports.at(0).closed {
		t.Fatal("discarded transport was not closed")
	}
	if st := c.Status(); st.Connected || st.Connecting {
		t.Fatalf("status after leave: %#v", st)
	}

	// A fresh join from a new sender re-enters negotiation; "a1" < "c3" so
	// the local side leads again.
	relay.deliver(joinFrom("c3"))
	waitFor(t, "a second offer", func() bool { return relay.countKind(signaling.KindOffer) == 2 })

	// The stale buffered candidate must not reach the new transport.
	if got := transports.at(1).appliedCandidates(); len(got) != 0 {
		t.Fatalf("stale candidates leaked into the new transport: %v", got)
	}
}

func TestCoordinator_LeaveAllowsSameSenderToRejoin(t *testing.T) {
	_, relay, _ := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the first offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	relay.deliver(signaling.Message{Kind: signaling.KindLeave, RoomID: "sunnyriver42", SenderID: "b2"})

	// The leave cleared the processed-join record, so the same identity can
	// renegotiate.
	waitFor(t, "a second offer after rejoin", func() bool {
		relay.deliver(joinFrom("b2"))
		return relay.countKind(signaling.KindOffer) == 2
	})
}

func TestCoordinator_KickIsTerminal(t *testing.T) {
	c, relay, transports := startCoordinator(t, "b2")

	var got Status
	var mu sync.Mutex
	c.OnStatus(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		got = st
	})

	relay.deliver(signaling.Message{Kind: signaling.KindKick, RoomID: "sunnyriver42", SenderID: "a1"})

	waitFor(t, "the removed status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Removed
	})
	waitFor(t, "relay release", func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return relay.disconnected
	})
	if !transports.at(0).closed {
		t.Fatal("transport survived the kick")
	}
	// Close must return promptly; the loop already exited.
	done := make(chan struct{})
	go func() { c.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close hung after kick")
	}
}

func TestCoordinator_TransportFailureReturnsToAwaiting(t *testing.T) {
	c, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	transports.at(0).ev.OnStateChange(webrtc.PeerConnectionStateFailed)

	waitFor(t, "a fresh transport", func() bool { return transports.count() == 2 })
	if !transports.at(0).closed {
		t.Fatal("failed transport was not closed")
	}
	if st := c.Status(); st.Connected || st.Connecting || st.Removed {
		t.Fatalf("status after transport failure: %#v", st)
	}
}

func TestCoordinator_ConnectedStateAndRemoteTracks(t *testing.T) {
	c, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })
	relay.deliver(answerFrom("b2"))

	if tracks := c.RemoteTracks(); tracks != nil {
		t.Fatalf("remote tracks visible before connected: %v", tracks)
	}

	transports.at(0).ev.OnStateChange(webrtc.PeerConnectionStateConnected)
	waitFor(t, "connected status", func() bool { return c.Status().Connected })

	joinsAtConnect := relay.countKind(signaling.KindJoin)
	time.Sleep(60 * time.Millisecond)
	if got := relay.countKind(signaling.KindJoin); got != joinsAtConnect {
		t.Fatalf("presence announcements continued after connect: %d -> %d", joinsAtConnect, got)
	}
}

func TestCoordinator_AnnounceBudgetExhaustionIsQuiet(t *testing.T) {
	c, relay, _ := startCoordinator(t, "a1")

	// No counterpart ever joins: exactly the configured number of join
	// attempts, then silence with no error.
	waitFor(t, "the announce budget", func() bool { return relay.countKind(signaling.KindJoin) == 3 })
	time.Sleep(60 * time.Millisecond)
	if got := relay.countKind(signaling.KindJoin); got != 3 {
		t.Fatalf("sent %d joins, want exactly 3", got)
	}
	if st := c.Status(); st.Error != "" || st.Connecting || st.Connected {
		t.Fatalf("exhausted announcer changed status: %#v", st)
	}
}

func TestCoordinator_StaleTransportEventsAreIgnored(t *testing.T) {
	c, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	transports.at(0).ev.OnStateChange(webrtc.PeerConnectionStateFailed)
	waitFor(t, "a fresh transport", func() bool { return transports.count() == 2 })

	// A late callback from the discarded transport must not disturb the
	// successor.
	transports.at(0).ev.OnStateChange(webrtc.PeerConnectionStateConnected)
	time.Sleep(50 * time.Millisecond)
	if c.Status().Connected {
		t.Fatal("stale transport event connected the session")
	}
	if transports.count() != 2 {
		t.Fatalf("stale event replaced the transport: %d instances", transports.count())
	}
}

func TestCoordinator_ForceRemovePeerSendsKick(t *testing.T) {
	c, relay, _ := startCoordinator(t, "a1")

	if err := c.ForceRemovePeer(); err != nil {
		t.Fatalf("force remove: %v", err)
	}
	if got := relay.countKind(signaling.KindKick); got != 1 {
		t.Fatalf("sent %d kicks, want 1", got)
	}
	msg, _ := relay.lastOfKind(signaling.KindKick)
	if msg.SenderID != "a1" || msg.RoomID != "sunnyriver42" {
		t.Fatalf("kick routing fields: %#v", msg)
	}
}

func TestCoordinator_CloseSendsLeaveAndReleasesEverything(t *testing.T) {
	c, relay, transports := startCoordinator(t, "a1")

	relay.deliver(joinFrom("b2"))
	waitFor(t, "the local offer", func() bool { return relay.countKind(signaling.KindOffer) == 1 })

	c.Close()

	if got := relay.countKind(signaling.KindLeave); got != 1 {
		t.Fatalf("sent %d leaves on close, want 1", got)
	}
	relay.mu.Lock()
	disconnected := relay.disconnected
	relay.mu.Unlock()
	if !disconnected {
		t.Fatal("relay not disconnected on close")
	}
	if !transports.at(transports.count() - 1).closed {
		t.Fatal("transport not closed on close")
	}
}
